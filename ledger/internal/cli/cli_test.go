package cli

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/archive"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/metrics"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/signer"
)

type fixture struct {
	dir     string
	audit   *audit.Store
	metrics *metrics.Store
	archive *archive.Archive
	records []*audit.Record
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		audit:   audit.NewStore(filepath.Join(dir, "audit.jsonl")),
		metrics: metrics.NewStore(filepath.Join(dir, "metrics.jsonl")),
		archive: archive.New(filepath.Join(dir, "archive")),
	}
	ctx := context.Background()
	for _, ev := range []audit.EventInput{
		{Action: "Login", Module: "system", Timestamp: "2026-02-01T09:00:00.000Z"},
		{Action: "Deviation Created", Module: "quality", Timestamp: "2026-02-02T09:00:00.000Z"},
		{Action: "CAPA Approved", Module: "capa", Timestamp: "2026-02-03T09:00:00.000Z"},
	} {
		rec, err := f.audit.Append(ctx, ev)
		require.NoError(t, err)
		f.records = append(f.records, rec)
	}
	for i := int64(1); i <= 3; i++ {
		tm := float64(i * 1000)
		_, err := f.metrics.Append(ctx, metrics.PointInput{T: &tm, ID: "run"})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return f.runWithInput(t, "", args...)
}

func (f *fixture) runWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{
		"--audit-log", f.audit.Path(),
		"--metrics-log", f.metrics.Path(),
		"--archive-root", f.archive.Root(),
		"--chunk-size", "64",
	}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestVerifyCommand(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "chain valid: 3 records")

	out, err = f.run(t, "--format", "json", "verify")
	require.NoError(t, err)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Valid bool `json:"valid"`
			N     int  `json:"n"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.N)
}

func TestVerifyCommandBrokenChain(t *testing.T) {
	f := newFixture(t)
	raw, err := os.ReadFile(f.audit.Path())
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"module":"quality"`, `"module":"qa"`, 1)
	require.NoError(t, os.WriteFile(f.audit.Path(), []byte(tampered), 0o600))

	out, err := f.run(t, "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Hash chain broken at index 1")
}

func TestQueryCommand(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "query", "--limit", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "CAPA Approved")
	assert.Contains(t, lines[1], "Deviation Created")

	out, err = f.run(t, "query", "--from", "2026-02-02", "--to", "2026-02-02T23:59:59Z")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, f.records[1].ID)

	_, err = f.run(t, "query", "--from", "last tuesday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTailCommand(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "tail")
	require.NoError(t, err)
	assert.Equal(t, f.records[2].Hash+"\n", out)

	empty := &fixture{
		audit:   audit.NewStore(filepath.Join(t.TempDir(), "none.jsonl")),
		metrics: f.metrics,
		archive: f.archive,
	}
	out, err = empty.run(t, "--format", "json", "tail")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"hash":null}}`, out)
}

func TestArchiveStatusCommand(t *testing.T) {
	f := newFixture(t)
	res, err := f.archive.Save(context.Background(), "audit", f.records[0])
	require.NoError(t, err)

	out, err := f.run(t, "archive", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "files: 1")
	assert.Contains(t, out, "  audit: 1")
	assert.Contains(t, out, "  metrics: 0")
	assert.Contains(t, out, "verify: ok (1 checked)")

	require.NoError(t, os.Chmod(res.Path, 0o600))
	require.NoError(t, os.WriteFile(res.Path, []byte(`{"id":"forged"}`), 0o600))

	out, err = f.run(t, "archive", "status")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "verify: FAILED (1 of 1)")
	assert.Contains(t, out, res.Path)
}

func TestMetricsQueryCommand(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "metrics", "query", "--from", "2000")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "3000  run"))
	assert.Contains(t, lines[0], "threshold=0.5")
}

func TestInvalidFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "--format", "yaml", "verify")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAnchorsVerifyCommand(t *testing.T) {
	f := newFixture(t)
	sgn := signer.NewLocalSigner("anchor-1")

	anchorRow := func(id string, rec *audit.Record, hash string) []driver.Value {
		raw, err := hex.DecodeString(hash)
		require.NoError(t, err)
		sig, _, err := sgn.Sign(raw)
		require.NoError(t, err)
		return []driver.Value{id, rec.ID, hash, base64.StdEncoding.EncodeToString(sig), "anchor-1", time.Now()}
	}
	// The second anchor names a head that was cut from the log.
	truncated := strings.Repeat("ab", 32)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ledger_signers").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, record_id, hash, signature, signer_id, anchored_at FROM ledger_anchors").
		WillReturnRows(sqlmock.NewRows([]string{"id", "record_id", "hash", "signature", "signer_id", "anchored_at"}).
			AddRow(anchorRow("a1", f.records[2], f.records[2].Hash)...).
			AddRow(anchorRow("a2", f.records[2], truncated)...))
	signerQuery := regexp.QuoteMeta("SELECT signer_id, algorithm, public_key, created_at FROM ledger_signers WHERE signer_id=$1")
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(signerQuery).WithArgs("anchor-1").
			WillReturnRows(sqlmock.NewRows([]string{"signer_id", "algorithm", "public_key", "created_at"}).
				AddRow("anchor-1", signer.Algorithm, base64.StdEncoding.EncodeToString(sgn.PublicKey()), time.Now()))
	}

	prev := openDB
	openDB = func(string) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = prev })

	out, err := f.run(t, "--database-url", "postgres://ledger@test/ledger", "anchors", "verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "anchors: FAILED (2 checked against 3 log records)")
	assert.Contains(t, out, "missing a2")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAnchorsVerifyNeedsDatabase(t *testing.T) {
	t.Setenv("LEDGER_DATABASE_URL", "")
	f := newFixture(t)
	_, err := f.run(t, "anchors", "verify")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHashCommand(t *testing.T) {
	f := newFixture(t)
	raw, err := os.ReadFile(f.audit.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)

	path := filepath.Join(f.dir, "record.json")
	require.NoError(t, os.WriteFile(path, []byte(lines[1]), 0o600))
	out, err := f.run(t, "hash", path)
	require.NoError(t, err)
	assert.Contains(t, out, "computed:  "+f.records[1].Hash)
	assert.Contains(t, out, `"action":"Deviation Created"`)
	assert.True(t, strings.HasSuffix(out, "match\n"))

	out, err = f.runWithInput(t, lines[2], "--format", "json", "hash")
	require.NoError(t, err)
	var resp struct {
		Data HashResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Match)
	assert.Equal(t, f.records[2].ID, resp.Data.ID)
	require.NotNil(t, resp.Data.PrevHash)
	assert.Equal(t, f.records[1].Hash, *resp.Data.PrevHash)

	tampered := strings.Replace(lines[1], `"module":"quality"`, `"module":"qa"`, 1)
	out, err = f.runWithInput(t, tampered, "hash", "-")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "MISMATCH")

	_, err = f.runWithInput(t, "{not json", "hash")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestKeygenCommand(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "--format", "json", "keygen", "--signer-id", "anchor-9")
	require.NoError(t, err)
	var resp struct {
		Data KeygenResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "anchor-9", resp.Data.SignerID)
	assert.Equal(t, signer.Algorithm, resp.Data.Algorithm)

	s, err := signer.NewLocalSignerFromSeed("anchor-9", resp.Data.Seed)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(s.PublicKey()), resp.Data.PublicKey)

	out, err = f.run(t, "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, "LEDGER_ANCHOR_SIGNER_ID=ledger-anchor-1\n")
	assert.Contains(t, out, "LEDGER_ANCHOR_SIGNING_KEY=")
}
