package audit_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
)

func newStore(t *testing.T, opts ...audit.Option) *audit.Store {
	t.Helper()
	return audit.NewStore(filepath.Join(t.TempDir(), "audit.jsonl"), opts...)
}

func appendN(t *testing.T, s *audit.Store, n int) []*audit.Record {
	t.Helper()
	out := make([]*audit.Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := s.Append(context.Background(), audit.EventInput{
			Action:  fmt.Sprintf("Batch Step %d", i),
			Module:  "batch",
			Details: map[string]interface{}{"step": i, "note": strings.Repeat("x", i%7)},
		})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestAppendDefaults(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	s := newStore(t, audit.WithClock(func() time.Time { return fixed }))

	rec, err := s.Append(context.Background(), audit.EventInput{Action: "Login", Module: "system"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rec.ID, fmt.Sprintf("AUD-%d-", fixed.UnixMilli())), rec.ID)
	assert.Equal(t, "2026-03-04T05:06:07.008Z", rec.Timestamp)
	assert.Equal(t, audit.DefaultUserID, rec.UserID)
	assert.Equal(t, audit.DefaultRole, rec.UserRole)
	assert.Equal(t, audit.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, "", rec.Details)
	assert.Nil(t, rec.RecordID)
	assert.Nil(t, rec.DigitalSignature)
	assert.Nil(t, rec.PrevHash)
	assert.Len(t, rec.Hash, 64)
}

func TestAppendKeepsCallerFields(t *testing.T) {
	s := newStore(t)
	recordID := "DEV-0042"
	sig := "sig-base64"
	rec, err := s.Append(context.Background(), audit.EventInput{
		ID:               "AUD-custom",
		Timestamp:        "2025-01-02T03:04:05.000Z",
		UserID:           "u-17",
		UserRole:         "Quality Approver",
		Action:           "Deviation Created",
		Module:           "quality",
		Details:          "Temperature excursion in line 3",
		RecordID:         &recordID,
		IPAddress:        "10.0.0.7",
		SessionID:        "sess-1",
		Outcome:          audit.OutcomeWarning,
		DigitalSignature: &sig,
	})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), "AUD-custom")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, "DEV-0042", *got.RecordID)
	assert.Equal(t, "Quality Approver", got.UserRole)
}

func TestGetNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, audit.ErrNotFound)
}

func TestDeterministicBinding(t *testing.T) {
	s := newStore(t)
	in := audit.EventInput{Action: "Login", Module: "system", UserID: "alice"}

	first, err := s.Append(context.Background(), in)
	require.NoError(t, err)
	second, err := s.Append(context.Background(), in)
	require.NoError(t, err)

	assert.Nil(t, first.PrevHash)
	require.NotNil(t, second.PrevHash)
	assert.Equal(t, first.Hash, *second.PrevHash)

	for _, rec := range []*audit.Record{first, second} {
		again, err := audit.ComputeHash(rec.PrevHash, rec)
		require.NoError(t, err)
		assert.Equal(t, rec.Hash, again)
	}

	// The persisted form reproduces the same hash once decoded.
	stored, err := s.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, rec := range stored {
		again, err := audit.ComputeHash(rec.PrevHash, &rec)
		require.NoError(t, err)
		assert.Equal(t, rec.Hash, again)
	}
}

func TestTailDiscoverySpansChunks(t *testing.T) {
	for _, chunk := range []int{64, 513, 0} {
		t.Run(fmt.Sprintf("chunk=%d", chunk), func(t *testing.T) {
			s := newStore(t, audit.WithChunkSize(chunk))
			recs := appendN(t, s, 60)

			info, err := os.Stat(s.Path())
			require.NoError(t, err)
			require.Greater(t, info.Size(), int64(8*1024), "log must span several 8 KiB blocks")

			tail, err := s.TailHash(context.Background())
			require.NoError(t, err)
			require.NotNil(t, tail)
			assert.Equal(t, recs[len(recs)-1].Hash, *tail)

			fresh := audit.NewStore(s.Path(), audit.WithChunkSize(chunk))
			tail, err = fresh.TailHash(context.Background())
			require.NoError(t, err)
			assert.Equal(t, recs[len(recs)-1].Hash, *tail)
		})
	}
}

func TestTailHashEmptyAndMissing(t *testing.T) {
	s := newStore(t)
	tail, err := s.TailHash(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tail)

	require.NoError(t, os.WriteFile(s.Path(), []byte("\n\n"), 0o600))
	tail, err = s.TailHash(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tail)
}

func TestTailHashSkipsTrailingGarbage(t *testing.T) {
	s := newStore(t)
	recs := appendN(t, s, 3)

	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{\"id\":\"half-writ")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tail, err := s.TailHash(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, recs[2].Hash, *tail)
}

func TestQueryFiltering(t *testing.T) {
	s := newStore(t)
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		_, err := s.Append(context.Background(), audit.EventInput{
			ID:        fmt.Sprintf("AUD-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Hour).Format(audit.TimestampLayout),
			Action:    "Review",
			Module:    "quality",
		})
		require.NoError(t, err)
	}

	from := base.Add(1 * time.Hour)
	to := base.Add(4 * time.Hour)

	got, err := s.Query(context.Background(), audit.Filter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, []string{"AUD-4", "AUD-3", "AUD-2", "AUD-1"}, ids(got))

	got, err = s.Query(context.Background(), audit.Filter{From: &from, To: &to, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"AUD-4", "AUD-3"}, ids(got))

	got, err = s.Query(context.Background(), audit.Filter{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"AUD-5", "AUD-4", "AUD-3"}, ids(got))

	for _, rec := range got {
		ts, err := rec.Time()
		require.NoError(t, err)
		assert.False(t, ts.Before(base))
	}
}

func TestAppendNormalizesTimestamps(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	forms := map[string]string{
		"2024-01-15T10:00:00":            "2024-01-15T10:00:00.000Z",
		"2024-01-15":                     "2024-01-15T00:00:00.000Z",
		"2024-01-15T10:00:00.000Z":       "2024-01-15T10:00:00.000Z",
		"2024-01-15T12:30:00.25+02:00":   "2024-01-15T10:30:00.250Z",
		"2024-01-15T10:00:00.123456789Z": "2024-01-15T10:00:00.123Z",
	}
	for in, want := range forms {
		rec, err := s.Append(ctx, audit.EventInput{Action: "Review", Module: "quality", Timestamp: in})
		require.NoError(t, err, in)
		assert.Equal(t, want, rec.Timestamp, in)
	}

	for _, bad := range []string{"not-a-date", "15/01/2024", "2024-13-01"} {
		_, err := s.Append(ctx, audit.EventInput{Action: "Review", Module: "quality", Timestamp: bad})
		assert.ErrorIs(t, err, audit.ErrInvalidTimestamp, bad)
	}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.Query(ctx, audit.Filter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, got, len(forms))

	res, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, len(forms), res.N)
}

func TestQueryNonexistentLog(t *testing.T) {
	s := newStore(t)
	got, err := s.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestQuerySkipsMalformedLines(t *testing.T) {
	s := newStore(t)
	appendN(t, s, 2)

	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n{\"id\":\"no-hash\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	appendN(t, s, 1)

	got, err := s.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestConcurrentAppendsKeepSingleChain(t *testing.T) {
	s := newStore(t, audit.WithChunkSize(256))

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.Append(context.Background(), audit.EventInput{
					Action: fmt.Sprintf("worker-%d-%d", w, i),
					Module: "load",
				})
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	res, err := s.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Valid, "reason: %s at %d", res.Reason, res.AtIndex)
	assert.Equal(t, workers*perWorker, res.N)
}

func TestStoredLineShape(t *testing.T) {
	s := newStore(t)
	_, err := s.Append(context.Background(), audit.EventInput{Action: "Login", Module: "system"})
	require.NoError(t, err)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	for _, k := range []string{"id", "timestamp", "userId", "userRole", "action", "module", "details",
		"recordId", "ipAddress", "sessionId", "outcome", "digitalSignature", "hash", "prevHash"} {
		assert.Contains(t, m, k)
	}
	assert.Nil(t, m["prevHash"])
}

func ids(recs []audit.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
