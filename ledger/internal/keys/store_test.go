package keys

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ledger_signers").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, mock
}

func TestStoreAddSigner(t *testing.T) {
	s, mock := newMockStore(t)
	pub := []byte("0123456789abcdef0123456789abcdef")

	mock.ExpectExec("INSERT INTO ledger_signers").
		WithArgs("anchor-1", "Ed25519", base64.StdEncoding.EncodeToString(pub)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.AddSigner(context.Background(), "anchor-1", pub, "Ed25519"); err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStorePublicKey(t *testing.T) {
	s, mock := newMockStore(t)
	pub := []byte("0123456789abcdef0123456789abcdef")
	cols := []string{"signer_id", "algorithm", "public_key", "created_at"}

	mock.ExpectQuery("SELECT signer_id, algorithm, public_key, created_at FROM ledger_signers WHERE").
		WithArgs("anchor-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("anchor-1", "Ed25519", base64.StdEncoding.EncodeToString(pub), time.Now()))
	mock.ExpectQuery("SELECT signer_id, algorithm, public_key, created_at FROM ledger_signers WHERE").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))

	got, err := s.PublicKey(context.Background(), "anchor-1")
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if string(got) != string(pub) {
		t.Fatalf("unexpected key %x", got)
	}

	if _, err := s.PublicKey(context.Background(), "missing"); !errors.Is(err, ErrUnknownSigner) {
		t.Fatalf("expected ErrUnknownSigner, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreListSigners(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT signer_id, algorithm, public_key, created_at FROM ledger_signers ORDER BY").
		WillReturnRows(sqlmock.NewRows([]string{"signer_id", "algorithm", "public_key", "created_at"}).
			AddRow("b", "Ed25519", "AAAA", now).
			AddRow("a", "Ed25519", "BBBB", now.Add(-time.Hour)))

	list, err := s.ListSigners(context.Background())
	if err != nil {
		t.Fatalf("ListSigners: %v", err)
	}
	if len(list) != 2 || list[0].SignerId != "b" {
		t.Fatalf("unexpected list: %+v", list)
	}
}
