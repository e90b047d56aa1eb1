package keys

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Store is a Postgres-backed signer registry.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store and ensures the signers table exists.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS ledger_signers (
  signer_id text PRIMARY KEY,
  algorithm text NOT NULL,
  public_key text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ledger_signers_created_at ON ledger_signers (created_at DESC);
`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure signers table: %w", err)
	}
	return nil
}

// AddSigner inserts a signer record. A signer id keeps its first key: anchors
// already signed under it must remain verifiable.
func (s *Store) AddSigner(ctx context.Context, signerId string, pubKey []byte, algorithm string) error {
	pubB64 := base64.StdEncoding.EncodeToString(pubKey)
	const q = `
INSERT INTO ledger_signers (signer_id, algorithm, public_key, created_at)
VALUES ($1,$2,$3, now())
ON CONFLICT (signer_id) DO NOTHING
`
	if _, err := s.db.ExecContext(ctx, q, signerId, algorithm, pubB64); err != nil {
		return fmt.Errorf("insert signer: %w", err)
	}
	return nil
}

// GetSigner fetches a signer by id. Returns (KeyInfo, true, nil) if found, (nil,false,nil) if not found.
func (s *Store) GetSigner(ctx context.Context, signerId string) (*KeyInfo, bool, error) {
	const q = `SELECT signer_id, algorithm, public_key, created_at FROM ledger_signers WHERE signer_id=$1`
	row := s.db.QueryRowContext(ctx, q, signerId)
	var (
		id        string
		alg       string
		pubB64    string
		createdAt time.Time
	)
	if err := row.Scan(&id, &alg, &pubB64, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query signer: %w", err)
	}
	return &KeyInfo{
		SignerId:  id,
		Algorithm: alg,
		PublicKey: pubB64,
		CreatedAt: createdAt,
	}, true, nil
}

// PublicKey implements Lookup.
func (s *Store) PublicKey(ctx context.Context, signerId string) (ed25519.PublicKey, error) {
	ki, ok, err := s.GetSigner(ctx, signerId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, signerId)
	}
	return ki.Ed25519()
}

// ListSigners returns all registered signers ordered by created_at desc.
func (s *Store) ListSigners(ctx context.Context) ([]KeyInfo, error) {
	const q = `SELECT signer_id, algorithm, public_key, created_at FROM ledger_signers ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query signers: %w", err)
	}
	defer rows.Close()

	out := make([]KeyInfo, 0)
	for rows.Next() {
		var id, alg, pubB64 string
		var createdAt time.Time
		if err := rows.Scan(&id, &alg, &pubB64, &createdAt); err != nil {
			return nil, fmt.Errorf("scan signer row: %w", err)
		}
		out = append(out, KeyInfo{
			SignerId:  id,
			Algorithm: alg,
			PublicKey: pubB64,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
