// Package anchor records signed chain heads in Postgres and checks them against
// the audit log. The hash chain alone cannot reveal a log whose newest records
// were cut off; an anchor whose hash is absent from the log can.
package anchor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Anchor is one signed chain head.
type Anchor struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"recordId"`
	Hash       string    `json:"hash"`
	Signature  string    `json:"signature"` // base64 Ed25519 over the raw hash bytes
	SignerID   string    `json:"signerId"`
	AnchoredAt time.Time `json:"anchoredAt"`
}

// Schema mirrors sql/migrations/001_anchors.sql.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_anchors (
  id uuid PRIMARY KEY,
  record_id text NOT NULL,
  hash text NOT NULL,
  signature text NOT NULL,
  signer_id text NOT NULL,
  anchored_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ledger_anchors_anchored_at ON ledger_anchors (anchored_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_anchors_hash ON ledger_anchors (hash);
`

// PGStore persists anchors into Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed anchor store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the anchors table when missing.
func (p *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure anchors schema: %w", err)
	}
	return nil
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Record inserts a. Missing id and timestamp are filled in. Re-anchoring a hash
// that is already recorded is a no-op.
func (p *PGStore) Record(ctx context.Context, a *Anchor) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AnchoredAt.IsZero() {
		a.AnchoredAt = time.Now().UTC()
	}
	q := `
		INSERT INTO ledger_anchors (id, record_id, hash, signature, signer_id, anchored_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hash) DO NOTHING
	`
	if _, err := p.db.ExecContext(ctx, q, a.ID, a.RecordID, a.Hash, a.Signature, a.SignerID, a.AnchoredAt); err != nil {
		return fmt.Errorf("insert anchor: %w", err)
	}
	return nil
}

// List returns every anchor, oldest first.
func (p *PGStore) List(ctx context.Context) ([]Anchor, error) {
	q := `SELECT id, record_id, hash, signature, signer_id, anchored_at FROM ledger_anchors ORDER BY anchored_at ASC`
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query anchors: %w", err)
	}
	defer rows.Close()

	out := make([]Anchor, 0)
	for rows.Next() {
		var a Anchor
		if err := rows.Scan(&a.ID, &a.RecordID, &a.Hash, &a.Signature, &a.SignerID, &a.AnchoredAt); err != nil {
			return nil, fmt.Errorf("scan anchor row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
