package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/linefile"
)

// MessageChainBroken is the verification message for any detected break.
const MessageChainBroken = "Hash chain broken"

// Reasons attached to a broken chain.
const (
	ReasonMalformed    = "malformed record"
	ReasonLinkMismatch = "prevHash does not match the preceding record"
	ReasonHashMismatch = "stored hash does not match recomputed hash"
)

// VerifyResult is the integrity verdict for the whole log. When Valid, N is the
// number of records; otherwise AtIndex is the first broken record.
type VerifyResult struct {
	Valid   bool
	N       int
	AtIndex int
	Message string
	Reason  string
}

// MarshalJSON emits {valid, n} or {valid, atIndex, message, reason}.
func (v VerifyResult) MarshalJSON() ([]byte, error) {
	if v.Valid {
		return json.Marshal(struct {
			Valid bool `json:"valid"`
			N     int  `json:"n"`
		}{true, v.N})
	}
	return json.Marshal(struct {
		Valid   bool   `json:"valid"`
		AtIndex int    `json:"atIndex"`
		Message string `json:"message"`
		Reason  string `json:"reason,omitempty"`
	}{false, v.AtIndex, v.Message, v.Reason})
}

// Verify walks the log from the start. For each record the expected hash is
// recomputed from the previous expected hash, and the stored prevHash must equal
// that previous hash. The walk stops at the first break: the chain is then proven
// intact only up to AtIndex-1. Integrity findings are returned as data; the error is
// reserved for I/O failures.
func (s *Store) Verify(ctx context.Context) (VerifyResult, error) {
	var (
		expected *string
		index    int
		result   *VerifyResult
	)

	broken := func(reason string) error {
		result = &VerifyResult{Valid: false, AtIndex: index, Message: MessageChainBroken, Reason: reason}
		return linefile.ErrStop
	}

	err := linefile.ScanForward(ctx, s.path, func(line []byte) error {
		rec, ok := parseRecord(line)
		if !ok {
			return broken(ReasonMalformed)
		}
		if !sameHash(rec.PrevHash, expected) {
			return broken(ReasonLinkMismatch)
		}
		computed, err := ComputeHash(expected, rec)
		if err != nil {
			return broken(ReasonMalformed)
		}
		if computed != rec.Hash {
			return broken(ReasonHashMismatch)
		}
		expected = &computed
		index++
		return nil
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify audit log: %w", err)
	}
	if result != nil {
		return *result, nil
	}
	return VerifyResult{Valid: true, N: index}, nil
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
