package anchor

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/keys"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/signer"
)

// Recorder persists anchors.
type Recorder interface {
	Record(ctx context.Context, a *Anchor) error
}

// Lister loads anchors for verification.
type Lister interface {
	List(ctx context.Context) ([]Anchor, error)
}

// Walker iterates the audit log; *audit.Store satisfies it.
type Walker interface {
	Walk(ctx context.Context, fn func(index int, rec *audit.Record) error) error
}

// Anchorer signs and records chain heads.
type Anchorer struct {
	store  Recorder
	signer signer.Signer
}

// NewAnchorer returns an Anchorer.
func NewAnchorer(store Recorder, s signer.Signer) *Anchorer {
	return &Anchorer{store: store, signer: s}
}

// Anchor signs rec's hash and records it as the current chain head.
func (a *Anchorer) Anchor(ctx context.Context, rec *audit.Record) error {
	raw, err := hex.DecodeString(rec.Hash)
	if err != nil {
		return fmt.Errorf("decode record hash: %w", err)
	}
	sig, signerID, err := a.signer.Sign(raw)
	if err != nil {
		return fmt.Errorf("sign chain head: %w", err)
	}
	return a.store.Record(ctx, &Anchor{
		RecordID:  rec.ID,
		Hash:      rec.Hash,
		Signature: base64.StdEncoding.EncodeToString(sig),
		SignerID:  signerID,
	})
}

// Finding is one anchor that failed verification.
type Finding struct {
	AnchorID string `json:"anchorId"`
	RecordID string `json:"recordId"`
	Hash     string `json:"hash"`
	Error    string `json:"error"`
}

// Report is the outcome of cross-checking anchors against the log.
type Report struct {
	OK           bool      `json:"ok"`
	Checked      int       `json:"checked"`
	LogRecords   int       `json:"logRecords"`
	Missing      []Finding `json:"missing"`
	BadSignature []Finding `json:"badSignature"`
}

// Verifier checks recorded anchors.
type Verifier struct {
	store Lister
	keys  keys.Lookup
}

// NewVerifier returns a Verifier resolving signer keys through lookup.
func NewVerifier(store Lister, lookup keys.Lookup) *Verifier {
	return &Verifier{store: store, keys: lookup}
}

// Verify loads every anchor, checks its signature, and confirms the anchored
// hash still appears in the log under the same record id. Findings are data;
// the error is reserved for storage failures.
func (v *Verifier) Verify(ctx context.Context, log Walker) (*Report, error) {
	anchors, err := v.store.List(ctx)
	if err != nil {
		return nil, err
	}

	inLog := make(map[string]string)
	n := 0
	err = log.Walk(ctx, func(_ int, rec *audit.Record) error {
		inLog[rec.Hash] = rec.ID
		n++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk audit log: %w", err)
	}

	rep := &Report{OK: true, LogRecords: n, Missing: []Finding{}, BadSignature: []Finding{}}
	for _, a := range anchors {
		rep.Checked++
		f := Finding{AnchorID: a.ID, RecordID: a.RecordID, Hash: a.Hash}

		if err := v.checkSignature(ctx, a); err != nil {
			f.Error = err.Error()
			rep.BadSignature = append(rep.BadSignature, f)
			rep.OK = false
			continue
		}
		id, ok := inLog[a.Hash]
		switch {
		case !ok:
			f.Error = "anchored hash not found in audit log"
		case id != a.RecordID:
			f.Error = fmt.Sprintf("anchored hash belongs to record %s", id)
		default:
			continue
		}
		rep.Missing = append(rep.Missing, f)
		rep.OK = false
	}
	return rep, nil
}

func (v *Verifier) checkSignature(ctx context.Context, a Anchor) error {
	pub, err := v.keys.PublicKey(ctx, a.SignerID)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(a.Hash)
	if err != nil {
		return fmt.Errorf("decode anchored hash: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !ed25519.Verify(pub, raw, sig) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}
