package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/canonical"
)

// HashBytes computes the SHA-256 digest bytes for input data.
func HashBytes(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// HashHex returns the hex-encoded SHA-256 of the input bytes.
func HashHex(b []byte) string {
	return hex.EncodeToString(HashBytes(b))
}

// CanonicalFields returns the canonical bytes of every field of r except hash and prevHash,
// in the fixed record order.
func CanonicalFields(r *Record) ([]byte, error) {
	return canonical.MarshalFields([]canonical.Field{
		{Name: "id", Value: r.ID},
		{Name: "timestamp", Value: r.Timestamp},
		{Name: "userId", Value: r.UserID},
		{Name: "userRole", Value: r.UserRole},
		{Name: "action", Value: r.Action},
		{Name: "module", Value: r.Module},
		{Name: "details", Value: r.Details},
		{Name: "recordId", Value: r.RecordID},
		{Name: "ipAddress", Value: r.IPAddress},
		{Name: "sessionId", Value: r.SessionID},
		{Name: "outcome", Value: r.Outcome},
		{Name: "digitalSignature", Value: r.DigitalSignature},
	})
}

// ComputeHash returns hex(SHA-256(prevHash || canonical fields)). A nil prevHash
// contributes no bytes.
func ComputeHash(prevHash *string, r *Record) (string, error) {
	canon, err := CanonicalFields(r)
	if err != nil {
		return "", err
	}
	var concat []byte
	if prevHash != nil {
		concat = append(concat, *prevHash...)
	}
	concat = append(concat, canon...)
	return HashHex(concat), nil
}
