// Package audit contains the hash-chained audit log of regulated actions.
package audit

import (
	"errors"
	"fmt"
	"time"
)

// Outcome values accepted for an audit record.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeWarning = "warning"
)

// DefaultRole is stored when the caller does not name a role.
const DefaultRole = "User"

// DefaultUserID is stored when the caller does not name a user.
const DefaultUserID = "system"

// TimestampLayout is the ISO-8601 layout every stored timestamp is written in.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Accepted timestamp forms. Forms without an offset are read as UTC.
var timestampForms = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ErrInvalidTimestamp is returned when a caller-supplied timestamp is not ISO-8601.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Record is one stored audit record. Timestamp is kept as the exact string that was
// hashed so verification never depends on time formatting.
type Record struct {
	ID               string      `json:"id"`
	Timestamp        string      `json:"timestamp"`
	UserID           string      `json:"userId"`
	UserRole         string      `json:"userRole"`
	Action           string      `json:"action"`
	Module           string      `json:"module"`
	Details          interface{} `json:"details"`
	RecordID         *string     `json:"recordId"`
	IPAddress        string      `json:"ipAddress"`
	SessionID        string      `json:"sessionId"`
	Outcome          string      `json:"outcome"`
	DigitalSignature *string     `json:"digitalSignature"`
	Hash             string      `json:"hash"`
	PrevHash         *string     `json:"prevHash"`
}

// EventInput is the loosely-typed event a caller submits. Empty strings and nil
// values are replaced with defaults on append.
type EventInput struct {
	ID               string      `json:"id,omitempty"`
	Timestamp        string      `json:"timestamp,omitempty"`
	UserID           string      `json:"userId,omitempty"`
	UserRole         string      `json:"userRole,omitempty"`
	Action           string      `json:"action"`
	Module           string      `json:"module"`
	Details          interface{} `json:"details,omitempty"`
	RecordID         *string     `json:"recordId,omitempty"`
	IPAddress        string      `json:"ipAddress,omitempty"`
	SessionID        string      `json:"sessionId,omitempty"`
	Outcome          string      `json:"outcome,omitempty"`
	DigitalSignature *string     `json:"digitalSignature,omitempty"`
}

// Filter bounds a query. Nil bounds are open; Limit <= 0 selects DefaultQueryLimit.
type Filter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

// DefaultQueryLimit caps Query results when no limit is given.
const DefaultQueryLimit = 500

// ErrNotFound is returned when a requested audit record cannot be located.
var ErrNotFound = errors.New("not found")

// ValidOutcome reports whether o is one of the accepted outcome values.
func ValidOutcome(o string) bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeWarning:
		return true
	}
	return false
}

// ParseTimestamp parses an ISO-8601 instant, date-time without offset, or date.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampForms {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// NormalizeTimestamp rewrites s in TimestampLayout at UTC with millisecond precision.
func NormalizeTimestamp(s string) (string, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(TimestampLayout), nil
}

// Time parses the record timestamp.
func (r *Record) Time() (time.Time, error) {
	return ParseTimestamp(r.Timestamp)
}

// ArchiveID names the record inside the archive.
func (r *Record) ArchiveID() string { return r.ID }

// ArchiveTime places the record on an archive calendar day.
func (r *Record) ArchiveTime() (time.Time, bool) {
	t, err := r.Time()
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
