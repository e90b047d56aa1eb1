package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/canonical"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/linefile"
)

// Store is the file-backed hash-chain log. The line file is the only source of truth:
// every append re-reads the tail hash from disk, and the mutex makes the
// tail read, hash and append sequence a single critical section per store.
type Store struct {
	path      string
	chunkSize int
	perm      os.FileMode
	now       func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the block size of the backward tail scan.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithClock replaces the clock used for defaulted ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFileMode sets the permission bits used when the log file is created.
func WithFileMode(perm os.FileMode) Option {
	return func(s *Store) { s.perm = perm }
}

// NewStore returns a Store appending to the line file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:      path,
		chunkSize: linefile.DefaultChunkSize,
		perm:      0o600,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the backing log file.
func (s *Store) Path() string { return s.path }

// Append materializes in into a full record, binds it to the current tail and
// persists it as one line. The returned record is exactly what was written.
func (s *Store) Append(ctx context.Context, in EventInput) (*Record, error) {
	rec, err := s.materialize(in)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.tailHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("read tail hash: %w", err)
	}
	rec.PrevHash = prev
	rec.Hash, err = ComputeHash(prev, rec)
	if err != nil {
		return nil, fmt.Errorf("compute hash: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal audit record: %w", err)
	}
	if err := linefile.Append(s.path, line, s.perm); err != nil {
		return nil, fmt.Errorf("append audit record: %w", err)
	}
	return rec, nil
}

// TailHash returns the hash of the most recent parseable record, or nil for an
// empty or missing log.
func (s *Store) TailHash(ctx context.Context) (*string, error) {
	return s.tailHash(ctx)
}

func (s *Store) tailHash(ctx context.Context) (*string, error) {
	var hash *string
	_, err := linefile.LastMatch(ctx, s.path, s.chunkSize, func(line []byte) bool {
		rec, ok := parseRecord(line)
		if !ok {
			return false
		}
		h := rec.Hash
		hash = &h
		return true
	})
	if err != nil {
		return nil, err
	}
	return hash, nil
}

// Query returns records whose timestamp lies in [From, To], newest first, stopping
// after Limit matches. Malformed lines are skipped; a missing log yields no records.
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	out := make([]Record, 0)
	err := linefile.ScanBackward(ctx, s.path, s.chunkSize, func(line []byte) error {
		rec, ok := parseRecord(line)
		if !ok || !inWindow(rec, f) {
			return nil
		}
		out = append(out, *rec)
		if len(out) >= limit {
			return linefile.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return out, nil
}

// Get returns the newest record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var found *Record
	err := linefile.ScanBackward(ctx, s.path, s.chunkSize, func(line []byte) error {
		rec, ok := parseRecord(line)
		if ok && rec.ID == id {
			found = rec
			return linefile.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Walk calls fn for every parseable record in log order. index counts parseable
// records only.
func (s *Store) Walk(ctx context.Context, fn func(index int, rec *Record) error) error {
	i := 0
	return linefile.ScanForward(ctx, s.path, func(line []byte) error {
		rec, ok := parseRecord(line)
		if !ok {
			return nil
		}
		if err := fn(i, rec); err != nil {
			return err
		}
		i++
		return nil
	})
}

func inWindow(rec *Record, f Filter) bool {
	if f.From == nil && f.To == nil {
		return true
	}
	ts, err := rec.Time()
	if err != nil {
		return false
	}
	if f.From != nil && ts.Before(*f.From) {
		return false
	}
	if f.To != nil && ts.After(*f.To) {
		return false
	}
	return true
}

// materialize fills defaults and rewrites the timestamp in TimestampLayout. Details
// is normalized so the value hashed here is the value a later reader decodes from
// the line.
func (s *Store) materialize(in EventInput) (*Record, error) {
	now := s.now()

	details := in.Details
	if details == nil {
		details = ""
	}
	norm, err := canonical.Normalize(details)
	if err != nil {
		return nil, fmt.Errorf("normalize details: %w", err)
	}

	rec := &Record{
		ID:               clean(in.ID),
		Timestamp:        clean(in.Timestamp),
		UserID:           clean(in.UserID),
		UserRole:         clean(in.UserRole),
		Action:           clean(in.Action),
		Module:           clean(in.Module),
		Details:          norm,
		RecordID:         cleanPtr(in.RecordID),
		IPAddress:        clean(in.IPAddress),
		SessionID:        clean(in.SessionID),
		Outcome:          clean(in.Outcome),
		DigitalSignature: cleanPtr(in.DigitalSignature),
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("AUD-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
	}
	if rec.Timestamp == "" {
		rec.Timestamp = now.UTC().Format(TimestampLayout)
	} else if rec.Timestamp, err = NormalizeTimestamp(rec.Timestamp); err != nil {
		return nil, err
	}
	if rec.UserID == "" {
		rec.UserID = DefaultUserID
	}
	if rec.UserRole == "" {
		rec.UserRole = DefaultRole
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeSuccess
	}
	return rec, nil
}

func clean(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func cleanPtr(s *string) *string {
	if s == nil {
		return nil
	}
	c := clean(*s)
	return &c
}

// parseRecord decodes one log line; only lines carrying a hash count as records.
func parseRecord(line []byte) (*Record, bool) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, false
	}
	if rec.Hash == "" {
		return nil, false
	}
	return &rec, true
}
