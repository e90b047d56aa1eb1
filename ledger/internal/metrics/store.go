// Package metrics stores model-quality snapshots as an append-only line file.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/linefile"
)

// DefaultThreshold is stored when a point carries no decision threshold.
const DefaultThreshold = 0.5

// DefaultQueryLimit caps Query results when no limit is given.
const DefaultQueryLimit = 1000

// Point is one stored measurement snapshot. T is epoch milliseconds.
type Point struct {
	T         int64   `json:"t"`
	ID        string  `json:"id"`
	N         int64   `json:"n"`
	AUROC     float64 `json:"auroc"`
	Brier     float64 `json:"brier"`
	ECE       float64 `json:"ece"`
	Threshold float64 `json:"threshold"`
}

// PointInput is a submitted point; nil fields take defaults.
type PointInput struct {
	T         *float64 `json:"t,omitempty"`
	ID        string   `json:"id,omitempty"`
	N         *float64 `json:"n,omitempty"`
	AUROC     *float64 `json:"auroc,omitempty"`
	Brier     *float64 `json:"brier,omitempty"`
	ECE       *float64 `json:"ece,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Filter bounds a query on T, inclusive. Limit <= 0 selects DefaultQueryLimit.
type Filter struct {
	From  *int64
	To    *int64
	Limit int
}

// ArchiveID names the point inside the archive.
func (p *Point) ArchiveID() string { return p.ID }

// ArchiveTime places the point on an archive calendar day.
func (p *Point) ArchiveTime() (time.Time, bool) {
	return time.UnixMilli(p.T).UTC(), true
}

// Store is the file-backed metrics log.
type Store struct {
	path      string
	chunkSize int
	now       func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the block size of the backward scan.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithClock replaces the clock used for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a Store appending to the line file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{path: path, chunkSize: linefile.DefaultChunkSize, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the backing log file.
func (s *Store) Path() string { return s.path }

// Append fills defaults and writes the point as one line.
func (s *Store) Append(ctx context.Context, in PointInput) (*Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := &Point{
		T:         s.now().UnixMilli(),
		ID:        strings.ToValidUTF8(in.ID, "\uFFFD"),
		N:         int64(orZero(in.N)),
		AUROC:     orZero(in.AUROC),
		Brier:     orZero(in.Brier),
		ECE:       orZero(in.ECE),
		Threshold: DefaultThreshold,
	}
	if in.T != nil {
		p.T = int64(*in.T)
	}
	if in.Threshold != nil {
		p.Threshold = *in.Threshold
	}

	line, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal metric point: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := linefile.Append(s.path, line, 0o600); err != nil {
		return nil, fmt.Errorf("append metric point: %w", err)
	}
	return p, nil
}

// Query returns points with From <= t <= To, newest first, capped at Limit.
func (s *Store) Query(ctx context.Context, f Filter) ([]Point, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	out := make([]Point, 0)
	err := linefile.ScanBackward(ctx, s.path, s.chunkSize, func(line []byte) error {
		var p Point
		if err := json.Unmarshal(line, &p); err != nil {
			return nil
		}
		if f.From != nil && p.T < *f.From {
			return nil
		}
		if f.To != nil && p.T > *f.To {
			return nil
		}
		out = append(out, p)
		if len(out) >= limit {
			return linefile.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query metrics log: %w", err)
	}
	return out, nil
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
