package metrics_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/metrics"
)

func f64(v float64) *float64 { return &v }

func TestAppendDefaults(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	s := metrics.NewStore(filepath.Join(t.TempDir(), "metrics.jsonl"), metrics.WithClock(func() time.Time { return now }))

	p, err := s.Append(context.Background(), metrics.PointInput{})
	require.NoError(t, err)
	assert.Equal(t, &metrics.Point{T: 1_700_000_000_123, Threshold: metrics.DefaultThreshold}, p)
}

func TestAppendKeepsValues(t *testing.T) {
	s := metrics.NewStore(filepath.Join(t.TempDir(), "metrics.jsonl"))

	p, err := s.Append(context.Background(), metrics.PointInput{
		T: f64(42), ID: "model-a", N: f64(120), AUROC: f64(0.91), Brier: f64(0.08), ECE: f64(0.03), Threshold: f64(0),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.T)
	assert.Equal(t, int64(120), p.N)
	assert.Equal(t, 0.91, p.AUROC)
	assert.Equal(t, 0.0, p.Threshold, "an explicit zero threshold is kept")

	got, err := s.Query(context.Background(), metrics.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *p, got[0])
}

func TestQueryWindowOrderAndCap(t *testing.T) {
	s := metrics.NewStore(filepath.Join(t.TempDir(), "metrics.jsonl"), metrics.WithChunkSize(32))
	for i := 1; i <= 10; i++ {
		_, err := s.Append(context.Background(), metrics.PointInput{T: f64(float64(i * 100)), ID: fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
	}

	from, to := int64(300), int64(700)
	got, err := s.Query(context.Background(), metrics.Filter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, int64(700), got[0].T)
	assert.Equal(t, int64(300), got[4].T)

	got, err = s.Query(context.Background(), metrics.Filter{From: &from, To: &to, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"p7", "p6"}, []string{got[0].ID, got[1].ID})
}

func TestQueryDefaultCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < metrics.DefaultQueryLimit+25; i++ {
		_, err := fmt.Fprintf(f, "{\"t\":%d,\"id\":\"\",\"n\":0,\"auroc\":0,\"brier\":0,\"ece\":0,\"threshold\":0.5}\n", i)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	got, err := metrics.NewStore(path).Query(context.Background(), metrics.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, metrics.DefaultQueryLimit)
	assert.Equal(t, int64(metrics.DefaultQueryLimit+24), got[0].T)
}

func TestQueryMissingLogAndGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	s := metrics.NewStore(path)

	got, err := s.Query(context.Background(), metrics.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(path, []byte("garbage\n{\"t\":5}\n"), 0o600))
	got, err = s.Query(context.Background(), metrics.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].T)
}

func TestArchiveTime(t *testing.T) {
	p := metrics.Point{T: 1_700_000_000_000, ID: "x"}
	ts, ok := p.ArchiveTime()
	assert.True(t, ok)
	assert.Equal(t, "20231114", ts.Format("20060102"))
	assert.Equal(t, "x", p.ArchiveID())
}
