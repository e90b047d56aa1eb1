package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/besteffort"
)

// SaveOutcome is the result of one best-effort archival. Callers that do not care
// simply drop the channel it arrives on.
type SaveOutcome struct {
	Kind       string
	Result     *SaveResult
	Err        error
	ReplicaErr error
}

// Dispatcher archives records off the request path and mirrors them to replicas.
type Dispatcher struct {
	archive  *Archive
	group    *besteffort.Group
	replicas []Replica
}

// NewDispatcher returns a Dispatcher running saves on g.
func NewDispatcher(a *Archive, g *besteffort.Group, replicas ...Replica) *Dispatcher {
	return &Dispatcher{archive: a, group: g, replicas: replicas}
}

// Archive returns the underlying archive.
func (d *Dispatcher) Archive() *Archive { return d.archive }

// Submit schedules rec for archival under kind and returns immediately. The
// outcome channel is buffered and receives exactly one value.
func (d *Dispatcher) Submit(kind string, rec Archivable) <-chan SaveOutcome {
	out := make(chan SaveOutcome, 1)
	d.group.Go("archive."+kind, func(ctx context.Context) error {
		res, err := d.archive.Save(ctx, kind, rec)
		if err != nil {
			out <- SaveOutcome{Kind: kind, Err: err}
			if errors.Is(err, ErrConflict) {
				log.Warn().Err(err).Str("kind", kind).Str("id", rec.ArchiveID()).Msg("archive.Dispatcher: already archived")
				return nil
			}
			return err
		}
		repErr := d.replicate(ctx, res)
		out <- SaveOutcome{Kind: kind, Result: res, ReplicaErr: repErr}
		return repErr
	})
	return out
}

func (d *Dispatcher) replicate(ctx context.Context, res *SaveResult) error {
	var errs []error
	for _, r := range d.replicas {
		for _, obj := range objectsFor(res) {
			if err := r.Put(ctx, obj); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", r.Name(), obj.Key, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until in-flight archival finishes or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	return d.group.Wait(ctx)
}
