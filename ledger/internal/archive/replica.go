package archive

import (
	"context"
	"errors"
	"time"
)

// ErrObjectExists is returned by a Replica when the object key is already taken.
var ErrObjectExists = errors.New("archive: replica object exists")

// Object is one file mirrored to a replica.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	// SHA256 is the hex digest of Body, forwarded to stores that check integrity.
	SHA256 string
}

// Replica mirrors archive files to object storage. Implementations must refuse to
// overwrite an existing key.
type Replica interface {
	Name() string
	Put(ctx context.Context, obj Object) error
}

// Retention describes object-lock retention applied by replicas that support it.
type Retention struct {
	Days int
}

// Until returns the retain-until instant relative to now, or the zero time when
// retention is disabled.
func (r Retention) Until(now time.Time) time.Time {
	if r.Days <= 0 {
		return time.Time{}
	}
	return now.UTC().AddDate(0, 0, r.Days)
}

// objectsFor turns a local save into the content and sidecar objects, keyed by
// their path relative to the archive root.
func objectsFor(res *SaveResult) []Object {
	key := res.RelPath
	return []Object{
		{Key: key, Body: res.Content, ContentType: "application/json", SHA256: res.SHA256},
		{Key: key + SidecarSuffix, Body: res.Sidecar, ContentType: "text/plain; charset=utf-8"},
	}
}
