// Package archive writes write-once copies of stored records with SHA-256 sidecars
// and verifies them on demand.
//
// Layout under the root:
//
//	<kind>/<YYYYMMDD>/<epochMillis>-<id>.json
//	<kind>/<YYYYMMDD>/<epochMillis>-<id>.json.sha256
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// ErrConflict is returned when a destination already exists. The existing file is
// left untouched.
var ErrConflict = errors.New("archive: destination exists")

// ErrInvalidKind is returned for kind names that are not a single safe path segment.
var ErrInvalidKind = errors.New("archive: invalid kind")

// SidecarSuffix is appended to a content file name to form its checksum sidecar.
const SidecarSuffix = ".sha256"

// NoID replaces a missing record id in file names.
const NoID = "noid"

// DayLayout names day directories.
const DayLayout = "20060102"

const readOnly fs.FileMode = 0o444

var (
	kindPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// Archivable is a stored record that can be placed in the archive.
type Archivable interface {
	ArchiveID() string
	// ArchiveTime returns the record's own timestamp; false means none is usable.
	ArchiveTime() (time.Time, bool)
}

// SaveResult describes one archived record.
type SaveResult struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	RelPath string `json:"relPath"`
	SHA256  string `json:"sha256"`

	// Content and Sidecar are the exact bytes written, kept for replicas.
	Content []byte `json:"-"`
	Sidecar []byte `json:"-"`
}

// Archive is a WORM directory tree rooted at a single path.
type Archive struct {
	root  string
	kinds []string
	now   func() time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithKinds sets the kinds always reported by Status, even before anything is saved.
func WithKinds(kinds ...string) Option {
	return func(a *Archive) { a.kinds = append([]string(nil), kinds...) }
}

// WithClock replaces the clock used for records without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an Archive rooted at root. The directory is created on first save.
func New(root string, opts ...Option) *Archive {
	a := &Archive{root: root, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Root returns the archive root directory.
func (a *Archive) Root() string { return a.root }

// ValidKind reports whether kind can name an archive partition.
func ValidKind(kind string) bool { return kindPattern.MatchString(kind) }

// Save writes rec under kind as pretty JSON plus its checksum sidecar. Both files
// are created exclusively and made read-only. A second save for the same
// (timestamp, id) fails with ErrConflict.
func (a *Archive) Save(ctx context.Context, kind string, rec Archivable) (*SaveResult, error) {
	if !ValidKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ts, ok := rec.ArchiveTime()
	if !ok {
		ts = a.now()
	}
	ts = ts.UTC()

	id := rec.ArchiveID()
	if id == "" {
		id = NoID
	}
	id = safeID(id)

	content, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal archive record: %w", err)
	}

	rel := filepath.Join(kind, ts.Format(DayLayout), fmt.Sprintf("%d-%s.json", ts.UnixMilli(), id))
	path := filepath.Join(a.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	if err := writeOnce(path, content); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])
	sidecar := []byte(fmt.Sprintf("%s  %s\n", digest, filepath.Base(path)))
	if err := writeOnce(path+SidecarSuffix, sidecar); err != nil {
		// A content file is never left behind without its sidecar.
		if rerr := os.Remove(path); rerr != nil {
			return nil, fmt.Errorf("%w (content file left at %s: %v)", err, path, rerr)
		}
		return nil, err
	}

	return &SaveResult{
		Kind:    kind,
		Path:    path,
		RelPath: filepath.ToSlash(rel),
		SHA256:  digest,
		Content: content,
		Sidecar: sidecar,
	}, nil
}

// safeID returns id unchanged when it is path-safe. Otherwise unsafe characters
// become '_' and a digest of the raw id is appended, so distinct ids never share
// a file name.
func safeID(id string) string {
	clean := unsafeIDChars.ReplaceAllString(id, "_")
	if clean == id {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	return clean + "-" + hex.EncodeToString(sum[:4])
}

// writeOnce creates path exclusively, writes data and marks it read-only. A file
// that could not be fully written is removed so it never reads as archived.
func writeOnce(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s: %w", ErrConflict, path, err)
		}
		return fmt.Errorf("create archive file: %w", err)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write archive file: %w", err)
	}
	if err := os.Chmod(path, readOnly); err != nil {
		return fmt.Errorf("mark archive file read-only: %w", err)
	}
	return nil
}

// Failure is one archive file whose digest could not be confirmed.
type Failure struct {
	Path     string `json:"path"`
	Expected string `json:"expected,omitempty"`
	Computed string `json:"computed,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VerifyResult summarises the checksum pass over the whole tree.
type VerifyResult struct {
	OK      bool      `json:"ok"`
	Checked int       `json:"checked"`
	Failed  []Failure `json:"failed"`
}

// Status is the archive's self-audit.
type Status struct {
	Root       string         `json:"root"`
	TotalFiles int            `json:"totalFiles"`
	Kinds      map[string]int `json:"kinds"`
	Verify     VerifyResult   `json:"verify"`
}

// Status counts archived files per kind and recomputes every file's digest against
// its sidecar. Mismatches are reported in the result, not as an error.
func (a *Archive) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Root:   a.root,
		Kinds:  make(map[string]int),
		Verify: VerifyResult{OK: true, Failed: []Failure{}},
	}

	kinds, err := a.listKinds()
	if err != nil {
		return nil, err
	}
	for _, kind := range kinds {
		st.Kinds[kind] = 0
		dir := filepath.Join(a.root, kind)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if d.IsDir() || filepath.Ext(path) != ".json" {
				return nil
			}
			st.Kinds[kind]++
			st.TotalFiles++
			st.Verify.Checked++
			if f := checkFile(path); f != nil {
				st.Verify.OK = false
				st.Verify.Failed = append(st.Verify.Failed, *f)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk archive kind %s: %w", kind, err)
		}
	}
	return st, nil
}

// listKinds merges the configured kinds with kind directories present on disk.
func (a *Archive) listKinds() ([]string, error) {
	seen := make(map[string]bool)
	for _, k := range a.kinds {
		seen[k] = true
	}
	entries, err := os.ReadDir(a.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read archive root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && ValidKind(e.Name()) {
			seen[e.Name()] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func checkFile(path string) *Failure {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Failure{Path: path, Error: err.Error()}
	}
	sum := sha256.Sum256(data)
	computed := hex.EncodeToString(sum[:])

	side, err := os.ReadFile(path + SidecarSuffix)
	if err != nil {
		return &Failure{Path: path, Computed: computed, Error: fmt.Sprintf("read sidecar: %v", err)}
	}
	expected := parseSidecar(side)
	if expected == "" {
		return &Failure{Path: path, Computed: computed, Error: "sidecar has no digest"}
	}
	if expected != computed {
		return &Failure{Path: path, Expected: expected, Computed: computed}
	}
	return nil
}

// parseSidecar returns the digest field of a "<hex>  <name>" sidecar.
func parseSidecar(b []byte) string {
	for i, c := range b {
		if c == ' ' || c == '\t' || c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}
