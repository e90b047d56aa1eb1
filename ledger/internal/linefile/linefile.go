// Package linefile holds the primitives shared by the line-delimited ledger stores:
// single-write appends, forward iteration and a backward chunked line scan.
package linefile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultChunkSize is the block size used when reading a file backward.
const DefaultChunkSize = 8 * 1024

// ErrStop may be returned by a scan callback to end the scan early without error.
var ErrStop = errors.New("linefile: stop")

// Append writes line followed by '\n' to path with a single Write on an O_APPEND
// descriptor, creating the file (and its directory) when missing. The record is
// either fully written or the call fails.
func Append(path string, line []byte, perm os.FileMode) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return fmt.Errorf("linefile: line contains a newline")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, perm)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	buf := make([]byte, len(line)+1)
	copy(buf, line)
	buf[len(line)] = '\n'

	n, err := f.Write(buf)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// ScanForward calls fn for every non-blank line of path in file order.
// A missing file is treated as empty. Returning ErrStop from fn ends the scan cleanly.
func ScanForward(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, DefaultChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, rerr := r.ReadBytes('\n')
		if trimmed := trimLine(line); len(trimmed) > 0 {
			if err := fn(trimmed); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read log: %w", rerr)
		}
	}
}

// ScanBackward calls fn for every non-blank line of path from the last line to the
// first, reading chunkSize bytes at a time. A missing file is treated as empty.
func ScanBackward(ctx context.Context, path string, chunkSize int, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat log: %w", err)
	}

	rs := NewReverseScanner(f, st.Size(), chunkSize)
	for rs.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rs.Line()); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return rs.Err()
}

// LastMatch returns the last line of path accepted by match, or nil when no line
// (or no file) qualifies.
func LastMatch(ctx context.Context, path string, chunkSize int, match func(line []byte) bool) ([]byte, error) {
	var found []byte
	err := ScanBackward(ctx, path, chunkSize, func(line []byte) error {
		if match(line) {
			found = line
			return ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ReverseScanner yields the lines of a ReaderAt from last to first. Each block read
// from the end is prepended to the carried partial line; the complete lines it
// closes are handed out newest first before the next block is read.
type ReverseScanner struct {
	r       io.ReaderAt
	pos     int64
	chunk   int
	partial []byte
	pending [][]byte
	line    []byte
	err     error
}

// NewReverseScanner scans the first size bytes of r. chunkSize <= 0 selects DefaultChunkSize.
func NewReverseScanner(r io.ReaderAt, size int64, chunkSize int) *ReverseScanner {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReverseScanner{r: r, pos: size, chunk: chunkSize}
}

// Scan advances to the previous non-blank line. It returns false at the start of
// the input or on a read error.
func (s *ReverseScanner) Scan() bool {
	for {
		if n := len(s.pending); n > 0 {
			s.line = s.pending[n-1]
			s.pending = s.pending[:n-1]
			return true
		}
		if s.err != nil {
			return false
		}
		if s.pos == 0 {
			// Whatever is left is the first line of the input.
			rest := trimLine(s.partial)
			s.partial = nil
			if len(rest) == 0 {
				return false
			}
			s.line = rest
			return true
		}

		n := int64(s.chunk)
		if n > s.pos {
			n = s.pos
		}
		s.pos -= n
		block := make([]byte, n, n+int64(len(s.partial)))
		if _, err := s.r.ReadAt(block, s.pos); err != nil && !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("read log block at %d: %w", s.pos, err)
			return false
		}
		buf := append(block, s.partial...)

		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			s.partial = buf
			continue
		}
		s.partial = buf[:idx]
		for _, l := range bytes.Split(buf[idx+1:], []byte{'\n'}) {
			if t := trimLine(l); len(t) > 0 {
				s.pending = append(s.pending, t)
			}
		}
	}
}

// Line returns the current line. The slice stays valid after further calls to Scan.
func (s *ReverseScanner) Line() []byte { return s.line }

// Err returns the first read error encountered.
func (s *ReverseScanner) Err() error { return s.err }

func trimLine(b []byte) []byte {
	return bytes.TrimSpace(b)
}
