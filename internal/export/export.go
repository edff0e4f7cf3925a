// Package export writes the runs of an instance as CSV to a local file or
// an S3 object.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/exar/internal/archive"
	"github.com/roach88/exar/internal/model"
	"github.com/roach88/exar/internal/render"
)

// Sink receives one exported document.
type Sink interface {
	Put(ctx context.Context, r io.Reader) error
	String() string
}

// Target is a parsed export destination.
type Target struct {
	Scheme string // "file" or "s3"
	Bucket string // s3 only
	Path   string // file path, or object key for s3
}

func (t Target) String() string {
	if t.Scheme == "s3" {
		return "s3://" + t.Bucket + "/" + t.Path
	}
	return t.Path
}

// ParseTarget accepts file:///abs/path, s3://bucket/key, or a bare path.
func ParseTarget(dest string) (Target, error) {
	if dest == "" {
		return Target{}, fmt.Errorf("export target is empty")
	}
	if !strings.Contains(dest, "://") {
		return Target{Scheme: "file", Path: dest}, nil
	}
	u, err := url.Parse(dest)
	if err != nil {
		return Target{}, fmt.Errorf("export target %q: %w", dest, err)
	}
	switch u.Scheme {
	case "file":
		path := u.Path
		if u.Host != "" {
			// file://relative/path
			path = u.Host + u.Path
		}
		if path == "" {
			return Target{}, fmt.Errorf("export target %q: missing path", dest)
		}
		return Target{Scheme: "file", Path: path}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Target{}, fmt.Errorf("export target %q: want s3://bucket/key", dest)
		}
		return Target{Scheme: "s3", Bucket: u.Host, Path: key}, nil
	}
	return Target{}, fmt.Errorf("export target %q: unsupported scheme %q", dest, u.Scheme)
}

// Open returns the sink for dest. S3 sinks are configured from the
// environment (see LoadS3Config).
func Open(ctx context.Context, dest string) (Sink, error) {
	t, err := ParseTarget(dest)
	if err != nil {
		return nil, err
	}
	if t.Scheme == "file" {
		return FileSink{Path: t.Path}, nil
	}
	cfg, err := LoadS3Config()
	if err != nil {
		return nil, err
	}
	return NewS3Sink(ctx, cfg, t.Bucket, t.Path)
}

// FileSink writes to a local file, replacing it atomically.
type FileSink struct {
	Path string
}

func (s FileSink) String() string { return s.Path }

// Put writes r to a temporary file next to Path and renames it into place.
func (s FileSink) Put(_ context.Context, r io.Reader) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export %s: %w", s.Path, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("export %s: %w", s.Path, err)
	}
	defer os.Remove(tmp.Name()) // No-op after rename

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("export %s: write: %w", s.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("export %s: close: %w", s.Path, err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("export %s: %w", s.Path, err)
	}
	return nil
}

// WriteRuns writes runs as CSV: id, date, then one column per output variable.
func WriteRuns(w io.Writer, runs []model.RunSummary) error {
	return render.WriteCSV(w, render.Runs(runs).Table())
}

// Instance exports every run of instanceID to sink and returns the number
// of runs written.
func Instance(ctx context.Context, r *archive.Reader, instanceID string, sink Sink) (int, error) {
	runs, err := r.Runs(ctx, instanceID, archive.Filter{})
	if err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	if err := WriteRuns(&buf, runs); err != nil {
		return 0, err
	}
	if err := sink.Put(ctx, &buf); err != nil {
		return 0, err
	}
	return len(runs), nil
}
