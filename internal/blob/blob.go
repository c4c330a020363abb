// Package blob fetches update documents from object stores and the local
// filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Scheme constants for Location.Scheme.
const (
	SchemeGCS  = "gs"
	SchemeS3   = "s3"
	SchemeFile = "file"
)

// ErrNotFound is returned when the bucket or object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Location identifies a single document.
type Location struct {
	Scheme string
	Bucket string // empty for file locations
	Key    string // object key, or absolute path for file locations
}

// String returns the location in URI form.
func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return "file://" + l.Key
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// Fetcher copies a document into w.
type Fetcher interface {
	Fetch(ctx context.Context, loc Location, w io.Writer) error
}

// ParseLocation parses gs://bucket/key, s3://bucket/key, file:///path or a
// bare filesystem path.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("blob: empty location")
	}

	if !strings.Contains(raw, "://") {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return Location{}, fmt.Errorf("blob: resolve path %q: %w", raw, err)
		}
		return Location{Scheme: SchemeFile, Key: abs}, nil
	}

	scheme, rest, _ := strings.Cut(raw, "://")
	switch scheme {
	case SchemeFile:
		if rest == "" {
			return Location{}, fmt.Errorf("blob: %q has no path", raw)
		}
		return Location{Scheme: SchemeFile, Key: filepath.FromSlash(rest)}, nil
	case SchemeGCS, SchemeS3:
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("blob: %q must be %s://bucket/key", raw, scheme)
		}
		return Location{Scheme: scheme, Bucket: bucket, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("blob: unsupported scheme %q in %q", scheme, raw)
	}
}

// Router dispatches to a Fetcher by location scheme.
type Router map[string]Fetcher

// Fetch implements Fetcher.
func (r Router) Fetch(ctx context.Context, loc Location, w io.Writer) error {
	f, ok := r[loc.Scheme]
	if !ok || f == nil {
		return fmt.Errorf("blob: no fetcher configured for scheme %q", loc.Scheme)
	}
	return f.Fetch(ctx, loc, w)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, loc Location, w io.Writer) error

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, loc Location, w io.Writer) error {
	return f(ctx, loc, w)
}
