package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCS fetches gs:// documents with application default credentials.
type GCS struct {
	client *storage.Client
}

// NewGCS creates a Cloud Storage client.
func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: create storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

// Fetch implements Fetcher.
func (g *GCS) Fetch(ctx context.Context, loc Location, w io.Writer) error {
	r, err := g.client.Bucket(loc.Bucket).Object(loc.Key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return fmt.Errorf("blob: open %s: %w", loc, err)
	}
	defer func() { _ = r.Close() }()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("blob: download %s: %w", loc, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	if g == nil {
		return nil
	}
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("blob: close storage client: %w", err)
	}
	return nil
}
