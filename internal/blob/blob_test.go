package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	abs, err := filepath.Abs("docs/orders.json")
	require.NoError(t, err)

	tests := []struct {
		raw  string
		want Location
	}{
		{"gs://meta-bucket/tables/orders.json", Location{Scheme: SchemeGCS, Bucket: "meta-bucket", Key: "tables/orders.json"}},
		{"s3://meta/a b/c?d.json", Location{Scheme: SchemeS3, Bucket: "meta", Key: "a b/c?d.json"}},
		{"file:///tmp/orders.json", Location{Scheme: SchemeFile, Key: "/tmp/orders.json"}},
		{"docs/orders.json", Location{Scheme: SchemeFile, Key: abs}},
		{"  gs://b/k  ", Location{Scheme: SchemeGCS, Bucket: "b", Key: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLocation(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocationErrors(t *testing.T) {
	for _, raw := range []string{"", "gs://bucket-only", "gs:///key", "s3://b/", "ftp://host/file", "file://"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseLocation(raw)
			assert.Error(t, err)
		})
	}
}

func TestLocationString(t *testing.T) {
	assert.Equal(t, "gs://b/k/x.json", Location{Scheme: SchemeGCS, Bucket: "b", Key: "k/x.json"}.String())
	assert.Equal(t, "file:///tmp/x.json", Location{Scheme: SchemeFile, Key: "/tmp/x.json"}.String())
}

func TestFileFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"description":"x"}`), 0o644))

	var buf bytes.Buffer
	err := File{}.Fetch(context.Background(), Location{Scheme: SchemeFile, Key: path}, &buf)
	require.NoError(t, err)
	assert.Equal(t, `{"description":"x"}`, buf.String())
}

func TestFileFetchMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.json")
	err := File{}.Fetch(context.Background(), Location{Scheme: SchemeFile, Key: missing}, io.Discard)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestRouter(t *testing.T) {
	var got Location
	r := Router{
		SchemeGCS: FetcherFunc(func(_ context.Context, loc Location, w io.Writer) error {
			got = loc
			_, err := io.WriteString(w, "ok")
			return err
		}),
	}

	var buf bytes.Buffer
	loc := Location{Scheme: SchemeGCS, Bucket: "b", Key: "k"}
	require.NoError(t, r.Fetch(context.Background(), loc, &buf))
	assert.Equal(t, loc, got)
	assert.Equal(t, "ok", buf.String())

	err := r.Fetch(context.Background(), Location{Scheme: SchemeS3, Bucket: "b", Key: "k"}, &buf)
	assert.Error(t, err)
}
