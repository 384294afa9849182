package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janakkhadka100/fb-post-ai/pkg/clients"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestResolver(t *testing.T, maxBytes int64) *Resolver {
	t.Helper()
	return New(Config{
		StorageConnection: "file://" + t.TempDir(),
		MaxBytes:          maxBytes,
		Timeout:           5 * time.Second,
		Retry:             clients.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

func TestStorageDir(t *testing.T) {
	assert.Equal(t, "/data/posts", StorageDir("file:///data/posts"))
	assert.Equal(t, DefaultStorageDir, StorageDir("s3://bucket"))
	assert.Equal(t, DefaultStorageDir, StorageDir(""))
}

func TestFetchStoresImage(t *testing.T) {
	body := pngBytes(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	r := newTestResolver(t, 0)
	path, err := r.Fetch(context.Background(), srv.URL+"/banner")
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, r.Dir(), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "media-"))
	assert.Equal(t, ".png", filepath.Ext(path))

	mime, err := r.Validate(path, false)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	data, err := r.Read(path)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestFetchRejectsOversize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{0x89}, 4096))
	}))
	defer srv.Close()

	r := newTestResolver(t, 1024)
	_, err := r.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrTooLarge)

	entries, _ := os.ReadDir(r.Dir())
	assert.Empty(t, entries, "partial downloads must be removed")
}

func TestFetchRejectsNonMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>not an image</body></html>"))
	}))
	defer srv.Close()

	r := newTestResolver(t, 0)
	_, err := r.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := newTestResolver(t, 0)
	_, err := r.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestValidateVideoOnlyWhenAllowed(t *testing.T) {
	r := newTestResolver(t, 0)
	// ftyp box with an mp4 brand
	mp4 := append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypmp42\x00\x00\x00\x00mp42isom")...)
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, mp4, 0o644))

	_, err := r.Validate(path, false)
	require.ErrorIs(t, err, ErrUnsupported)
	mime, err := r.Validate(path, true)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", mime)
}

func TestCleanupRemovesOldFiles(t *testing.T) {
	r := newTestResolver(t, 0)
	require.NoError(t, os.MkdirAll(r.Dir(), 0o755))

	oldPath := filepath.Join(r.Dir(), "media-1.png")
	newPath := filepath.Join(r.Dir(), "media-2.png")
	other := filepath.Join(r.Dir(), "keep.txt")
	for _, p := range []string{oldPath, newPath, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	removed, err := r.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, newPath)
	assert.FileExists(t, other)
}

func TestCleanupMissingDir(t *testing.T) {
	r := newTestResolver(t, 0)
	removed, err := r.Cleanup(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
