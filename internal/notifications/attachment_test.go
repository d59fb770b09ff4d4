package notifications

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestAttachmentResolver_PrefersEmbeddedContent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	r := NewAttachmentResolver(0, 0)
	rc, err := r.Resolve(context.Background(), domain.Attachment{
		FileName: "a.txt",
		Content:  []byte("embedded"),
		URL:      srv.URL,
	})
	require.NoError(t, err)
	require.NotNil(t, rc)

	assert.Equal(t, "embedded", readAll(t, rc))
	assert.Equal(t, int32(0), hits.Load())
}

func TestAttachmentResolver_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	r := NewAttachmentResolver(0, 0)

	rc, err := r.Resolve(context.Background(), domain.Attachment{FileName: "a.pdf", URL: srv.URL + "/file"})
	require.NoError(t, err)
	assert.Equal(t, "remote", readAll(t, rc))

	_, err = r.Resolve(context.Background(), domain.Attachment{FileName: "b.pdf", URL: srv.URL + "/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAttachmentResolver_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b"), 0o600))

	r := NewAttachmentResolver(0, 0)
	rc, err := r.Resolve(context.Background(), domain.Attachment{FileName: path})
	require.NoError(t, err)
	assert.Equal(t, "a,b", readAll(t, rc))
}

func TestAttachmentResolver_NoSource(t *testing.T) {
	r := NewAttachmentResolver(0, 0)

	rc, err := r.Resolve(context.Background(), domain.Attachment{FileName: "does-not-exist.pdf"})
	require.NoError(t, err)
	assert.Nil(t, rc)

	rc, err = r.Resolve(context.Background(), domain.Attachment{FileName: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, rc, "directories are not attachments")
}

func TestAttachmentResolver_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := strings.Repeat("x", 16)
		if r.URL.Path == "/chunked" {
			// No Content-Length: the limit applies while reading.
			w.(http.Flusher).Flush()
		} else {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		path     string
		maxBytes int64
		wantErr  bool
	}{
		{"within limit", "/file", 16, false},
		{"declared length over limit", "/file", 8, true},
		{"streamed body over limit", "/chunked", 8, true},
		{"streamed body within limit", "/chunked", 16, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewAttachmentResolver(0, tt.maxBytes)
			rc, err := r.Resolve(context.Background(), domain.Attachment{FileName: "big.bin", URL: srv.URL + tt.path})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrAttachmentTooLarge)
				assert.Nil(t, rc)
				return
			}
			require.NoError(t, err)
			assert.Len(t, readAll(t, rc), 16)
		})
	}
}
