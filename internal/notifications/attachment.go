package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
)

// Remote attachment download limits.
const (
	DefaultDownloadTimeout  = 5 * time.Minute
	DefaultDownloadMaxBytes = 25 << 20
)

// ErrAttachmentTooLarge is returned when a remote attachment exceeds the size limit.
var ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")

// AttachmentResolver opens the content of an attachment descriptor.
type AttachmentResolver struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewAttachmentResolver creates a resolver. Zero values select DefaultDownloadTimeout
// and DefaultDownloadMaxBytes.
func NewAttachmentResolver(timeout time.Duration, maxBytes int64) *AttachmentResolver {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultDownloadMaxBytes
	}
	return &AttachmentResolver{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// Resolve returns a reader over the attachment content, trying embedded content,
// then the remote URL, then the file name as a local path.
// It returns nil, nil when no source is available; the attachment is then skipped.
// The caller must close the returned reader.
func (r *AttachmentResolver) Resolve(ctx context.Context, att domain.Attachment) (io.ReadCloser, error) {
	if len(att.Content) > 0 {
		return io.NopCloser(bytes.NewReader(att.Content)), nil
	}

	if att.URL != "" {
		data, err := r.download(ctx, att.URL)
		if err != nil {
			return nil, fmt.Errorf("download attachment %q: %w", att.FileName, err)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	if att.FileName != "" {
		if info, err := os.Stat(att.FileName); err == nil && info.Mode().IsRegular() {
			f, err := os.Open(att.FileName)
			if err != nil {
				return nil, fmt.Errorf("open attachment %q: %w", att.FileName, err)
			}
			return f, nil
		}
	}

	ctxlog.FromContext(ctx).Debug("attachment has no usable source, skipping",
		"file_name", att.FileName,
	)
	return nil, nil
}

func (r *AttachmentResolver) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	if resp.ContentLength > r.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrAttachmentTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAttachmentTooLarge, r.maxBytes)
	}
	return data, nil
}
