package httpcore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
)

// downloadChunk is the write granularity for streamed downloads.
const downloadChunk = 8 * 1024

// Upload posts a multipart form with one file part plus extra string fields
// and decodes the envelope data into out. The file is buffered into memory
// once so every retry and the 401 replay resend identical bytes.
func (c *Client) Upload(ctx context.Context, path, fieldName, filename string, file []byte, fields map[string]string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	req := request{
		method:      http.MethodPost,
		path:        path,
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
		timeout:     UploadTimeout,
		idempotent:  true,
	}
	return c.doJSON(ctx, req, out)
}

// Download streams a GET response to target in fixed-size chunks. Any
// failure removes the partial file. Retries restart the download from the
// beginning.
func (c *Client) Download(ctx context.Context, path, target string) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			c.sleep(backoffBase << (attempt - 2))
		}
		status, retryable, err := c.downloadOnce(ctx, path, target)
		if err == nil && status == http.StatusUnauthorized {
			if rerr := c.tryRefresh(ctx); rerr == nil {
				status, retryable, err = c.downloadOnce(ctx, path, target)
				if err == nil && status == http.StatusUnauthorized {
					c.forceLogout("session rejected after token refresh")
				}
			} else if rerr != ErrRefreshInFlight {
				c.forceLogout(fmt.Sprintf("token refresh failed: %v", rerr))
			}
		}
		if err == nil {
			if status >= 400 {
				lastErr = &APIError{StatusCode: status}
				if retryable && attempt < maxAttempts {
					continue
				}
				return lastErr
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return fmt.Errorf("download failed after %d attempts: %w", maxAttempts, lastErr)
}

// downloadOnce performs a single streaming attempt. Returns the HTTP status
// and whether it belongs to the transient set.
func (c *Client) downloadOnce(ctx context.Context, path, target string) (status int, retryable bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	hr, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, nil), nil)
	if err != nil {
		return 0, false, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(hr, "")

	resp, err := c.hc.Do(hr)
	if err != nil {
		return 0, true, fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return resp.StatusCode, retryableStatus(resp.StatusCode), nil
	}

	f, err := os.Create(target)
	if err != nil {
		return 0, false, fmt.Errorf("create %s: %w", target, err)
	}
	buf := make([]byte, downloadChunk)
	if _, err := io.CopyBuffer(f, resp.Body, buf); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return 0, true, fmt.Errorf("stream to %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return 0, false, fmt.Errorf("close %s: %w", target, err)
	}
	return http.StatusOK, false, nil
}
