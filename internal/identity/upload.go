package identity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Upload stores the JPEG frame under key in the object store.
func (c *Client) Upload(ctx context.Context, attemptID, key string, jpegData []byte) Outcome[struct{}] {
	return Outcome[struct{}]{AttemptID: attemptID, Err: c.upload(ctx, key, jpegData)}
}

func (c *Client) upload(ctx context.Context, key string, jpegData []byte) error {
	target := c.uploadURL + "/" + url.PathEscape(objectName(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(jpegData))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.http.Do(req) //nolint:gosec // URL built from configured endpoint
	if err != nil {
		return fmt.Errorf("could not upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
