package identity

import (
	"context"
	"fmt"
	"net/url"
)

const matchSuccess = "Success"

type resolveResponse struct {
	Message string `json:"Message"`
	FaceID  string `json:"FaceId"`
}

// Resolve asks the face-matching service who is on the uploaded image.
// A "no match" answer is a successful call with Match.Matched false.
func (c *Client) Resolve(ctx context.Context, attemptID, key string) Outcome[Match] {
	match, err := c.resolve(ctx, key)
	return Outcome[Match]{AttemptID: attemptID, Value: match, Err: err}
}

func (c *Client) resolve(ctx context.Context, key string) (Match, error) {
	u, err := url.Parse(c.resolveURL)
	if err != nil {
		return Match{}, fmt.Errorf("invalid resolve url: %w", err)
	}
	q := u.Query()
	q.Set("objectKey", objectName(key))
	u.RawQuery = q.Encode()

	resp, err := doGetJSON[resolveResponse](ctx, c, u.String())
	if err != nil {
		return Match{}, err
	}

	return Match{
		Matched: resp.Message == matchSuccess && resp.FaceID != "",
		FaceID:  resp.FaceID,
		Message: resp.Message,
	}, nil
}
