package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lightforgemedia/go-leapmq/pkg/model"
)

// StatusError reports a response whose status is not 2xx, or an
// ExceptionResponse.
type StatusError struct {
	URL    string
	Status model.StatusCode
	Body   json.RawMessage
}

func (e *StatusError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("%s: %s: %s", e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.URL, e.Status)
}

// CheckStatus returns a *StatusError unless resp reports success. A
// response without a status is accepted.
func CheckStatus(resp *model.Message) error {
	if resp.CommuniqueType == model.ExceptionResponse {
		status := model.StatusCode{}
		if resp.Header.StatusCode != nil {
			status = *resp.Header.StatusCode
		}
		return &StatusError{URL: resp.Header.Url, Status: status, Body: resp.Body}
	}
	if sc := resp.Header.StatusCode; sc != nil && !sc.IsSuccessful() {
		return &StatusError{URL: resp.Header.Url, Status: *sc, Body: resp.Body}
	}
	return nil
}

// Retrieve reads url and decodes the response body into T.
//
// Example:
//
//	type deviceBody struct {
//		Device struct{ Name string } `json:"Device"`
//	}
//	dev, err := client.Retrieve[deviceBody](ctx, c, "/device/1")
func Retrieve[T any](ctx context.Context, c *Client, url string) (*T, error) {
	resp, err := c.Request(ctx, model.ReadRequest, url, nil, "")
	if err != nil {
		return nil, err
	}
	if err := CheckStatus(resp); err != nil {
		return nil, err
	}
	out, err := model.BodyAs[T](resp)
	if err != nil {
		return nil, fmt.Errorf("client: decode %s body: %w", url, err)
	}
	return out, nil
}
