package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"claude-proxy/internal/registry"
	"claude-proxy/internal/shared"
)

type callResult struct {
	body json.RawMessage
	err  error
}

// CreateChatCompletion forwards a non streaming chat completion to the
// upstream. When requestID is non empty the call is registered for out of
// band cancellation and raced against its cancel signal; a fired signal
// aborts the upstream call best effort and surfaces a 499.
//
// The registry entry is removed on every exit path.
func (c *Client) CreateChatCompletion(ctx context.Context, payload map[string]any, requestID string) (json.RawMessage, error) {
	var sig *registry.CancelSignal
	if requestID != "" {
		sig = c.Registry.Begin(requestID)
		defer c.Registry.End(requestID)
	}

	c.logRequest(payload, requestID)

	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resCh := make(chan callResult, 1)
	go func() {
		body, err := c.postCompletion(rctx, payload)
		resCh <- callResult{body: body, err: err}
	}()

	if sig == nil {
		res := <-resCh
		return res.body, res.err
	}

	select {
	case res := <-resCh:
		return res.body, res.err
	case <-sig.Done():
		// abort the in flight upstream call without waiting for it
		cancel()
		return nil, errors.Join(shared.ErrRequestCanceled, shared.ErrClientCanceled)
	case <-ctx.Done():
		cancel()
		return nil, errors.Join(shared.ErrRequestCanceled, shared.ErrClientCanceled, ctx.Err())
	}
}

// postCompletion performs the upstream POST and returns the raw response
// body, classifying any failure.
func (c *Client) postCompletion(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(shared.ErrBadRequest, errors.New("failed marshaling request payload"), err)
	}

	model := shared.GetString(payload, "model")
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(model), bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.Join(&shared.RequestError{
			StatusCode: 400,
			Err:        errors.New("failed building request"),
		}, err)
	}
	c.setHeaders(r)

	res, err := c.httpClient.Do(r)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			c.Log.Warnw("Failed to close response body", "error", closeErr)
		}
	}()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Join(&shared.RequestError{StatusCode: 500, Err: errors.New("failed to read response body")},
			shared.ErrFailedReadingResponse, err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, classifyAPIError(res.StatusCode, resBody)
	}

	return resBody, nil
}
