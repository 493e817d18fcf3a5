// Package routers
package routers

import (
	"fmt"
	"io"
	"net/http"

	"claude-proxy/internal/ctx"

	"github.com/manifold-inc/manifold-sdk/lib/utils"
)

func readRequestBody(c *ctx.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.Log.Errorw("Failed to read request body", "error", err.Error())
		return nil, utils.Wrap("failed reading request body", err)
	}
	return body, nil
}

func buildLogFields(c *ctx.Context, endpoint string) map[string]string {
	return map[string]string{
		"endpoint":   endpoint,
		"request_id": c.Reqid,
	}
}

func setupSSEHeaders(c *ctx.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
}

// createStreamCallback writes SSE events to the client. Headers go out
// lazily with the first event so failures before any output can still be
// answered with a JSON error status.
func createStreamCallback(c *ctx.Context) func(event string) error {
	headersSent := false
	return func(event string) error {
		if c.Request().Context().Err() != nil {
			return c.Request().Context().Err()
		}
		if !headersSent {
			setupSSEHeaders(c)
			headersSent = true
		}
		_, err := fmt.Fprintf(c.Response(), "%s\n\n", event)
		if err != nil {
			return err
		}
		c.Response().Flush()
		return nil
	}
}
