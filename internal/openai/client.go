// Package openai dispatches chat completion calls to an OpenAI compatible
// upstream. It owns the upstream connection, races every tracked call
// against its cancel signal and normalizes upstream failures into
// shared.RequestError values.
package openai

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"claude-proxy/internal/registry"
	"claude-proxy/internal/shared"

	"go.uber.org/zap"
)

type Config struct {
	APIKey  string
	BaseURL string

	// APIVersion switches the client into Azure OpenAI mode when set.
	APIVersion string

	Timeout            time.Duration
	CustomHeaders      map[string]string
	InsecureSkipVerify bool
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	Registry   *registry.Registry
	Log        *zap.SugaredLogger
}

func NewClient(cfg Config, reg *registry.Registry, log *zap.SugaredLogger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = shared.DefaultUpstreamTimeout
	}

	tr := &http.Transport{
		Dial: (&net.Dialer{
			Timeout: 2 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 2 * time.Second,
		DisableKeepAlives:   false,
	}
	if cfg.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		log.Warnw("TLS verification is DISABLED - only use this with trusted APIs")
	}

	// outer cap only; the configured timeout is applied per request so
	// long lived streams are not cut off at the non streaming deadline
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: tr, Timeout: shared.DefaultStreamTimeout},
		Registry:   reg,
		Log:        log,
	}
}

// completionsURL builds the upstream chat completions endpoint. Azure
// deployments are addressed per model and carry the api-version query.
func (c *Client) completionsURL(model string) string {
	if c.cfg.APIVersion != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.cfg.BaseURL, url.PathEscape(model), url.QueryEscape(c.cfg.APIVersion))
	}
	return c.cfg.BaseURL + shared.ChatCompletionsRoute
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", shared.UserAgent)
	if c.cfg.APIVersion != "" {
		r.Header.Set("api-key", c.cfg.APIKey)
	} else {
		r.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for key, value := range c.cfg.CustomHeaders {
		r.Header.Set(key, value)
	}
}

func (c *Client) logRequest(payload map[string]any, requestID string) {
	messages, _ := payload["messages"].([]any)
	log := c.Log.With(
		"request_id", requestID,
		"base_url", c.cfg.BaseURL,
		"model", shared.GetString(payload, "model"),
		"message_count", len(messages),
	)
	if maxTokens, ok := payload["max_tokens"].(float64); ok {
		log = log.With("max_tokens", int(maxTokens))
	}
	if first := shared.GetFirstMap(messages); first != nil {
		content := shared.GetString(first, "content")
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		log = log.With("first_message_role", shared.GetString(first, "role"), "first_message_content", content)
	}
	if len(c.cfg.CustomHeaders) > 0 {
		log = log.With("custom_headers", shared.SanitizeHeaders(c.cfg.CustomHeaders))
	}
	log.Infow("Upstream request")
}
