package routers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"claude-proxy/internal/ctx"
	"claude-proxy/internal/handlers/proxy"
	"claude-proxy/internal/middleware"
	"claude-proxy/internal/openai"
	"claude-proxy/internal/registry"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, upstreamURL string) (*httptest.Server, *openai.Client) {
	t.Helper()
	log := zap.NewNop().Sugar()
	client := openai.NewClient(openai.Config{
		APIKey:  "test-key",
		BaseURL: upstreamURL,
		Timeout: 5 * time.Second,
	}, registry.New(), log)

	e := echo.New()
	base := e.Group("")
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	if err := RegisterProxyRoutes(base, client, nil, log, false); err != nil {
		t.Fatalf("failed registering routes: %v", err)
	}

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server, client
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	response := `{"id":"chatcmpl-1","choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(response))
	}))
	defer upstream.Close()

	server, client := newTestServer(t, upstream.URL)

	res, err := http.Post(server.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != response {
		t.Errorf("upstream body should pass through unchanged, got %s", body)
	}
	if client.Registry.Len() != 0 {
		t.Error("registry should be empty after request")
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`data: {"id":"c1","choices":[{"delta":{"content":"hel"}}]}`,
			`data: {"id":"c1","choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		} {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	server, _ := newTestServer(t, upstream.URL)

	res, err := http.Post(server.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"model":"gpt-4o","messages":[],"stream":true}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()

	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("expected SSE content type, got %q", ct)
	}

	body, _ := io.ReadAll(res.Body)
	lines := []string{}
	for line := range strings.SplitSeq(string(body), "\n") {
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, line)
		}
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 data lines, got %v", lines)
	}
	if lines[2] != "data: [DONE]" {
		t.Errorf("stream should end with [DONE], got %q", lines[2])
	}
}

func TestChatCompletionsUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid_api_key"}}`))
	}))
	defer upstream.Close()

	server, _ := newTestServer(t, upstream.URL)

	res, err := http.Post(server.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	var envelope map[string]any
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		t.Fatalf("error body is not json: %v", err)
	}
	if envelope["object"] != "error" {
		t.Errorf("expected error envelope, got %v", envelope)
	}
	if !strings.Contains(envelope["message"].(string), "Invalid API key") {
		t.Errorf("expected credential guidance in message, got %v", envelope["message"])
	}
}

func TestChatCompletionsMissingModel(t *testing.T) {
	server, _ := newTestServer(t, "http://127.0.0.1:0")

	res, err := http.Post(server.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages":[]}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestCancelUnknownRequest(t *testing.T) {
	server, _ := newTestServer(t, "http://127.0.0.1:0")

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/v1/requests/unknown", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", res.StatusCode)
	}
}

func TestCancelInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	server, client := newTestServer(t, upstream.URL)

	type result struct {
		status int
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		res, err := http.Post(server.URL+"/v1/chat/completions", "application/json",
			strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
		if err != nil {
			resCh <- result{err: err}
			return
		}
		defer res.Body.Close()
		resCh <- result{status: res.StatusCode}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never reached")
	}

	// the id is generated per request; cancel whatever is in flight
	deadline := time.After(2 * time.Second)
	for client.Registry.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("request never registered")
		case <-time.After(time.Millisecond):
		}
	}

	canceled := false
	reqDeadline := time.After(2 * time.Second)
	for !canceled {
		select {
		case <-reqDeadline:
			t.Fatal("could not cancel in flight request")
		default:
			canceled = cancelFirstActive(t, server.URL, client)
		}
	}

	res := <-resCh
	if res.err != nil {
		t.Fatalf("request failed: %v", res.err)
	}
	if res.status != 499 {
		t.Fatalf("expected 499 for canceled request, got %d", res.status)
	}
	if client.Registry.Len() != 0 {
		t.Error("registry should be empty after cancellation")
	}
}

// errWriter fails every body write, like a client that hung up after
// headers were committed.
type errWriter struct {
	header http.Header
}

func (w *errWriter) Header() http.Header       { return w.header }
func (w *errWriter) WriteHeader(int)           {}
func (w *errWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestNonStreamWriteFailureAfterCommit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1"}`))
	}))
	defer upstream.Close()

	log := zap.NewNop().Sugar()
	client := openai.NewClient(openai.Config{
		APIKey:  "test-key",
		BaseURL: upstream.URL,
		Timeout: 5 * time.Second,
	}, registry.New(), log)
	pr := ProxyRouter{ph: proxy.NewProxyHandler(client, log, false)}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	c := e.NewContext(req, &errWriter{header: http.Header{}})
	cc := &ctx.Context{Context: c, Log: log, Reqid: "req_w", LogValues: &ctx.ContextLogValues{}}

	reqInfo := &proxy.RequestInfo{
		Payload:   map[string]any{"model": "gpt-4o", "messages": []any{}},
		StartTime: time.Now(),
		Endpoint:  proxy.EndpointChat,
		Model:     "gpt-4o",
	}

	out, err := pr.NonStreamCompletion(cc, reqInfo, nil)
	// the 200 was already committed; a failed body write must not surface
	// as a request error or it would trigger a second status write
	if err != nil {
		t.Fatalf("write failure after commit should not return an error, got %v", err)
	}
	if out == nil {
		t.Fatal("completion output should survive the failed write")
	}
	if cc.LogValues.Error == nil {
		t.Error("failed write should be recorded in the request log values")
	}
	if cc.LogValues.LogLevel == "ERROR" {
		t.Error("client disconnect is not a service fault")
	}
}

func cancelFirstActive(t *testing.T, serverURL string, client *openai.Client) bool {
	t.Helper()
	for _, id := range client.Registry.ActiveIDs() {
		req, _ := http.NewRequest(http.MethodDelete, serverURL+"/v1/requests/"+id, nil)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("cancel request failed: %v", err)
		}
		_ = res.Body.Close()
		if res.StatusCode == http.StatusOK {
			return true
		}
	}
	return false
}
