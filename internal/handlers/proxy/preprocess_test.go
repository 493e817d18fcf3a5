package proxy

import (
	"errors"
	"testing"

	"claude-proxy/internal/shared"

	"go.uber.org/zap"
)

func newTestHandler() *ProxyHandler {
	return NewProxyHandler(nil, zap.NewNop().Sugar(), false)
}

func TestPreprocess(t *testing.T) {
	h := newTestHandler()

	reqInfo, err := h.Preprocess(PreprocessInput{
		Body:      []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stream":true}`),
		RequestID: "req_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reqInfo.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", reqInfo.Model)
	}
	if !reqInfo.Stream {
		t.Error("stream flag should be detected")
	}
	if reqInfo.ID != "req_1" {
		t.Errorf("expected request id req_1, got %s", reqInfo.ID)
	}
	if reqInfo.Endpoint != EndpointChat {
		t.Errorf("unexpected endpoint %s", reqInfo.Endpoint)
	}
}

func TestPreprocessValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{not json`},
		{name: "missing model", body: `{"messages":[{"role":"user","content":"hi"}]}`},
		{name: "empty model", body: `{"model":"","messages":[]}`},
		{name: "missing messages", body: `{"model":"gpt-4o"}`},
	}

	h := newTestHandler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Preprocess(PreprocessInput{Body: []byte(tt.body)})
			var rerr *shared.RequestError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected RequestError, got %v", err)
			}
			if rerr.StatusCode != 400 {
				t.Errorf("expected status 400, got %d", rerr.StatusCode)
			}
		})
	}
}

func TestPreprocessInvalidJSONSentinel(t *testing.T) {
	h := newTestHandler()
	_, err := h.Preprocess(PreprocessInput{Body: []byte(`{not json`)})
	if !errors.Is(err, shared.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for malformed body, got %v", err)
	}
}

func TestPreprocessAppliesTransform(t *testing.T) {
	h := newTestHandler()
	h.Transform = func(body []byte) ([]byte, error) {
		return []byte(`{"model":"translated","messages":[]}`), nil
	}

	reqInfo, err := h.Preprocess(PreprocessInput{Body: []byte(`{"whatever":"shape"}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reqInfo.Model != "translated" {
		t.Errorf("transform output should be used, got model %s", reqInfo.Model)
	}
}

func TestPreprocessTransformFailure(t *testing.T) {
	h := newTestHandler()
	h.Transform = func(body []byte) ([]byte, error) {
		return nil, errors.New("bad shape")
	}

	_, err := h.Preprocess(PreprocessInput{Body: []byte(`{}`)})
	var rerr *shared.RequestError
	if !errors.As(err, &rerr) || rerr.StatusCode != 400 {
		t.Fatalf("expected 400 on transform failure, got %v", err)
	}
}
