package proxy

import (
	"encoding/json"
	"errors"
	"time"

	"claude-proxy/internal/shared"
)

const EndpointChat = "chat"

type PreprocessInput struct {
	Body      []byte
	RequestID string
}

type RequestInfo struct {
	Payload   map[string]any
	ID        string
	StartTime time.Time
	Endpoint  string
	Model     string
	Stream    bool
}

// Preprocess validates the incoming body and extracts the fields the
// dispatcher cares about. The payload stays otherwise opaque.
func (h *ProxyHandler) Preprocess(input PreprocessInput) (*RequestInfo, error) {
	startTime := time.Now()

	body := input.Body
	if h.Transform != nil {
		transformed, err := h.Transform(body)
		if err != nil {
			return nil, errors.Join(&shared.RequestError{
				StatusCode: 400,
				Err:        errors.New("failed translating request"),
			}, err)
		}
		body = transformed
	}

	var payload map[string]any
	err := json.Unmarshal(body, &payload)
	if err != nil {
		return nil, errors.Join(shared.ErrInvalidRequest, err)
	}

	model, ok := payload["model"].(string)
	if !ok || model == "" {
		return nil, &shared.RequestError{StatusCode: 400, Err: errors.New("model is required")}
	}

	if _, ok := payload["messages"]; !ok {
		return nil, &shared.RequestError{StatusCode: 400, Err: errors.New("messages is required")}
	}

	stream, _ := payload["stream"].(bool)

	return &RequestInfo{
		Payload:   payload,
		ID:        input.RequestID,
		StartTime: startTime,
		Endpoint:  EndpointChat,
		Model:     model,
		Stream:    stream,
	}, nil
}
