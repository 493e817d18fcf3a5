package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"claude-proxy/internal/openai"
	"claude-proxy/internal/shared"

	"go.uber.org/zap"
)

type CompletionInput struct {
	Req          *RequestInfo
	Ctx          context.Context
	LogFields    map[string]string
	StreamWriter func(event string) error // callback for real-time streaming
}

type CompletionMetadata struct {
	Completed        bool
	Canceled         bool
	TotalTime        time.Duration
	TimeToFirstToken time.Duration
}

type CompletionOutput struct {
	FinalResponse []byte
	Stream        bool
	Metadata      *CompletionMetadata

	// This is for mid-stream errors, if any
	Error error
}

// DoCompletion only returns errors from bad inputs and when output would not
// exist. A partial stream does not return an error directly but bakes it
// inside of CompletionOutput. If DoCompletion returns an error, no http
// status code was sent yet and the router should send one accordingly.
func (h *ProxyHandler) DoCompletion(input CompletionInput) (*CompletionOutput, error) {
	if input.Req == nil {
		return nil, &shared.RequestError{
			StatusCode: 400,
			Err:        errors.New("request info missing"),
		}
	}
	reqInfo := input.Req
	log := logWithFields(h.Log, input.LogFields)

	var out *CompletionOutput
	var err error
	switch reqInfo.Stream {
	case true:
		out, err = h.streamCompletion(input.Ctx, reqInfo, input.StreamWriter, log)
	case false:
		out, err = h.fetchCompletion(input.Ctx, reqInfo, log)
	}
	if err != nil {
		return nil, err
	}

	go h.PostProcess(reqInfo, out)
	return out, nil
}

func (h *ProxyHandler) fetchCompletion(ctx context.Context, req *RequestInfo, log *zap.SugaredLogger) (*CompletionOutput, error) {
	raw, err := h.Client.CreateChatCompletion(ctx, req.Payload, req.ID)
	if err != nil {
		return nil, err
	}
	if h.Debug {
		log.Debugw("Upstream completion finished", "response_bytes", len(raw))
	}

	return &CompletionOutput{
		FinalResponse: raw,
		Metadata: &CompletionMetadata{
			Completed: true,
			TotalTime: time.Since(req.StartTime),
		},
	}, nil
}

func (h *ProxyHandler) streamCompletion(ctx context.Context, req *RequestInfo, streamWriter func(event string) error, log *zap.SugaredLogger) (*CompletionOutput, error) {
	s, err := h.Client.CreateChatCompletionStream(ctx, req.Payload, req.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = s.Close()
	}()

	var ttft time.Duration
	var ttftRecorded bool
	var chunks []json.RawMessage
	var streamErr error
	completed := false
	clientDisconnected := false

	for {
		event, recvErr := s.Recv()
		if errors.Is(recvErr, io.EOF) {
			completed = true
			break
		}
		if recvErr != nil {
			streamErr = recvErr
			break
		}

		if !ttftRecorded {
			ttft = time.Since(req.StartTime)
			ttftRecorded = true
		}

		// Stream event to client immediately via callback (if provided and client still connected)
		if streamWriter != nil && !clientDisconnected {
			if werr := streamWriter(event); werr != nil {
				clientDisconnected = true
				// client is gone, flag the request so the dispatcher stops
				h.Client.Registry.Cancel(req.ID)
				log.Warnw("Client disconnected mid stream, canceling upstream", "error", werr.Error())
			}
		}

		data := strings.TrimPrefix(event, "data: ")
		if data == shared.DoneToken {
			continue
		}
		chunks = append(chunks, json.RawMessage(data))
	}

	canceled := openai.IsCanceled(streamErr)
	if h.Debug {
		log.Debugw("Stream finished",
			"chunks", len(chunks),
			"completed", completed,
			"canceled", canceled,
		)
	}

	// Error before anything was produced: let the router pick the status code
	if len(chunks) == 0 && streamErr != nil {
		return nil, streamErr
	}

	// shouldnt be able to error since chunks are already well formatted json
	responseBytes, _ := json.Marshal(chunks)
	return &CompletionOutput{
		FinalResponse: responseBytes,
		Stream:        true,
		Metadata: &CompletionMetadata{
			Canceled:         canceled || clientDisconnected,
			Completed:        completed,
			TotalTime:        time.Since(req.StartTime),
			TimeToFirstToken: ttft,
		},
		Error: streamErr,
	}, nil
}
