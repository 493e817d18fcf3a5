package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"claude-proxy/internal/registry"
	"claude-proxy/internal/shared"

	"go.uber.org/zap"
)

// Stream is a pull based view over the upstream SSE response. Events come
// back one per Recv call as `data: <compact json>` lines, followed by a
// single `data: [DONE]` and io.EOF. Not safe for concurrent use and not
// restartable.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	sig     *registry.CancelSignal
	log     *zap.SugaredLogger

	endOnce sync.Once
	finish  func()

	err error
}

// CreateChatCompletionStream opens a streaming chat completion against the
// upstream. The payload's stream flag is forced on and usage reporting is
// injected so the final chunk carries token accounting. The returned stream
// must be closed; Close (or stream exhaustion) removes the registry entry
// exactly once.
func (c *Client) CreateChatCompletionStream(ctx context.Context, payload map[string]any, requestID string) (*Stream, error) {
	EnsureStreamOptions(payload)

	var sig *registry.CancelSignal
	if requestID != "" {
		sig = c.Registry.Begin(requestID)
	}
	end := func() {
		if requestID != "" {
			c.Registry.End(requestID)
		}
	}

	c.logRequest(payload, requestID)

	res, cancel, err := c.openStream(ctx, payload)
	if err != nil {
		end()
		return nil, err
	}

	s := &Stream{
		body:    res.Body,
		scanner: bufio.NewScanner(res.Body),
		sig:     sig,
		log:     c.Log,
	}
	s.finish = func() {
		cancel()
		_ = res.Body.Close()
		end()
	}
	return s, nil
}

func (c *Client) openStream(ctx context.Context, payload map[string]any) (*http.Response, context.CancelFunc, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, errors.Join(shared.ErrBadRequest, errors.New("failed marshaling request payload"), err)
	}

	rctx, cancel := context.WithTimeout(ctx, shared.DefaultStreamTimeout)

	model := shared.GetString(payload, "model")
	r, err := http.NewRequestWithContext(rctx, http.MethodPost, c.completionsURL(model), bytes.NewBuffer(body))
	if err != nil {
		cancel()
		return nil, nil, errors.Join(&shared.RequestError{
			StatusCode: 400,
			Err:        errors.New("failed building request"),
		}, err)
	}
	c.setHeaders(r)
	r.Header.Set("Accept", "text/event-stream")

	res, err := c.httpClient.Do(r)
	if err != nil {
		cancel()
		return nil, nil, classifyTransportError(err)
	}

	if res.StatusCode != http.StatusOK {
		resBody, _ := io.ReadAll(res.Body)
		_ = res.Body.Close()
		cancel()
		return nil, nil, classifyAPIError(res.StatusCode, resBody)
	}

	return res, cancel, nil
}

// Recv returns the next event. The cancel signal is checked before every
// emit; once fired the stream stops immediately, discarding chunks already
// read from the upstream, and every later call returns the same error.
func (s *Stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	for {
		if s.sig != nil && s.sig.Fired() {
			return "", s.fail(errors.Join(shared.ErrRequestCanceled, shared.ErrClientCanceled))
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if errors.Is(err, context.Canceled) {
					return "", s.fail(errors.Join(shared.ErrRequestCanceled, shared.ErrUpstreamContext, err))
				}
				return "", s.fail(errors.Join(&shared.RequestError{StatusCode: 500, Err: errors.New("failed to read upstream stream")},
					shared.ErrFailedReadingResponse, err))
			}
			// upstream closed without [DONE]; still terminate our side cleanly
			s.log.Warnw(shared.ErrMissingDoneToken.Msg, "code", shared.ErrMissingDoneToken.Code)
			return s.done()
		}

		line := s.scanner.Text()
		if line == "" {
			continue
		}

		data, found := strings.CutPrefix(line, "data: ")
		if !found {
			// comments, event names and other non data lines
			continue
		}

		if data == shared.DoneToken {
			return s.done()
		}

		var compacted bytes.Buffer
		if err := json.Compact(&compacted, []byte(data)); err != nil {
			// malformed chunk, drop it and keep reading
			continue
		}

		return "data: " + compacted.String(), nil
	}
}

// done emits the terminating [DONE] event, releases the stream and makes
// every later Recv return io.EOF.
func (s *Stream) done() (string, error) {
	_ = s.fail(io.EOF)
	return "data: " + shared.DoneToken, nil
}

func (s *Stream) fail(err error) error {
	s.err = err
	s.endOnce.Do(s.finish)
	return err
}

// Close releases the upstream connection and removes the registry entry.
// Safe to call multiple times and after Recv returned an error; required
// when a consumer abandons the stream early.
func (s *Stream) Close() error {
	if s.err == nil {
		s.err = io.EOF
	}
	s.endOnce.Do(s.finish)
	return nil
}

// EnsureStreamOptions forces streaming on and injects usage reporting into
// stream_options, leaving every other field untouched.
func EnsureStreamOptions(payload map[string]any) {
	payload["stream"] = true
	opts, ok := payload["stream_options"].(map[string]any)
	if !ok {
		opts = map[string]any{}
		payload["stream_options"] = opts
	}
	opts["include_usage"] = true
}
