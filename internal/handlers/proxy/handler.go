// Package proxy holds the chat completion forwarding logic: request
// preprocessing, dispatch to the upstream client and usage postprocessing.
package proxy

import (
	"go.uber.org/zap"

	"claude-proxy/internal/openai"
)

// TransformFunc converts an externally shaped request body into the
// upstream chat completion shape. It must be pure and stateless; the
// handler applies it before any other processing. Identity when nil.
type TransformFunc func(body []byte) ([]byte, error)

type ProxyHandler struct {
	Client    *openai.Client
	Log       *zap.SugaredLogger
	Debug     bool
	Transform TransformFunc
}

func NewProxyHandler(client *openai.Client, log *zap.SugaredLogger, debug bool) *ProxyHandler {
	return &ProxyHandler{
		Client: client,
		Log:    log,
		Debug:  debug,
	}
}

func logWithFields(logger *zap.SugaredLogger, fields map[string]string) *zap.SugaredLogger {
	if len(fields) == 0 {
		return logger
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return logger.With(args...)
}
