package shared

import "time"

// HTTP Client Configuration
const (
	DefaultUpstreamTimeout = 90 * time.Second
	DefaultStreamTimeout   = 10 * time.Minute
	DefaultShutdownTimeout = 10 * time.Minute
)

// API Configuration
const (
	ChatCompletionsRoute = "/chat/completions"
	UserAgent            = "claude-proxy/1.0.0"
	DoneToken            = "[DONE]"
)
