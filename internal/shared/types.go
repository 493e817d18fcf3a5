package shared

import "time"

// OpenAIError is the error body shape OpenAI compatible clients expect.
type OpenAIError struct {
	Message string `json:"message"`
	Object  string `json:"object"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type Usage struct {
	PromptTokens     uint64
	CompletionTokens uint64
	TotalTokens      uint64
	IsCanceled       bool
}

// ProcessedQueryInfo carries per request accounting extracted after the
// upstream call completes. Consumed by the metrics postprocessor.
type ProcessedQueryInfo struct {
	RequestID        string
	Model            string
	Endpoint         string
	TimeToFirstToken time.Duration
	TotalTime        time.Duration
	Usage            *Usage
	CreatedAt        time.Time
}
