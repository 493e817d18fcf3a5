package proxy

import (
	"encoding/json"
	"time"

	"claude-proxy/internal/metrics"
	"claude-proxy/internal/shared"
)

// PostProcess extracts usage from the final response and feeds the
// prometheus collectors. Runs after the response has been handed back to
// the client; failures here only lose telemetry, never the response.
func (h *ProxyHandler) PostProcess(req *RequestInfo, res *CompletionOutput) {
	var usage *shared.Usage
	switch req.Stream {
	case true:
		var chunks []map[string]any
		err := json.Unmarshal(res.FinalResponse, &chunks)
		if err != nil {
			h.Log.Warnw(
				"Failed to unmarshal streaming response content as JSON array of chunks",
				"error",
				err,
			)
			break
		}
		for i := len(chunks) - 1; i >= 0; i-- {
			usageData, usageFieldExists := chunks[i]["usage"]
			if usageFieldExists && usageData != nil {
				if extractedUsage, extractErr := extractUsageData(chunks[i]); extractErr == nil {
					usage = extractedUsage
					break
				}
				h.Log.Warnw(
					"Failed to extract usage data from a response chunk that had a non-null usage field",
					"chunk_index",
					i,
				)
				break
			}
		}
	case false:
		var singleResponse map[string]any
		err := json.Unmarshal(res.FinalResponse, &singleResponse)
		if err != nil {
			h.Log.Warnw(
				"Failed to unmarshal non-streaming response content as single JSON object",
				"error",
				err,
			)
			break
		}
		usageData, usageFieldExists := singleResponse["usage"]
		if usageFieldExists && usageData != nil {
			if extractedUsage, extractErr := extractUsageData(singleResponse); extractErr == nil {
				usage = extractedUsage
				break
			}
			h.Log.Warnw(
				"Failed to extract usage data from single response object that had a non-null usage field",
			)
		}
	}

	if usage == nil {
		usage = &shared.Usage{IsCanceled: res.Metadata.Canceled}
	} else {
		usage.IsCanceled = res.Metadata.Canceled
	}

	pqi := &shared.ProcessedQueryInfo{
		RequestID:        req.ID,
		Model:            req.Model,
		Endpoint:         req.Endpoint,
		TimeToFirstToken: res.Metadata.TimeToFirstToken,
		TotalTime:        res.Metadata.TotalTime,
		Usage:            usage,
		CreatedAt:        time.Now(),
	}

	metrics.RequestDuration.WithLabelValues(pqi.Model, pqi.Endpoint).Observe(pqi.TotalTime.Seconds())
	if pqi.TimeToFirstToken != time.Duration(0) {
		metrics.TimeToFirstToken.WithLabelValues(pqi.Model, pqi.Endpoint).Observe(pqi.TimeToFirstToken.Seconds())
	}
	metrics.RequestCount.WithLabelValues(pqi.Model, pqi.Endpoint, "success").Inc()
	metrics.PromptTokens.WithLabelValues(pqi.Model, pqi.Endpoint).Add(float64(usage.PromptTokens))
	metrics.CompletionTokens.WithLabelValues(pqi.Model, pqi.Endpoint).Add(float64(usage.CompletionTokens))
	metrics.TotalTokens.WithLabelValues(pqi.Model, pqi.Endpoint).Add(float64(usage.TotalTokens))
	if usage.CompletionTokens > 0 && pqi.TotalTime > 0 {
		metrics.TokensPerSecond.WithLabelValues(pqi.Model, pqi.Endpoint).Observe(float64(usage.CompletionTokens) / pqi.TotalTime.Seconds())
	}
	if usage.IsCanceled {
		metrics.CanceledRequests.WithLabelValues(pqi.Model, pqi.Endpoint).Inc()
	}
}
