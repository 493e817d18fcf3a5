package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"claude-proxy/internal/shared"
)

// Remediation strings substituted for well known upstream failures. The raw
// upstream message passes through unchanged when nothing matches.
const (
	regionGuidance  = "OpenAI API is not available in your region. Consider using a VPN or Azure OpenAI service."
	apiKeyGuidance  = "Invalid API key. Please check your OPENAI_API_KEY configuration."
	rateGuidance    = "Rate limit exceeded. Please wait and try again, or upgrade your API plan."
	modelGuidance   = "Model not found. Please check your BIG_MODEL and SMALL_MODEL configuration."
	billingGuidance = "Billing issue. Please check your OpenAI account billing status."
)

// ClassifyMessage maps a raw upstream error message to actionable guidance.
// Matching is case insensitive and first match wins. Pure; callable without
// any live upstream.
func ClassifyMessage(raw string) string {
	msg := strings.ToLower(raw)

	switch {
	case strings.Contains(msg, "unsupported_country_region_territory") ||
		strings.Contains(msg, "country, region, or territory not supported"):
		return regionGuidance
	case strings.Contains(msg, "invalid_api_key") || strings.Contains(msg, "unauthorized"):
		return apiKeyGuidance
	case strings.Contains(msg, "rate_limit") || strings.Contains(msg, "quota"):
		return rateGuidance
	case strings.Contains(msg, "model") &&
		(strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")):
		return modelGuidance
	case strings.Contains(msg, "billing") || strings.Contains(msg, "payment"):
		return billingGuidance
	}
	return raw
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// classifyAPIError turns a non-200 upstream response into a RequestError
// carrying the upstream status and a refined message.
func classifyAPIError(status int, body []byte) error {
	var parsed apiErrorBody
	message := string(body)
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	if status == 0 {
		status = http.StatusInternalServerError
	}

	return errors.Join(&shared.RequestError{
		StatusCode: status,
		Err:        errors.New(ClassifyMessage(message)),
	}, shared.ErrFailedUpstreamReqFromCode)
}

// classifyTransportError downgrades local faults (dns, dial, tls, timeout)
// to a 500 instead of letting raw transport errors escape.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return errors.Join(shared.ErrRequestCanceled, shared.ErrClientCanceled, err)
	}
	return errors.Join(&shared.RequestError{
		StatusCode: http.StatusInternalServerError,
		Err:        errors.New(ClassifyMessage(err.Error())),
	}, shared.ErrFailedUpstreamReq, err)
}

// IsCanceled reports whether err represents a client initiated cancellation
// rather than an upstream fault.
func IsCanceled(err error) bool {
	var rerr *shared.RequestError
	return errors.As(err, &rerr) && rerr.StatusCode == shared.StatusClientClosedRequest
}
