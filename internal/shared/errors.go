package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// sane defaults are listed below. For routes that need custom error messages,
// a request error can be generated and a handler expects the router to return
// the exact message inside the request error msg
//
// Error codes should be bubbled where the RequestError msg is expected to be
// returned to the user. If the user should see a generic error message but
// the error chain should include more detail for logging purposes, then a generic
// error should be added that provides context
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

func (r *RequestError) Unwrap() error {
	return r.Err
}

// StatusClientClosedRequest is nginx's non-standard 499. It marks requests
// aborted by the client so they are never reported as upstream faults.
const StatusClientClosedRequest = 499

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrUnauthorized  = &RequestError{Err: errors.New("unauthorized"), StatusCode: 401}

	ErrInvalidRequest = &RequestError{Err: errors.New("invalid request body"), StatusCode: 400}

	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
	ErrBadRequest          = &RequestError{Err: errors.New("bad request"), StatusCode: 400}
	ErrNotFound            = &RequestError{Err: errors.New("not found"), StatusCode: 404}

	ErrRequestCanceled = &RequestError{Err: errors.New("request cancelled by client"), StatusCode: StatusClientClosedRequest}

	ErrFailedUpstreamReq         = &MetricsError{Msg: "failed to send http request to upstream", Code: "upstream_http_err"}
	ErrFailedUpstreamReqFromCode = &MetricsError{Msg: "upstream responded with non-200", Code: "upstream_http_status_err"}
	ErrFailedReadingResponse     = &MetricsError{Msg: "failed to read upstream response", Code: "upstream_response_err"}
	ErrMissingDoneToken          = &MetricsError{Msg: "missing [DONE] token", Code: "missing_done_token"}
	ErrUpstreamContext           = &MetricsError{Msg: "upstream context canceled", Code: "upstream_context_err"}
	ErrClientCanceled            = &MetricsError{Msg: "client canceled request", Code: "client_canceled"}
)

type MetricsError struct {
	Msg  string
	Code string
}

func (m *MetricsError) Error() string {
	return m.String()
}

func (m *MetricsError) String() string {
	return m.Msg
}
