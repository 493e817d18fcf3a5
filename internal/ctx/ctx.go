// Package ctx
package ctx

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CompletionInfo captures per request dispatch metadata for the final
// request log line.
type CompletionInfo struct {
	Model            string
	Stream           bool
	Canceled         bool
	Completed        bool
	TotalTime        time.Duration
	TimeToFirstToken time.Duration
}

// ContextLogValues should only be accessed for logging, and not for
// actual business logic, or any other logic
type ContextLogValues struct {
	// Added in base middleware
	RequestID       string
	ExternalID      string
	StartTime       time.Time
	StatusCode      int
	RequestDuration time.Duration
	Path            string

	// Override log Log Level
	// useful for streaming where status code might be sent before errors from
	// mid-stream or post processing occur
	LogLevel string

	// Added dynamically
	CompletionInfo *CompletionInfo
	Error          error
}

// AddError adds errors to the error chain. Always add errors, even if only warnings.
func (c *ContextLogValues) AddError(err error) {
	if err == nil {
		return
	}
	if c.Error == nil {
		c.Error = err
		return
	}
	c.Error = fmt.Errorf("%w: %w", err, c.Error)
}

func (c *ContextLogValues) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("request_id", c.RequestID)
	enc.AddString("external_id", c.ExternalID)
	enc.AddTime("start_time", c.StartTime)
	enc.AddDuration("request_duration", c.RequestDuration)
	enc.AddInt("status_code", c.StatusCode)
	if c.CompletionInfo != nil {
		enc.AddString("model", c.CompletionInfo.Model)
		enc.AddBool("stream", c.CompletionInfo.Stream)
		enc.AddBool("canceled", c.CompletionInfo.Canceled)
		enc.AddBool("completed", c.CompletionInfo.Completed)
		enc.AddDuration("total_time", c.CompletionInfo.TotalTime)
		enc.AddDuration("time_to_first_token", c.CompletionInfo.TimeToFirstToken)
	}
	if c.Error != nil {
		enc.AddString("error", c.Error.Error())
	}
	enc.AddString("path", c.Path)
	return nil
}

type Context struct {
	echo.Context
	Log       *zap.SugaredLogger
	Reqid     string
	LogValues *ContextLogValues
}
