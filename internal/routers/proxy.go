package routers

import (
	"errors"
	"net/http"

	"claude-proxy/internal/ctx"
	"claude-proxy/internal/handlers/proxy"
	"claude-proxy/internal/metrics"
	"claude-proxy/internal/openai"
	"claude-proxy/internal/shared"

	"github.com/labstack/echo/v4"
	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"go.uber.org/zap"
)

type ProxyRouter struct {
	ph *proxy.ProxyHandler
}

func RegisterProxyRoutes(e *echo.Group, client *openai.Client, transform proxy.TransformFunc, log *zap.SugaredLogger, debug bool) error {
	ph := proxy.NewProxyHandler(client, log, debug)
	ph.Transform = transform

	proxyRouter := ProxyRouter{ph: ph}

	v1 := e.Group("v1")
	v1.POST("/chat/completions", proxyRouter.ChatRequest)
	v1.DELETE("/requests/:request_id", proxyRouter.CancelRequest)
	return nil
}

func (pr *ProxyRouter) ChatRequest(cc echo.Context) error {
	_, err := pr.Completion(cc)
	return err
}

// CancelRequest flags an in flight request for cancellation. Unknown or
// already finished ids are reported, not failed.
func (pr *ProxyRouter) CancelRequest(cc echo.Context) error {
	c := cc.(*ctx.Context)
	id := c.Param("request_id")

	if pr.ph.Client.Registry.Cancel(id) {
		return c.JSON(http.StatusOK, map[string]any{"id": id, "status": "canceled"})
	}
	return c.JSON(shared.ErrNotFound.StatusCode, map[string]any{"id": id, "status": "not_found"})
}

func (pr *ProxyRouter) Completion(cc echo.Context) (*proxy.CompletionOutput, error) {
	c := cc.(*ctx.Context)
	body, err := readRequestBody(c)
	if err != nil {
		c.LogValues.AddError(err)
		return nil, c.JSON(http.StatusBadRequest, shared.OpenAIError{
			Message: "failed to read request body",
			Object:  "error",
			Type:    "BadRequest",
			Code:    http.StatusBadRequest,
		})
	}

	reqInfo, preErr := pr.ph.Preprocess(proxy.PreprocessInput{
		Body:      body,
		RequestID: c.Reqid,
	})
	if preErr != nil {
		c.LogValues.AddError(preErr)
		var rerr *shared.RequestError
		if errors.As(preErr, &rerr) {
			return nil, c.JSON(rerr.StatusCode, shared.OpenAIError{
				Message: rerr.Error(),
				Object:  "error",
				Type:    "BadRequest",
				Code:    rerr.StatusCode,
			})
		}
		return nil, c.JSON(500, shared.OpenAIError{
			Message: "internal server error",
			Object:  "error",
			Type:    "InternalError",
			Code:    500,
		})
	}

	logfields := buildLogFields(c, proxy.EndpointChat)

	var out *proxy.CompletionOutput
	var reqErr error
	switch reqInfo.Stream {
	case true:
		out, reqErr = pr.StreamCompletion(c, reqInfo, logfields)
	case false:
		out, reqErr = pr.NonStreamCompletion(c, reqInfo, logfields)
	}

	// This is only the case that an error happens and no headers or data has
	// been sent back
	if reqErr != nil {
		c.LogValues.AddError(reqErr)
		if !openai.IsCanceled(reqErr) {
			metrics.ErrorCount.WithLabelValues(reqInfo.Model, reqInfo.Endpoint, "dispatch").Inc()
		}
		var rerr *shared.RequestError
		// Unknown error, shouldnt really happen
		if !errors.As(reqErr, &rerr) {
			c.LogValues.LogLevel = "ERROR"
			return nil, c.JSON(500, shared.OpenAIError{
				Message: "unknown internal error",
				Object:  "error",
				Type:    "InternalError",
				Code:    500,
			})
		}
		// client initiated cancellations are not service faults
		if rerr.StatusCode >= 500 {
			c.LogValues.LogLevel = "ERROR"
		}
		return nil, c.JSON(rerr.StatusCode, shared.OpenAIError{
			Message: rerr.Error(),
			Object:  "error",
			Type:    errorType(rerr.StatusCode),
			Code:    rerr.StatusCode,
		})
	}

	// Track all metadata for request
	c.LogValues.CompletionInfo = &ctx.CompletionInfo{
		Model:            reqInfo.Model,
		Stream:           reqInfo.Stream,
		Canceled:         out.Metadata.Canceled,
		Completed:        out.Metadata.Completed,
		TotalTime:        out.Metadata.TotalTime,
		TimeToFirstToken: out.Metadata.TimeToFirstToken,
	}
	c.LogValues.AddError(out.Error)
	if out.Error != nil && !openai.IsCanceled(out.Error) {
		c.LogValues.LogLevel = "ERROR"
		metrics.ErrorCount.WithLabelValues(reqInfo.Model, reqInfo.Endpoint, "midstream").Inc()
	}

	return out, nil
}

func (pr *ProxyRouter) StreamCompletion(c *ctx.Context, reqInfo *proxy.RequestInfo, logfields map[string]string) (*proxy.CompletionOutput, error) {
	streamCallback := createStreamCallback(c)

	return pr.ph.DoCompletion(proxy.CompletionInput{
		Req:          reqInfo,
		Ctx:          c.Request().Context(),
		LogFields:    logfields,
		StreamWriter: streamCallback,
	})
}

func (pr *ProxyRouter) NonStreamCompletion(c *ctx.Context, reqInfo *proxy.RequestInfo, logfields map[string]string) (*proxy.CompletionOutput, error) {
	out, reqErr := pr.ph.DoCompletion(proxy.CompletionInput{
		Req:       reqInfo,
		Ctx:       c.Request().Context(),
		LogFields: logfields,
	})
	if reqErr != nil {
		return out, reqErr
	}

	// Need to actually send back response for non streaming requests
	c.Response().Header().Set("Content-Type", "application/json")
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write(out.FinalResponse); err != nil {
		// response already committed, nothing more to send; the client
		// going away is not a service fault
		c.LogValues.AddError(utils.Wrap("failed writing final response", err))
	}
	return out, nil
}

func errorType(status int) string {
	switch {
	case status == shared.StatusClientClosedRequest:
		return "RequestCancelled"
	case status >= 500:
		return "InternalError"
	default:
		return "BadRequest"
	}
}
