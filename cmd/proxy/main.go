package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"claude-proxy/internal/middleware"
	"claude-proxy/internal/openai"
	"claude-proxy/internal/registry"
	"claude-proxy/internal/routers"
	"claude-proxy/internal/shared"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	openaiAPIKey := flag.String("openai-api-key", "", "Upstream API key")
	openaiBaseURL := flag.String("openai-base-url", "https://api.openai.com/v1", "Upstream base URL")
	azureAPIVersion := flag.String("azure-api-version", "", "Azure OpenAI api-version (enables Azure mode)")
	requestTimeout := flag.Int("request-timeout", int(shared.DefaultUpstreamTimeout/time.Second), "Upstream timeout in seconds")
	extraHeaders := flag.String("extra-headers", "", "Extra upstream headers, comma separated key=value pairs")
	insecureSkipVerify := flag.Bool("insecure-skip-verify", false, "Disable TLS verification for the upstream")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	listenAddr := flag.String("listen-addr", ":8082", "Server listen address")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	if *openaiAPIKey == "" {
		panic("missing required flag: openai-api-key")
	}

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	client := openai.NewClient(openai.Config{
		APIKey:             *openaiAPIKey,
		BaseURL:            strings.TrimSuffix(*openaiBaseURL, "/"),
		APIVersion:         *azureAPIVersion,
		Timeout:            time.Duration(*requestTimeout) * time.Second,
		CustomHeaders:      parseHeaders(*extraHeaders),
		InsecureSkipVerify: *insecureSkipVerify,
	}, registry.New(), log)

	e := echo.New()
	e.GET(("/ping"), func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if apiKey != *metricsAPIKey {
				return c.String(shared.ErrUnauthorized.StatusCode, shared.ErrUnauthorized.Err.Error())
			}
			return next(c)
		}
	})
	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	// Register routes
	err = routers.RegisterProxyRoutes(base, client, nil, log, *debug)
	if err != nil {
		panic(err)
	}

	go func() {
		if err := e.Start(*listenAddr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Wait for interrupt signal to gracefully shut down the server
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}

func parseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	headers := map[string]string{}
	for pair := range strings.SplitSeq(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			panic(fmt.Sprintf("malformed extra-headers pair: %q", pair))
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}
