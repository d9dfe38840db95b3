package logger

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/stock-issuance-api/pkg/config"
	"github.com/noah-isme/stock-issuance-api/pkg/middleware/requestid"
)

const serviceName = "stock-issuance-api"

func New(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	}

	zapCfg.Encoding = "json"
	if cfg.Log.Format == "console" {
		zapCfg.Encoding = "console"
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]interface{}{"service": serviceName, "env": cfg.Env}

	return zapCfg.Build()
}

// WithRequest returns l annotated with the request ID carried by ctx.
func WithRequest(ctx context.Context, l *zap.Logger) *zap.Logger {
	if id := requestid.FromContext(ctx); id != "" {
		return l.With(zap.String("request_id", id))
	}
	return l
}

// FieldsFunc contributes extra fields to the access log, e.g. the caller.
type FieldsFunc func(c *gin.Context) []zap.Field

// MiddlewareOption tunes GinMiddleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	skip   map[string]struct{}
	fields []FieldsFunc
}

// SkipPaths suppresses access logs for successful requests to paths, used for
// probes and scrapes.
func SkipPaths(paths ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		for _, p := range paths {
			cfg.skip[p] = struct{}{}
		}
	}
}

// WithFields appends fields computed after the handler ran.
func WithFields(fn FieldsFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.fields = append(cfg.fields, fn)
	}
}

// GinMiddleware writes one access log line per request. 4xx responses log at
// warn and 5xx at error.
func GinMiddleware(l *zap.Logger, opts ...MiddlewareOption) gin.HandlerFunc {
	cfg := &middlewareConfig{skip: map[string]struct{}{}}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if _, skip := cfg.skip[c.Request.URL.Path]; skip && status < http.StatusInternalServerError {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		for _, fn := range cfg.fields {
			fields = append(fields, fn(c)...)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			l.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			l.Warn("http_request", fields...)
		default:
			l.Info("http_request", fields...)
		}
	}
}
