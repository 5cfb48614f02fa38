package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"transfersvc/internal/idempotency"
	"transfersvc/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "X-Idempotency-Replayed"
	HeaderLockStrategy   = "X-Lock-Strategy"
)

func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		logger.Info("http request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		)
	}
}

// RecoveryMiddleware turns a panic into the generic 500 body.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				response.ServerError(c)
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Idempotency-Key, X-Lock-Strategy")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// cachedResponse is what the idempotency gate stores for a completed request.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

type uncachedError struct{ status int }

func (e uncachedError) Error() string { return http.StatusText(e.status) }

// IdempotencyMiddleware requires an Idempotency-Key header and runs the rest
// of the chain through the gate. Only 2xx responses are cached; a replay
// carries the X-Idempotency-Replayed header.
func IdempotencyMiddleware(gate *idempotency.Gate, ttl time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			response.BadRequest(c, "Missing Idempotency-Key header")
			return
		}

		var ran bool
		payload, replayed, err := gate.Execute(c.Request.Context(), key, ttl, func(context.Context) ([]byte, error) {
			ran = true
			rec := &bodyRecorder{ResponseWriter: c.Writer}
			c.Writer = rec
			c.Next()
			c.Writer = rec.ResponseWriter

			status := c.Writer.Status()
			if status < http.StatusOK || status >= http.StatusMultipleChoices {
				return nil, uncachedError{status: status}
			}
			return json.Marshal(cachedResponse{
				Status:      status,
				ContentType: c.Writer.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
		})

		if ran {
			// the chain already wrote its own response
			var uncached uncachedError
			if err != nil && !errors.As(err, &uncached) {
				logger.Error("idempotent response not cached", zap.String("key", key), zap.Error(err))
			}
			return
		}

		if err != nil {
			writeError(c, logger, err)
			return
		}

		if replayed {
			var cached cachedResponse
			if err := json.Unmarshal(payload, &cached); err != nil {
				logger.Error("decode cached response", zap.String("key", key), zap.Error(err))
				response.ServerError(c)
				return
			}
			replay(c, &cached)
		}
	}
}

func replay(c *gin.Context, cached *cachedResponse) {
	c.Header(HeaderReplayed, "true")
	if len(cached.Body) == 0 {
		c.AbortWithStatus(cached.Status)
		return
	}
	contentType := cached.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(cached.Status, contentType, cached.Body)
	c.Abort()
}
