package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// maxRequestBodySize bounds ioctl request bodies.
const maxRequestBodySize = 64 << 10

// Error codes for transport-level failures.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotReady   = "not_ready"
	ErrCodeQueueFull  = "queue_full"
	ErrCodeTimeout    = "timeout"
	ErrCodeInternal   = "internal_error"
)

// Error is the body of a request that never reached completion.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Info is the body of GET /v1/channel.
type Info struct {
	ID    string `json:"id"`
	State State  `json:"state"`
}

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

func (c *Channel) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(c.requestIDMiddleware)
	r.Use(c.loggingMiddleware)
	r.Use(c.recoveryMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ioctl", c.handleIoctl)
		r.Get("/channel", c.handleInfo)
	})
	return r
}

// handleIoctl queues one request and writes its completion.
func (c *Channel) handleIoctl(w http.ResponseWriter, r *http.Request) {
	switch c.State() {
	case StateUninitialized:
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, ErrNotReady.Error())
		return
	case StateDeleted:
		writeJSON(w, http.StatusGone, deletedResponse())
		return
	}

	var req filter.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, filter.Response{Status: filter.StatusInvalidParameter})
		return
	}
	if req.InputLength < 0 || req.OutputLength < 0 {
		writeJSON(w, http.StatusBadRequest, filter.Response{Status: filter.StatusInvalidParameter})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.queue.submit(ctx, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrChannelDeleted), errors.Is(err, filter.ErrChannelDeleted):
		writeJSON(w, http.StatusGone, deletedResponse())
	case errors.Is(err, filter.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeQueueFull, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "request did not complete in time")
	default:
		c.logger.Error("control request failed", "channel_id", c.id, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "request failed")
	}
}

func (c *Channel) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Info{ID: c.id, State: c.State()})
}

func (c *Channel) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *Channel) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		c.logger.Debug("control request",
			"channel_id", c.id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

func (c *Channel) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				c.logger.Error("panic recovered in control handler",
					"error", err,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; the peer may have gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}
