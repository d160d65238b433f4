package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nhblease/observability"
)

const HeaderRequestID = "X-Request-ID"

// Observe traces each request, records it in the API metrics under module
// and logs it at debug level with its request id.
func Observe(module string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	tracer := otel.Tracer("nhblease/api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)
			ctx, span := tracer.Start(r.Context(), module, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("request.id", requestID),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))

			route := r.URL.Path
			if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", recorder.status),
			)
			span.End()
			elapsed := time.Since(start)
			observability.ModuleMetrics().Observe(module, r.Method+" "+route, recorder.status, elapsed)
			logger.Debug("request served",
				"component", "api",
				"request_id", requestID,
				"method", r.Method,
				"route", route,
				"status", recorder.status,
				"duration_ms", float64(elapsed.Microseconds())/1000)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
