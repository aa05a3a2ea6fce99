package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// statusRecorder remembers the response status. It keeps Hijack working
// so WebSocket upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// NewRequestLogger logs every request once it is done. Upgraded
// connections are logged when they close.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			}
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				attrs = append(attrs,
					slog.String("requestID", reqMeta.RequestID),
					slog.String("ip", reqMeta.IP),
					slog.String("userID", reqMeta.UserID),
				)
			}
			logger.Info("HTTP request handled", attrs...)
		})
	}
}
