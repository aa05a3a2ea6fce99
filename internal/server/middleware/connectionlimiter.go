package middleware

import (
	"log/slog"
	"net/http"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
)

// Connection limit modes.
const (
	LimitReject = "reject" // refuse the new connection
	LimitCycle  = "cycle"  // close the oldest connection and admit the new one
)

type UserConnectionCounter func(userID string) (int, error)
type UserConnectionCycler func(userID string)

// NewConnectionLimiter caps the live connections per user. It reads the
// user from the request metadata, so auth must run before it. A zero
// MaxPerUser disables the limit.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	cycler UserConnectionCycler,
	limit config.ConnectionLimitConfig,
) Middleware {
	logger = logger.With(slog.String("component", "connection_limiter"))
	if limit.MaxPerUser > 0 && limit.Mode != LimitReject && limit.Mode != LimitCycle {
		logger.Error("Invalid connection limit mode, falling back to reject", slog.String("mode", limit.Mode))
		limit.Mode = LimitReject
	}

	return func(next http.Handler) http.Handler {
		if limit.MaxPerUser <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok || reqMeta.UserID == "" {
				logger.Error("No authenticated user in request metadata")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			count, err := counter(reqMeta.UserID)
			if err != nil {
				logger.Error("Failed to count user connections", slog.String("userID", reqMeta.UserID), slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if count < limit.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("User connection limit reached",
				slog.String("userID", reqMeta.UserID),
				slog.Int("count", count),
				slog.String("mode", limit.Mode),
			)
			if limit.Mode == LimitReject {
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			}
			cycler(reqMeta.UserID)
			next.ServeHTTP(w, r)
		})
	}
}
