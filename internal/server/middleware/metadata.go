package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// RequestMetadata is filled in by the middlewares of a request as it
// passes through them. Auth sets the user fields.
type RequestMetadata struct {
	RequestID         string
	IP                string
	UserID            string
	DisplayName       string
	GlobalPermissions state.Permission
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// creates and injects the RequestMetadata struct into the request.
// **This should be the first middleware in the chain.**
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta := &RequestMetadata{RequestID: r.Header.Get("X-Request-ID")}
			if reqMeta.RequestID == "" {
				reqMeta.RequestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqMeta.RequestID)

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr // Fallback
			}
			reqMeta.IP = ip
			ctx := context.WithValue(r.Context(), reqMetaKey, reqMeta)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
