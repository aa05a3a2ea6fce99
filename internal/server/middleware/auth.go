package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

const TokenCookie = "session-token"

type PermissionCompiler func(names []string) (state.Permission, error)

// AppClaims defines our custom JWT claims structure.
type AppClaims struct {
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

var errNoToken = errors.New("no token in request")

// tokenFrom looks for the token in the Authorization header, then the
// session cookie, then the token query parameter. Browsers cannot set
// headers on a WebSocket upgrade, hence the fallbacks.
func tokenFrom(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return "", errors.New("authorization header is not a bearer token")
		}
		return strings.TrimSpace(token), nil
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errNoToken
}

// ParseToken validates an HMAC signed token and returns its claims.
func ParseToken(tokenString, jwtSecret string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AppClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, errors.New("token is missing the 'sub' claim")
	}
	return claims, nil
}

// SignToken issues an HS256 token for userID. A zero ttl means no expiry.
func SignToken(jwtSecret, userID, name string, perms []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AppClaims{
		Name:        name,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

func NewAuthMiddleware(logger *slog.Logger, jwtSecret string, pCompiler PermissionCompiler) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString, err := tokenFrom(r)
			if err != nil {
				logger.Warn("Rejected request without usable token", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(tokenString, jwtSecret)
			if err != nil {
				logger.Warn("Invalid JWT token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			perms, err := pCompiler(claims.Permissions)
			if err != nil {
				logger.Error("Token contains unregistered permissions",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			reqMeta.UserID = claims.Subject
			reqMeta.DisplayName = claims.Name
			reqMeta.GlobalPermissions = perms
			next.ServeHTTP(w, r)
		})
	}
}
