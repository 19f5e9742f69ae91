package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

type userKey struct{}

// UserFrom returns the authenticated user id, or "" outside the auth
// middleware.
func UserFrom(ctx context.Context) string {
	if v, ok := ctx.Value(userKey{}).(string); ok {
		return v
	}
	return ""
}

type ageKey struct{}

// AgeFrom returns the student age claim, or 0 when the token has none.
func AgeFrom(ctx context.Context) int {
	if v, ok := ctx.Value(ageKey{}).(int); ok {
		return v
	}
	return 0
}

// CORS allows the configured origins. An empty allowlist admits any origin
// (local development).
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(strings.TrimSuffix(o, "/"))
		if o != "" {
			allowed[o] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			switch {
			case origin == "":
			case len(allowed) == 0 || allowed[strings.TrimSuffix(origin, "/")]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			default:
				// Disallowed origin: no CORS headers, the browser blocks it.
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Auth verifies the bearer token (HS256) and places the subject claim into
// the request context. Tokens without a subject are rejected.
func Auth(secret string, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "missing bearer token")
				return
			}
			claims, err := validateToken(token, secret)
			if err != nil {
				log.Debug("token rejected", zap.Error(err))
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "invalid token")
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "token has no subject")
				return
			}
			ctx := context.WithValue(r.Context(), userKey{}, sub)
			if age, ok := claims["age"].(float64); ok && age > 0 {
				ctx = context.WithValue(ctx, ageKey{}, int(age))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	// Browsers cannot set headers on websocket upgrades; allow ?token=.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func validateToken(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// Guard inspects a request before its handler runs. Returning false means
// the guard already wrote a response and the chain stops.
type Guard func(w http.ResponseWriter, r *http.Request) bool

// guarded runs guards in order ahead of h; the first refusal wins.
func guarded(h http.HandlerFunc, guards ...Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, g := range guards {
			if !g(w, r) {
				return
			}
		}
		h(w, r)
	}
}

func postOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, codeInvalidArgument, "POST required")
		return false
	}
	return true
}
