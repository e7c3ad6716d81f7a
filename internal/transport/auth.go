package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// ErrUnauthorized indicates invalid or missing credentials.
var ErrUnauthorized = errors.New("unauthorized")

const adminRealm = `Bearer realm="swift-to-hear admin"`

type keyLabelKey struct{}

// KeyResolver resolves an API key to the label it was issued under.
type KeyResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// KeyLabelFromContext returns the label of the API key that authenticated the request.
func KeyLabelFromContext(ctx context.Context) (string, bool) {
	label, ok := ctx.Value(keyLabelKey{}).(string)
	return label, ok
}

// AdminAuth guards the admin routes with issued API keys. Every admin access is
// logged under the key's label; rejected attempts are logged with the route.
func AdminAuth(resolver KeyResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deny := func(reason string) {
				logger.Warn("admin access denied", "path", r.URL.Path, "remote", r.RemoteAddr, "reason", reason)
				w.Header().Set("WWW-Authenticate", adminRealm)
				writeStatus(w, http.StatusUnauthorized, errorBody{Error: reason})
			}

			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				deny("missing bearer token")
				return
			}
			label, err := resolver.Resolve(r.Context(), token)
			if err != nil || label == "" {
				deny("invalid bearer token")
				return
			}

			logger.Info("admin access", "api_key", label, "method", r.Method, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), keyLabelKey{}, label)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
