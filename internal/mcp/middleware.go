package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type contextKey int

const keyLabelKey contextKey = iota

// getKeyLabel returns the label of the API key that authenticated the request.
func getKeyLabel(ctx context.Context) string {
	v, _ := ctx.Value(keyLabelKey).(string)
	return v
}

// KeyResolver resolves an API key to its label.
type KeyResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// openMethod reports whether method needs no key: the handshake plus discovery of
// intents and their docs. The docs are the only resources.
func openMethod(method string) bool {
	switch method {
	case "initialize", "ping", "tools/list", "resources/list", "resources/read":
		return true
	}
	return strings.HasPrefix(method, "notifications/")
}

// keyedIntents requires an API key for every intent invocation. Rejections name
// the intent so a misconfigured client shows up in the log.
func keyedIntents(resolver KeyResolver, logger *slog.Logger) sdkmcp.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if openMethod(method) {
				return next(ctx, method, req)
			}

			intent := method
			if call, ok := safeParams(req).(*sdkmcp.CallToolParamsRaw); ok && call != nil {
				intent = call.Name
			}
			reject := func(reason string) (sdkmcp.Result, error) {
				logger.Warn("intent rejected", "intent", intent, "mcp_session", safeSessionID(req), "reason", reason)
				return nil, fmt.Errorf("unauthorized: %s: %s", intent, reason)
			}

			extra := req.GetExtra()
			if extra == nil || extra.Header == nil {
				return reject("no request headers")
			}
			token := bearerToken(extra.Header.Get("Authorization"))
			if token == "" {
				return reject("missing bearer token")
			}
			label, err := resolver.Resolve(ctx, token)
			if err != nil || label == "" {
				return reject("unknown API key")
			}

			ctx = context.WithValue(ctx, keyLabelKey, label)
			return next(ctx, method, req)
		}
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
