package testserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/participant"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/phase"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signup"
	"github.com/imtompeel/swiftToHear-sub002/internal/mcp"
	"github.com/imtompeel/swiftToHear-sub002/internal/sqlite"
	"github.com/imtompeel/swiftToHear-sub002/internal/transport"
	"github.com/stretchr/testify/require"
)

// TestServer is the full HTTP surface over a private in-memory database.
type TestServer struct {
	Server   *httptest.Server
	DB       *sqlite.DB
	Token    string
	Sessions *session.Service
	Relay    *signaling.Relay
}

// New starts a server. With auth the MCP endpoint and the mailing list admin route
// require Token.
func New(t *testing.T, auth bool) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessionRepo := sqlite.NewSessionRepository(db, logger)
	keys := sqlite.NewAPIKeyRepository(db)

	relay := signaling.NewRelay(sqlite.NewSignalingRepository(db, logger), signaling.Options{}, logger)
	sessions := session.NewService(sessionRepo, relay, session.Options{}, logger)
	handler := mcp.NewHandler(
		sessions,
		participant.NewService(sessionRepo, sessions, logger),
		phase.NewService(sessionRepo, sessions, logger),
		relay,
	)

	mcpServer := mcp.NewServer(mcp.Config{
		Handler:       handler,
		Resolver:      keys,
		AuthEnabled:   auth,
		TransportMode: mcp.ModeHTTP,
		Logger:        logger,
	})

	var adminAuth func(http.Handler) http.Handler
	if auth {
		adminAuth = transport.AdminAuth(keys, logger)
	}
	server := httptest.NewServer(transport.NewServer(transport.Config{
		Handler:   handler,
		MCP:       mcp.NewHTTPHandler(mcpServer),
		Sessions:  sessions,
		Signals:   relay,
		Signups:   signup.NewService(sqlite.NewEmailRepository(db), logger),
		AdminAuth: adminAuth,
		Logger:    logger,
	}))

	token, err := keys.Issue(context.Background(), "test")
	require.NoError(t, err)

	t.Cleanup(func() {
		server.Close()
		sessions.Close()
		relay.Close()
		_ = db.Close()
	})

	return &TestServer{
		Server:   server,
		DB:       db,
		Token:    token,
		Sessions: sessions,
		Relay:    relay,
	}
}

// BearerClient returns an http.Client that sends Token on every request.
func (ts *TestServer) BearerClient() *http.Client {
	return &http.Client{Transport: &bearerTransport{token: ts.Token, base: http.DefaultTransport}}
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (b *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(req)
}
