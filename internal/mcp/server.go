package mcp

import (
	"log/slog"
	"net/http"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport modes.
const (
	ModeStdio = "stdio"
	ModeHTTP  = "http"
)

// Config contains server configuration.
type Config struct {
	Handler       *Handler
	Resolver      KeyResolver
	AuthEnabled   bool
	TransportMode string
	Version       string
	Logger        *slog.Logger
}

// NewServer creates an MCP server exposing every intent as a tool.
func NewServer(cfg Config) *sdkmcp.Server {
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "swift-to-hear",
		Version: version,
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Stdio is local only and never authenticates.
	if cfg.TransportMode != ModeStdio && cfg.AuthEnabled && cfg.Resolver != nil {
		server.AddReceivingMiddleware(keyedIntents(cfg.Resolver, cfg.Logger))
	}
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Handler)

	return server
}

// NewHTTPHandler serves server over the streamable HTTP transport.
func NewHTTPHandler(server *sdkmcp.Server) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server {
		return server
	}, nil)
}
