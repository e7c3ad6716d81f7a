package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signup"
)

// IntentHandler dispatches intents by name.
type IntentHandler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// SessionFeed reads sessions and streams their changes.
type SessionFeed interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Subscribe(id string, onChange func(*session.Session)) func()
}

// SignalRelay carries negotiation traffic between participants.
type SignalRelay interface {
	Subscribe(ctx context.Context, sessionID, selfID string, onMessage func(signaling.Message)) (func(), error)
	Publish(ctx context.Context, msg signaling.Message) (signaling.Message, error)
}

// SignupService manages the mailing list.
type SignupService interface {
	Signup(ctx context.Context, email string) (*signup.Email, error)
	List(ctx context.Context) ([]signup.Email, error)
}

// Config lists what the router serves. Nil members disable their routes.
type Config struct {
	Handler  IntentHandler
	MCP      http.Handler
	Sessions SessionFeed
	Signals  SignalRelay
	Signups  SignupService
	// AdminAuth guards the mailing list export; nil leaves it open.
	AdminAuth func(http.Handler) http.Handler
	Logger    *slog.Logger
}

// Server wires HTTP handlers.
type Server struct {
	handler  IntentHandler
	sessions SessionFeed
	signals  SignalRelay
	signups  SignupService
	logger   *slog.Logger
}

// NewServer creates an HTTP server router with middleware.
func NewServer(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		handler:  cfg.Handler,
		sessions: cfg.Sessions,
		signals:  cfg.Signals,
		signups:  cfg.Signups,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/health", srv.handleHealth)
	r.Get("/api/health", srv.handleHealth)

	if cfg.Handler != nil {
		r.Post("/rpc", srv.handleRPC)
	}
	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP)
		r.Handle("/mcp/*", cfg.MCP)
	}
	if cfg.Sessions != nil {
		r.Get("/sessions/{id}/events", srv.handleSessionEvents)
		if cfg.Signals != nil {
			r.Get("/sessions/{id}/signal", srv.handleSignal)
		}
	}
	if cfg.Signups != nil {
		r.Post("/api/signup", srv.handleSignup)
		r.Group(func(r chi.Router) {
			if cfg.AdminAuth != nil {
				r.Use(cfg.AdminAuth)
			}
			r.Get("/api/emails", srv.handleEmails)
		})
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "OK", "message": "Server is running"})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest(r.Body)
	if err != nil {
		WriteError(w, nil, ErrInvalidReq, "invalid request", nil)
		return
	}

	result, err := s.handler.Handle(r.Context(), req.Method, req.Params)
	if err != nil {
		rpcErr := errorFor(err)
		if rpcErr.Code == ErrInternal {
			s.logger.Error("intent failed", "method", req.Method, "error", err)
		}
		WriteError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	WriteResult(w, req.ID, result)
}

// corsMiddleware lets browser clients on other origins call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
