// Package client talks to a session server over HTTP and websockets: intents over
// JSON-RPC, live session documents and the signaling bridge.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/mcp"
	"github.com/imtompeel/swiftToHear-sub002/internal/transport"
)

// Client calls one session server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
	Logger  *slog.Logger

	nextID atomic.Int64
}

// New creates a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Dialer:  websocket.DefaultDialer,
		Logger:  logger,
	}
}

// RPCError is an error returned by the server for an intent.
type RPCError struct {
	Code    int                  `json:"code"`
	Message string               `json:"message"`
	Data    *transport.ErrorData `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil && e.Data.Code != "" {
		return fmt.Sprintf("%s: %s", e.Data.Code, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// AppCode returns the application error code, such as SESSION_FULL, if any.
func (e *RPCError) AppCode() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.Code
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call invokes an intent and decodes its result into out, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}
	body, err := json.Marshal(transport.Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("calling %s: status %s", method, resp.Status)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpc.Error != nil {
		return rpc.Error
	}
	if out == nil || len(rpc.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpc.Result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// CreateSession creates a session hosted by the caller.
func (c *Client) CreateSession(ctx context.Context, params mcp.CreateSessionParams) (*session.Session, error) {
	var sess session.Session
	if err := c.Call(ctx, "createSession", params, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession fetches the current session document.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var sess session.Session
	if err := c.Call(ctx, "getSession", mcp.SessionParams{SessionID: sessionID}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// JoinSession joins a session.
func (c *Client) JoinSession(ctx context.Context, params mcp.JoinSessionParams) (*session.Session, error) {
	var sess session.Session
	if err := c.Call(ctx, "joinSession", params, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// LeaveSession leaves a session. The response reports whether the session was torn down.
func (c *Client) LeaveSession(ctx context.Context, sessionID, participantID string) (mcp.LeaveResponse, error) {
	var out mcp.LeaveResponse
	err := c.Call(ctx, "leaveSession", mcp.ParticipantParams{SessionID: sessionID, ParticipantID: participantID}, &out)
	return out, err
}

// SetConnectionStatus reports the caller's media link quality.
func (c *Client) SetConnectionStatus(ctx context.Context, sessionID, participantID string, status session.ConnectionStatus) error {
	return c.Call(ctx, "setConnectionStatus", mcp.SetConnectionStatusParams{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Status:        status,
	}, nil)
}

func (c *Client) wsURL(path string) string {
	switch {
	case strings.HasPrefix(c.BaseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.BaseURL, "https://") + path
	case strings.HasPrefix(c.BaseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.BaseURL, "http://") + path
	default:
		return c.BaseURL + path
	}
}
