package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/participant"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/phase"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signup"
	"github.com/imtompeel/swiftToHear-sub002/internal/mcp"
	"github.com/imtompeel/swiftToHear-sub002/internal/sqlite"
	"github.com/stretchr/testify/require"
)

type stack struct {
	url      string
	sessions *session.Service
	relay    *signaling.Relay
}

func newStack(t *testing.T, adminAuth func(http.Handler) http.Handler) *stack {
	t.Helper()
	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := sqlite.NewSessionRepository(db, logger)
	relay := signaling.NewRelay(sqlite.NewSignalingRepository(db, logger), signaling.Options{}, logger)
	sessions := session.NewService(repo, relay, session.Options{}, logger)
	t.Cleanup(sessions.Close)
	t.Cleanup(relay.Close)

	handler := mcp.NewHandler(
		sessions,
		participant.NewService(repo, sessions, logger),
		phase.NewService(repo, sessions, logger),
		relay,
	)
	server := httptest.NewServer(NewServer(Config{
		Handler:   handler,
		Sessions:  sessions,
		Signals:   relay,
		Signups:   signup.NewService(sqlite.NewEmailRepository(db), logger),
		AdminAuth: adminAuth,
		Logger:    logger,
	}))
	t.Cleanup(server.Close)

	return &stack{url: server.URL, sessions: sessions, relay: relay}
}

func (s *stack) rpc(t *testing.T, method string, params any) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: raw, ID: 1})
	require.NoError(t, err)

	resp, err := http.Post(s.url+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *stack) createSession(t *testing.T) string {
	t.Helper()
	out := s.rpc(t, "createSession", map[string]any{"hostId": "A", "hostName": "Ann"})
	require.Nil(t, out.Error)
	doc := out.Result.(map[string]any)
	return doc["sessionId"].(string)
}

func (s *stack) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+path, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHTTPServer_Health(t *testing.T) {
	s := newStack(t, nil)

	for _, path := range []string{"/health", "/api/health"} {
		resp, err := http.Get(s.url + path)
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "OK", body["status"])
	}
}

func TestHTTPServer_RPC(t *testing.T) {
	s := newStack(t, nil)
	id := s.createSession(t)

	out := s.rpc(t, "joinSession", map[string]any{"sessionId": id, "participantId": "B", "name": "Bo", "role": "listener"})
	require.Nil(t, out.Error)
	doc := out.Result.(map[string]any)
	require.Len(t, doc["participants"], 2)

	out = s.rpc(t, "joinSession", map[string]any{"sessionId": id, "participantId": "C", "name": "Cy", "role": "listener"})
	require.NotNil(t, out.Error)
	require.Equal(t, ErrApplication, out.Error.Code)
	require.Equal(t, mcp.CodeRoleUnavailable, out.Error.Data.(map[string]any)["code"])

	out = s.rpc(t, "getSession", map[string]any{"sessionId": "session-missing"})
	require.NotNil(t, out.Error)
	require.Equal(t, mcp.CodeNotFound, out.Error.Data.(map[string]any)["code"])

	out = s.rpc(t, "startSession", map[string]any{"sessionId": id, "callerId": "B"})
	require.NotNil(t, out.Error)
	require.Equal(t, mcp.CodeNotAuthorized, out.Error.Data.(map[string]any)["code"])

	out = s.rpc(t, "dropTable", nil)
	require.NotNil(t, out.Error)
	require.Equal(t, ErrMethodNotFound, out.Error.Code)
}

func TestHTTPServer_RPCInvalidEnvelope(t *testing.T) {
	s := newStack(t, nil)

	resp, err := http.Post(s.url+"/rpc", "application/json", strings.NewReader(`{"id":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	require.Equal(t, ErrInvalidReq, out.Error.Code)
}

func TestHTTPServer_Signup(t *testing.T) {
	resolver := &testResolver{tokenToLabel: map[string]string{"secret": "ops"}}
	s := newStack(t, AdminAuth(resolver, nil))

	post := func(body string) (int, map[string]any) {
		resp, err := http.Post(s.url+"/api/signup", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	code, out := post(`{"email":"ann@example.com"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, out["success"])
	require.NotZero(t, out["id"])

	code, out = post(`{"email":"ann@example.com"}`)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "Email already registered", out["error"])

	code, out = post(`{"email":"not-an-email"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Invalid email format", out["error"])

	code, out = post(`{}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Email is required", out["error"])

	resp, err := http.Get(s.url + "/api/emails")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, s.url+"/api/emails", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Emails []signup.Email `json:"emails"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Emails, 1)
	require.Equal(t, "ann@example.com", list.Emails[0].Email)
}

func TestHTTPServer_SessionEvents(t *testing.T) {
	s := newStack(t, nil)
	id := s.createSession(t)

	conn := s.dial(t, "/sessions/"+id+"/events")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first session.Session
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, id, first.ID)
	require.Len(t, first.Participants, 1)

	out := s.rpc(t, "joinSession", map[string]any{"sessionId": id, "participantId": "B", "name": "Bo"})
	require.Nil(t, out.Error)

	var next session.Session
	require.NoError(t, conn.ReadJSON(&next))
	require.Len(t, next.Participants, 2)
	require.Greater(t, next.Version, first.Version)

	require.Nil(t, s.rpc(t, "leaveSession", map[string]any{"sessionId": id, "participantId": "B"}).Error)
	require.Nil(t, s.rpc(t, "leaveSession", map[string]any{"sessionId": id, "participantId": "A"}).Error)

	for {
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["deleted"] == true {
			break
		}
	}
}

func TestHTTPServer_SessionEventsUnknownSession(t *testing.T) {
	s := newStack(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/sessions/session-missing/events", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPServer_SignalBridge(t *testing.T) {
	s := newStack(t, nil)
	id := s.createSession(t)

	a := s.dial(t, "/sessions/"+id+"/signal?participant=A")
	b := s.dial(t, "/sessions/"+id+"/signal?participant=B")
	require.Equal(t, 2, s.relay.Count(id))

	msg, err := signaling.NewMessage(id, signaling.TypeOffer, "mallory", "B",
		signaling.OfferData{Offer: signaling.SessionDescription{Type: "offer", SDP: "v=0"}})
	require.NoError(t, err)
	require.NoError(t, a.WriteJSON(msg))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got signaling.Message
	require.NoError(t, b.ReadJSON(&got))
	require.Equal(t, signaling.TypeOffer, got.Type)
	require.Equal(t, "A", got.From)
	require.Equal(t, id, got.SessionID)

	var offer signaling.OfferData
	require.NoError(t, got.Decode(&offer))
	require.Equal(t, "v=0", offer.Offer.SDP)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return s.relay.Count(id) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestHTTPServer_SignalRequiresParticipant(t *testing.T) {
	s := newStack(t, nil)
	id := s.createSession(t)

	resp, err := http.Get(s.url + "/sessions/" + id + "/signal")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	s := newStack(t, nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, s.url+"/rpc", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
