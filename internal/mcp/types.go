package mcp

import (
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
)

type CreateSessionParams struct {
	HostID          string       `json:"hostId" jsonschema:"id of the hosting participant"`
	HostName        string       `json:"hostName" jsonschema:"display name of the host"`
	SessionName     string       `json:"sessionName,omitempty"`
	Topic           string       `json:"topic,omitempty"`
	SessionType     session.Type `json:"sessionType,omitempty" jsonschema:"video or in-person, default video"`
	MinParticipants int          `json:"minParticipants,omitempty"`
	MaxParticipants int          `json:"maxParticipants,omitempty"`
	RoundDurationMs int64        `json:"roundDurationMs,omitempty"`
}

type SessionParams struct {
	SessionID string `json:"sessionId"`
}

type JoinSessionParams struct {
	SessionID     string       `json:"sessionId"`
	ParticipantID string       `json:"participantId"`
	Name          string       `json:"name"`
	Role          session.Role `json:"role,omitempty" jsonschema:"requested role, empty to be assigned one"`
}

type ParticipantParams struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
}

type RemoveParticipantParams struct {
	SessionID     string `json:"sessionId"`
	CallerID      string `json:"callerId" jsonschema:"must be the host"`
	ParticipantID string `json:"participantId"`
}

// HostParams names a host-only action on a session.
type HostParams struct {
	SessionID string `json:"sessionId"`
	CallerID  string `json:"callerId" jsonschema:"must be the host"`
}

type StartSessionParams struct {
	SessionID      string `json:"sessionId"`
	CallerID       string `json:"callerId" jsonschema:"must be the host"`
	TopicSelection bool   `json:"topicSelection,omitempty" jsonschema:"open with topic voting"`
}

type CompleteTopicSelectionParams struct {
	SessionID    string `json:"sessionId"`
	CallerID     string `json:"callerId" jsonschema:"must be the host"`
	SuggestionID string `json:"suggestionId,omitempty" jsonschema:"chosen topic, empty for the most voted"`
}

type CompleteSessionParams struct {
	SessionID string `json:"sessionId"`
	CallerID  string `json:"callerId" jsonschema:"must be the host"`
	Cleanup   bool   `json:"cleanup,omitempty" jsonschema:"schedule teardown after completion"`
}

type UpdateRoleParams struct {
	SessionID     string       `json:"sessionId"`
	ParticipantID string       `json:"participantId"`
	Role          session.Role `json:"role"`
}

type SetReadyParams struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Ready         bool   `json:"ready"`
}

type SetHandRaisedParams struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Raised        bool   `json:"raised"`
}

type SetConnectionStatusParams struct {
	SessionID     string                   `json:"sessionId"`
	ParticipantID string                   `json:"participantId"`
	Status        session.ConnectionStatus `json:"status" jsonschema:"good, poor or disconnected"`
}

type UpdateScribeNotesParams struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId" jsonschema:"must hold the scribe role"`
	Notes         string `json:"notes"`
}

type SuggestTopicParams struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Text          string `json:"text"`
}

type VoteTopicParams struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	SuggestionID  string `json:"suggestionId"`
}

// ListSessionsParams filters by exactly one of the fields; status wins over the others.
type ListSessionsParams struct {
	Status        session.Status `json:"status,omitempty"`
	HostID        string         `json:"hostId,omitempty"`
	ParticipantID string         `json:"participantId,omitempty"`
}

type SendSignalParams struct {
	SessionID string                `json:"sessionId"`
	Type      signaling.MessageType `json:"type" jsonschema:"offer, answer, ice-candidate, join or leave"`
	From      string                `json:"from"`
	To        string                `json:"to,omitempty" jsonschema:"addressee, empty to broadcast"`
	Data      any                   `json:"data,omitempty"`
}

// LeaveResponse reports the session after a departure; Deleted is set when the
// last participant left and the session was torn down.
type LeaveResponse struct {
	Session *session.Session `json:"session,omitempty"`
	Deleted bool             `json:"deleted"`
}

type ListSessionsResponse struct {
	Sessions []session.Session `json:"sessions"`
}

type AvailableRolesResponse struct {
	Roles []session.Role `json:"roles"`
}
