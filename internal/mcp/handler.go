package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/participant"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/phase"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
)

var (
	// ErrUnknownMethod indicates an intent name the handler does not serve.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrInvalidParams indicates params that do not decode into the intent's shape.
	ErrInvalidParams = errors.New("invalid params")
)

// SessionService defines session operations needed by intents.
type SessionService interface {
	Create(ctx context.Context, req session.CreateRequest) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	ListByStatus(ctx context.Context, status session.Status) ([]session.Session, error)
	ListByHost(ctx context.Context, hostID string) ([]session.Session, error)
	ListByParticipant(ctx context.Context, participantID string) ([]session.Session, error)
}

// ParticipantService defines membership operations needed by intents.
type ParticipantService interface {
	Join(ctx context.Context, req participant.JoinRequest) (*session.Session, error)
	Leave(ctx context.Context, sessionID, participantID string) (*session.Session, error)
	RemoveParticipant(ctx context.Context, sessionID, callerID, participantID string) (*session.Session, error)
	UpdateRole(ctx context.Context, sessionID, participantID string, role session.Role) (*session.Session, error)
	AutoAssignRoles(ctx context.Context, sessionID string) (*session.Session, error)
	AvailableRoles(ctx context.Context, sessionID string) ([]session.Role, error)
	SetReady(ctx context.Context, sessionID, participantID string, ready bool) (*session.Session, error)
	SetHandRaised(ctx context.Context, sessionID, participantID string, raised bool) (*session.Session, error)
	SetConnectionStatus(ctx context.Context, sessionID, participantID string, status session.ConnectionStatus) (*session.Session, error)
	UpdateScribeNotes(ctx context.Context, sessionID, participantID, notes string) (*session.Session, error)
	SuggestTopic(ctx context.Context, sessionID, participantID, text string) (*session.Session, error)
	VoteTopic(ctx context.Context, sessionID, participantID, suggestionID string) (*session.Session, error)
}

// PhaseService defines host-controlled lifecycle operations needed by intents.
type PhaseService interface {
	Start(ctx context.Context, sessionID, callerID string, opts phase.StartOptions) (*session.Session, error)
	CompleteTopicSelection(ctx context.Context, sessionID, callerID, suggestionID string) (*session.Session, error)
	CompleteHelloCheckIn(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	CompleteRound(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	AdvanceTransition(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	BeginScribeFeedback(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	CompleteScribeFeedback(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	ContinueRounds(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	ContinueInPersonRounds(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	StartFreeDialogue(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	EndSession(ctx context.Context, sessionID, callerID string) (*session.Session, error)
	CompleteSession(ctx context.Context, sessionID, callerID string, cleanup bool) (*session.Session, error)
}

// SignalingService defines the relay operation needed by intents.
type SignalingService interface {
	Publish(ctx context.Context, msg signaling.Message) (signaling.Message, error)
}

// Handler dispatches intents to domain services.
type Handler struct {
	sessions     SessionService
	participants ParticipantService
	phases       PhaseService
	signals      SignalingService
}

// NewHandler creates a new intent handler.
func NewHandler(sessions SessionService, participants ParticipantService, phases PhaseService, signals SignalingService) *Handler {
	return &Handler{
		sessions:     sessions,
		participants: participants,
		phases:       phases,
		signals:      signals,
	}
}

// hostAction is the shape shared by most phase transitions.
type hostAction func(ctx context.Context, sessionID, callerID string) (*session.Session, error)

// Handle dispatches an intent by name. Domain failures come back as *APIError.
func (h *Handler) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if action, ok := h.hostActions()[method]; ok {
		var req HostParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(action(ctx, req.SessionID, req.CallerID))
	}

	switch method {
	case "createSession":
		var req CreateSessionParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.sessions.Create(ctx, session.CreateRequest{
			HostID:          req.HostID,
			HostName:        req.HostName,
			Name:            req.SessionName,
			Topic:           req.Topic,
			Type:            req.SessionType,
			MinParticipants: req.MinParticipants,
			MaxParticipants: req.MaxParticipants,
			RoundDuration:   time.Duration(req.RoundDurationMs) * time.Millisecond,
		}))
	case "getSession":
		var req SessionParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.sessions.Get(ctx, req.SessionID))
	case "listSessions":
		var req ListSessionsParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.listSessions(ctx, req)
	case "joinSession":
		var req JoinSessionParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.Join(ctx, participant.JoinRequest{
			SessionID:     req.SessionID,
			ParticipantID: req.ParticipantID,
			Name:          req.Name,
			Role:          req.Role,
		}))
	case "leaveSession":
		var req ParticipantParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return leaveResponse(h.participants.Leave(ctx, req.SessionID, req.ParticipantID))
	case "removeParticipant":
		var req RemoveParticipantParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return leaveResponse(h.participants.RemoveParticipant(ctx, req.SessionID, req.CallerID, req.ParticipantID))
	case "startSession":
		var req StartSessionParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.phases.Start(ctx, req.SessionID, req.CallerID, phase.StartOptions{TopicSelection: req.TopicSelection}))
	case "completeTopicSelection":
		var req CompleteTopicSelectionParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.phases.CompleteTopicSelection(ctx, req.SessionID, req.CallerID, req.SuggestionID))
	case "completeSession":
		var req CompleteSessionParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.phases.CompleteSession(ctx, req.SessionID, req.CallerID, req.Cleanup))
	case "updateRole":
		var req UpdateRoleParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.UpdateRole(ctx, req.SessionID, req.ParticipantID, req.Role))
	case "autoAssignRoles":
		var req SessionParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.AutoAssignRoles(ctx, req.SessionID))
	case "availableRoles":
		var req SessionParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		roles, err := h.participants.AvailableRoles(ctx, req.SessionID)
		if err != nil {
			return nil, mapError(err)
		}
		return AvailableRolesResponse{Roles: roles}, nil
	case "setReady":
		var req SetReadyParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.SetReady(ctx, req.SessionID, req.ParticipantID, req.Ready))
	case "setHandRaised":
		var req SetHandRaisedParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.SetHandRaised(ctx, req.SessionID, req.ParticipantID, req.Raised))
	case "setConnectionStatus":
		var req SetConnectionStatusParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.SetConnectionStatus(ctx, req.SessionID, req.ParticipantID, req.Status))
	case "updateScribeNotes":
		var req UpdateScribeNotesParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.UpdateScribeNotes(ctx, req.SessionID, req.ParticipantID, req.Notes))
	case "suggestTopic":
		var req SuggestTopicParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.SuggestTopic(ctx, req.SessionID, req.ParticipantID, req.Text))
	case "voteTopic":
		var req VoteTopicParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return wrap(h.participants.VoteTopic(ctx, req.SessionID, req.ParticipantID, req.SuggestionID))
	case "sendSignal":
		var req SendSignalParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		msg, err := signaling.NewMessage(req.SessionID, req.Type, req.From, req.To, req.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		sent, err := h.signals.Publish(ctx, msg)
		if err != nil {
			return nil, mapError(err)
		}
		return sent, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
}

func (h *Handler) hostActions() map[string]hostAction {
	return map[string]hostAction{
		"completeHelloCheckIn":   h.phases.CompleteHelloCheckIn,
		"completeRound":          h.phases.CompleteRound,
		"advanceTransition":      h.phases.AdvanceTransition,
		"beginScribeFeedback":    h.phases.BeginScribeFeedback,
		"completeScribeFeedback": h.phases.CompleteScribeFeedback,
		"continueRounds":         h.phases.ContinueRounds,
		"continueInPersonRounds": h.phases.ContinueInPersonRounds,
		"startFreeDialogue":      h.phases.StartFreeDialogue,
		"endSession":             h.phases.EndSession,
	}
}

func (h *Handler) listSessions(ctx context.Context, req ListSessionsParams) (any, error) {
	var (
		out []session.Session
		err error
	)
	switch {
	case req.Status != "":
		out, err = h.sessions.ListByStatus(ctx, req.Status)
	case req.HostID != "":
		out, err = h.sessions.ListByHost(ctx, req.HostID)
	case req.ParticipantID != "":
		out, err = h.sessions.ListByParticipant(ctx, req.ParticipantID)
	default:
		out, err = h.sessions.ListByStatus(ctx, session.StatusWaiting)
	}
	if err != nil {
		return nil, mapError(err)
	}
	if out == nil {
		out = []session.Session{}
	}
	return ListSessionsResponse{Sessions: out}, nil
}

func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func wrap(sess *session.Session, err error) (any, error) {
	if err != nil {
		return nil, mapError(err)
	}
	return sess, nil
}

func leaveResponse(sess *session.Session, err error) (any, error) {
	if err != nil {
		return nil, mapError(err)
	}
	return LeaveResponse{Session: sess, Deleted: sess == nil}, nil
}

func mapError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
