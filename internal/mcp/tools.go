package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// hostActionTools lists the host-only transitions that take HostParams.
var hostActionTools = []struct {
	name        string
	description string
}{
	{"completeHelloCheckIn", "Leave the hello check-in and begin listening for round 1"},
	{"completeRound", "Finish the current round; moves to transition, or to completion after the last round"},
	{"advanceTransition", "Leave the transition and start the next round with rotated roles"},
	{"beginScribeFeedback", "Let the scribe read back notes before the transition"},
	{"completeScribeFeedback", "Finish scribe feedback and move to the transition"},
	{"continueRounds", "From completion, start another cycle of rounds"},
	{"continueInPersonRounds", "Start another in-person round, carrying the scribe notes forward"},
	{"startFreeDialogue", "From completion, open unstructured free dialogue"},
	{"endSession", "Move to the reflection phase"},
}

// registerTools exposes every intent as an MCP tool backed by h.
func registerTools(server *sdkmcp.Server, h *Handler) {
	// Sessions
	addIntentTool[CreateSessionParams](server, h, "createSession", "Create a waiting session with the caller as host")
	addIntentTool[SessionParams](server, h, "getSession", "Get the full session document")
	addIntentTool[ListSessionsParams](server, h, "listSessions", "List sessions by status, host or participant; waiting sessions by default")

	// Membership
	addIntentTool[JoinSessionParams](server, h, "joinSession", "Join a session, optionally requesting a role")
	addIntentTool[ParticipantParams](server, h, "leaveSession", "Leave a session; the last one out tears it down")
	addIntentTool[RemoveParticipantParams](server, h, "removeParticipant", "Host removes another participant")
	addIntentTool[UpdateRoleParams](server, h, "updateRole", "Take a role if nobody else holds it")
	addIntentTool[SessionParams](server, h, "autoAssignRoles", "Give every participant without a role a free one")
	addIntentTool[SessionParams](server, h, "availableRoles", "List roles nobody currently holds")
	addIntentTool[SetReadyParams](server, h, "setReady", "Mark a participant ready or not ready")
	addIntentTool[SetHandRaisedParams](server, h, "setHandRaised", "Raise or lower a participant's hand")
	addIntentTool[SetConnectionStatusParams](server, h, "setConnectionStatus", "Report a participant's media link quality")
	addIntentTool[UpdateScribeNotesParams](server, h, "updateScribeNotes", "Scribe replaces the notes of the current round")
	addIntentTool[SuggestTopicParams](server, h, "suggestTopic", "Suggest a topic before the session starts")
	addIntentTool[VoteTopicParams](server, h, "voteTopic", "Vote for a suggested topic, once per participant")

	// Phases
	addIntentTool[StartSessionParams](server, h, "startSession", "Host starts a waiting session at round 1")
	addIntentTool[CompleteTopicSelectionParams](server, h, "completeTopicSelection", "Host closes topic voting and moves to the check-in")
	for _, tool := range hostActionTools {
		addIntentTool[HostParams](server, h, tool.name, tool.description)
	}
	addIntentTool[CompleteSessionParams](server, h, "completeSession", "Host completes the session, optionally scheduling teardown")

	// Signaling
	addIntentTool[SendSignalParams](server, h, "sendSignal", "Relay an offer, answer, ICE candidate, join or leave message")
}

func addIntentTool[In any](server *sdkmcp.Server, h *Handler, name, description string) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: name, Description: description},
		func(ctx context.Context, _ *sdkmcp.CallToolRequest, in In) (*sdkmcp.CallToolResult, any, error) {
			params, err := json.Marshal(in)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
			}
			out, err := h.Handle(ctx, name, params)
			if err != nil {
				return nil, nil, err
			}
			return nil, out, nil
		})
}
