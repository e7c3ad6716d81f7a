package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `swift-to-hear coordinates small-group listening practice sessions.

A session moves waiting → active → completed. While active it walks through phases:
topic-selection (optional) → hello-checkin → listening → transition → listening ... →
completion, with optional scribe-feedback before each transition and free-dialogue or
reflection at the end. In-person sessions use the round phase instead of listening.

Roles: speaker, listener, scribe are held by at most one participant; observer is shared.
Roles rotate one step at every new round. The host drives every phase change; pass the
host id as callerId.

Workflow:
1) createSession, then share the sessionId.
2) Others joinSession (optionally with a role). availableRoles shows free roles.
3) Host startSession, then completeHelloCheckIn, completeRound, advanceTransition ...
4) Host completeSession (cleanup=true schedules teardown).

Peers exchange WebRTC offers, answers and ICE candidates with sendSignal; the
/sessions/{id}/signal websocket streams them live.

Docs:
- swift://docs/phases
- swift://docs/signaling
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "swift://docs/phases",
		Name:        "docs_phases",
		Title:       "Session phases",
		Description: "Which intent moves a session from which phase to which.",
		Content: `# Session phases

| Intent | From | To |
|---|---|---|
| startSession | waiting | topic-selection (topicSelection=true) or hello-checkin |
| completeTopicSelection | topic-selection | hello-checkin |
| completeHelloCheckIn | hello-checkin | listening (round for in-person) |
| completeRound | listening, round, scribe-feedback, transition | transition, or completion after the last round |
| beginScribeFeedback | listening, round | scribe-feedback |
| completeScribeFeedback | scribe-feedback | transition |
| advanceTransition | transition | listening, next round, roles rotated |
| continueRounds | completion | listening, round 1 of a new cycle |
| continueInPersonRounds | completion, round | round, notes accumulated |
| startFreeDialogue | completion | free-dialogue |
| endSession | completion, free-dialogue | reflection |
| completeSession | any active phase | completed |

The number of rounds in a cycle equals the number of counted participants. In-person
sessions do not count the host.
`,
	},
	{
		URI:         "swift://docs/signaling",
		Name:        "docs_signaling",
		Title:       "Peer signaling",
		Description: "Message types and ordering rules for the WebRTC mesh.",
		Content: `# Peer signaling

Every participant keeps one direct link to every other participant.

- join: broadcast when a participant's media is ready. Existing members answer with an offer.
- offer / answer: SDP, addressed with "to".
- ice-candidate: trickled candidates; receivers queue them until the remote description is set.
- leave: broadcast on departure; receivers drop the link.

When two participants offer each other at once, the offer from the lexicographically
smaller id wins. Messages expire after the relay TTL and are never replayed to late
subscribers.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
