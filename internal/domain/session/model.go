package session

import "time"

// Status represents the lifecycle status of a session. It never regresses.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Type selects how capacity and roles are counted.
type Type string

const (
	TypeVideo    Type = "video"
	TypeInPerson Type = "in-person"
)

// Phase is a named stage of an active session, distinct from the round number.
type Phase string

const (
	PhaseTopicSelection Phase = "topic-selection"
	PhaseHelloCheckIn   Phase = "hello-checkin"
	PhaseListening      Phase = "listening"
	PhaseRound          Phase = "round"
	PhaseTransition     Phase = "transition"
	PhaseScribeFeedback Phase = "scribe-feedback"
	PhaseFreeDialogue   Phase = "free-dialogue"
	PhaseReflection     Phase = "reflection"
	PhaseCompletion     Phase = "completion"
	PhaseCompleted      Phase = "completed"
)

// Role is the part a participant plays in the current round.
type Role string

const (
	RoleNone     Role = ""
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
	RoleScribe   Role = "scribe"
	RoleObserver Role = "observer"
)

// Roles is the canonical role set in cycle order.
var Roles = []Role{RoleSpeaker, RoleListener, RoleScribe, RoleObserver}

// Valid reports whether r is one of the known role values, including the empty role.
func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleSpeaker, RoleListener, RoleScribe, RoleObserver:
		return true
	}
	return false
}

// Exclusive reports whether at most one participant may hold r at a time.
func (r Role) Exclusive() bool {
	return r == RoleSpeaker || r == RoleListener || r == RoleScribe
}

// ParticipantStatus is the readiness of a participant.
type ParticipantStatus string

const (
	ParticipantReady      ParticipantStatus = "ready"
	ParticipantNotReady   ParticipantStatus = "not-ready"
	ParticipantConnecting ParticipantStatus = "connecting"
)

// ConnectionStatus is the self-reported media link quality of a participant.
type ConnectionStatus string

const (
	ConnectionGood         ConnectionStatus = "good"
	ConnectionPoor         ConnectionStatus = "poor"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Participant is one member of a session.
type Participant struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Role             Role              `json:"role"`
	Status           ParticipantStatus `json:"status"`
	HandRaised       bool              `json:"handRaised,omitempty"`
	ConnectionStatus ConnectionStatus  `json:"connectionStatus,omitempty"`
	JoinedAt         time.Time         `json:"joinedAt"`
}

// TopicSuggestion is a proposed topic collected before the session starts.
type TopicSuggestion struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SuggestedBy string    `json:"suggestedBy"`
	Votes       int       `json:"votes"`
	Voters      []string  `json:"voters"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Session is the aggregate root shared by every client of one practice session.
type Session struct {
	ID                     string            `json:"sessionId"`
	Name                   string            `json:"sessionName,omitempty"`
	Topic                  string            `json:"topic,omitempty"`
	HostID                 string            `json:"hostId"`
	HostName               string            `json:"hostName,omitempty"`
	Type                   Type              `json:"sessionType"`
	Status                 Status            `json:"status"`
	CurrentPhase           Phase             `json:"currentPhase,omitempty"`
	CurrentRound           int               `json:"currentRound"`
	Participants           []Participant     `json:"participants"`
	RoundDurationMs        int64             `json:"roundDurationMs"`
	MinParticipants        int               `json:"minParticipants"`
	MaxParticipants        int               `json:"maxParticipants"`
	ScribeNotes            string            `json:"scribeNotes,omitempty"`
	AccumulatedScribeNotes string            `json:"accumulatedScribeNotes,omitempty"`
	TopicSuggestions       []TopicSuggestion `json:"topicSuggestions"`
	PhaseStartTime         *time.Time        `json:"phaseStartTime,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
	CompletedAt            *time.Time        `json:"completedAt,omitempty"`
	Version                int64             `json:"version"`
}

// Participant returns the participant with id, if present.
func (s *Session) Participant(id string) (Participant, int, bool) {
	for i, p := range s.Participants {
		if p.ID == id {
			return p, i, true
		}
	}
	return Participant{}, -1, false
}

// IsHost reports whether id is the session host.
func (s *Session) IsHost(id string) bool {
	return id != "" && s.HostID == id
}

// CountedParticipants is the number of participants that count toward capacity and
// role cycles: everyone for video sessions, everyone but the host in person.
func (s *Session) CountedParticipants() int {
	if s.Type != TypeInPerson {
		return len(s.Participants)
	}
	n := 0
	for _, p := range s.Participants {
		if p.ID != s.HostID {
			n++
		}
	}
	return n
}

// IsFull reports whether another participant would exceed maxParticipants.
func (s *Session) IsFull() bool {
	return s.CountedParticipants() >= s.MaxParticipants
}

// Clone returns a deep copy so callers can mutate participants without aliasing.
func (s *Session) Clone() *Session {
	c := *s
	c.Participants = append([]Participant(nil), s.Participants...)
	c.TopicSuggestions = make([]TopicSuggestion, len(s.TopicSuggestions))
	for i, t := range s.TopicSuggestions {
		t.Voters = append([]string(nil), t.Voters...)
		c.TopicSuggestions[i] = t
	}
	if s.PhaseStartTime != nil {
		ts := *s.PhaseStartTime
		c.PhaseStartTime = &ts
	}
	if s.CompletedAt != nil {
		ts := *s.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// Update names the fields of a session write. Nil fields are left untouched;
// non-nil fields replace the stored value wholesale.
type Update struct {
	Status                 *Status
	CurrentPhase           *Phase
	CurrentRound           *int
	PhaseStartTime         *time.Time
	Participants           []Participant
	Topic                  *string
	ScribeNotes            *string
	AccumulatedScribeNotes *string
	TopicSuggestions       []TopicSuggestion
	CompletedAt            *time.Time
}

// Empty reports whether the update targets no field.
func (u Update) Empty() bool {
	return u.Status == nil && u.CurrentPhase == nil && u.CurrentRound == nil &&
		u.PhaseStartTime == nil && u.Participants == nil && u.Topic == nil &&
		u.ScribeNotes == nil && u.AccumulatedScribeNotes == nil &&
		u.TopicSuggestions == nil && u.CompletedAt == nil
}

// Apply writes the targeted fields onto s.
func (u Update) Apply(s *Session) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.CurrentPhase != nil {
		s.CurrentPhase = *u.CurrentPhase
	}
	if u.CurrentRound != nil {
		s.CurrentRound = *u.CurrentRound
	}
	if u.PhaseStartTime != nil {
		ts := *u.PhaseStartTime
		s.PhaseStartTime = &ts
	}
	if u.Participants != nil {
		s.Participants = append([]Participant(nil), u.Participants...)
	}
	if u.Topic != nil {
		s.Topic = *u.Topic
	}
	if u.ScribeNotes != nil {
		s.ScribeNotes = *u.ScribeNotes
	}
	if u.AccumulatedScribeNotes != nil {
		s.AccumulatedScribeNotes = *u.AccumulatedScribeNotes
	}
	if u.TopicSuggestions != nil {
		s.TopicSuggestions = append([]TopicSuggestion(nil), u.TopicSuggestions...)
	}
	if u.CompletedAt != nil {
		ts := *u.CompletedAt
		s.CompletedAt = &ts
	}
}

// Ptr returns a pointer to v, for building Updates.
func Ptr[T any](v T) *T {
	return &v
}
