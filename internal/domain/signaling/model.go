package signaling

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a signaling envelope.
type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeJoin         MessageType = "join"
	TypeLeave        MessageType = "leave"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeJoin, TypeLeave:
		return true
	}
	return false
}

// Message is an ephemeral envelope scoped to one session. An empty To is a broadcast.
type Message struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq,omitempty"`
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// DeliverableTo reports whether selfID should receive m.
func (m Message) DeliverableTo(selfID string) bool {
	if m.From == selfID {
		return false
	}
	return m.To == "" || m.To == selfID
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a trickled ICE candidate.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

// OfferData is the payload of an offer message.
type OfferData struct {
	Offer SessionDescription `json:"offer"`
}

// AnswerData is the payload of an answer message.
type AnswerData struct {
	Answer SessionDescription `json:"answer"`
}

// CandidateData is the payload of an ice-candidate message.
type CandidateData struct {
	Candidate ICECandidate `json:"candidate"`
}

// JoinData is the payload of a join message.
type JoinData struct {
	Name string `json:"name,omitempty"`
}

// NewMessage builds an unsent message with data encoded as JSON.
func NewMessage(sessionID string, typ MessageType, from, to string, data any) (Message, error) {
	msg := Message{
		Type:      typ,
		From:      from,
		To:        to,
		SessionID: sessionID,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encoding %s payload: %w", typ, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: %s message without data", ErrInvalidMessage, m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: decoding %s payload: %v", ErrInvalidMessage, m.Type, err)
	}
	return nil
}
