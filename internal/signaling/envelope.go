package signaling

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v3"
)

// Kind identifies the payload carried by an Envelope.
type Kind string

const (
	KindGetStatus     Kind = "get_status"
	KindSessionStatus Kind = "session_status"
	KindJoin          Kind = "join"
	KindOffer         Kind = "offer"
	KindAnswer        Kind = "answer"
	KindCandidate     Kind = "candidate"
	KindChat          Kind = "chat"
)

// Kinds lists every kind the classroom protocol understands.
var Kinds = []Kind{
	KindGetStatus,
	KindSessionStatus,
	KindJoin,
	KindOffer,
	KindAnswer,
	KindCandidate,
	KindChat,
}

// Valid reports whether k is a protocol kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Envelope is the relay message wrapper. To is empty for broadcasts.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"`
}

// Directed reports whether the envelope is addressed to a single participant.
func (e Envelope) Directed() bool { return e.To != "" }

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// StatusPayload is carried by session_status.
type StatusPayload struct {
	IsLive    bool       `json:"isLive"`
	Topic     string     `json:"topic"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// SDPPayload is carried by offer and answer.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload is carried by candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// ChatPayload is carried by chat.
type ChatPayload struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
