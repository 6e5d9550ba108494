// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeFindMatch     = "find-video-match"
	TypeVideoOffer    = "video-offer"
	TypeVideoAnswer   = "video-answer"
	TypeICECandidate  = "ice-candidate"
	TypeMatchDecision = "match_decision"
	TypePing          = "ping"
)

// Server -> Client message types. The signaling relay reuses TypeVideoOffer,
// TypeVideoAnswer and TypeICECandidate for the forwarded payloads.
const (
	TypeConnected             = "connected"
	TypeBanned                = "banned"
	TypeVideoWaiting          = "video-waiting"
	TypeVideoMatched          = "video-matched"
	TypeStartTimedDate        = "start_timed_date"
	TypeMatchDecisionReceived = "match_decision_received"
	TypePairedMatch           = "paired_match"
	TypePartnerDisconnected   = "video-user-disconnected"
	TypeUserCount             = "updateUserCount"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// Decision actions carried by match_decision messages.
const (
	ActionContinue = "continue"
	ActionEnd      = "end"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// FindMatchMsg is sent by the client to search for a video date partner. The
// profile used for matching is the one presented at connect time, so the
// message itself carries no extra fields.
type FindMatchMsg struct {
	Type string `json:"type"`
}

// VideoOfferMsg carries a WebRTC session description offer to be relayed to
// the room partner. The offer payload is opaque to the server.
type VideoOfferMsg struct {
	Type  string          `json:"type"`
	Room  string          `json:"room"`
	Offer json.RawMessage `json:"offer"`
}

// VideoAnswerMsg carries a WebRTC session description answer to be relayed to
// the room partner.
type VideoAnswerMsg struct {
	Type   string          `json:"type"`
	Room   string          `json:"room"`
	Answer json.RawMessage `json:"answer"`
}

// ICECandidateMsg carries a WebRTC ICE candidate to be relayed to the room
// partner.
type ICECandidateMsg struct {
	Type      string          `json:"type"`
	Room      string          `json:"room"`
	Candidate json.RawMessage `json:"candidate"`
}

// MatchDecisionMsg records the sender's decision at the end of a timed date:
// "continue" to keep talking to the partner, "end" to close the room.
type MatchDecisionMsg struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Action string `json:"action"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server once a connection has been authenticated
// and its session registered.
type ConnectedMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// BannedMsg is sent by the server when the client's address/fingerprint pair
// has an active ban record. Duration is the remaining ban time in minutes.
type BannedMsg struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Duration   int    `json:"duration"`
	AdsWatched int    `json:"ads_watched"`
	Timestamp  string `json:"timestamp"`
}

// VideoWaitingMsg confirms the client has been placed in the waiting queue.
type VideoWaitingMsg struct {
	Type string `json:"type"`
}

// VideoMatchedMsg is sent to each of the two matched parties. Initiator is
// true for the caller whose search produced the match; that side creates the
// WebRTC offer.
type VideoMatchedMsg struct {
	Type            string `json:"type"`
	Room            string `json:"room"`
	Initiator       bool   `json:"initiator"`
	SharedInterests string `json:"shared_interests"`
	RemoteName      string `json:"remote_name"`
	RemotePhoto     string `json:"remote_photo,omitempty"`
	RemoteVerified  bool   `json:"remote_verified"`
}

// StartTimedDateMsg announces the start of the timed date to a room, carrying
// the conversation prompt.
type StartTimedDateMsg struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// RelayedOfferMsg is the forwarded form of a video-offer, delivered to the
// room partner.
type RelayedOfferMsg struct {
	Type  string          `json:"type"`
	Offer json.RawMessage `json:"offer"`
}

// RelayedAnswerMsg is the forwarded form of a video-answer.
type RelayedAnswerMsg struct {
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer"`
}

// RelayedCandidateMsg is the forwarded form of an ice-candidate.
type RelayedCandidateMsg struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
}

// MatchDecisionReceivedMsg notifies a party that their partner recorded a
// "continue" decision while their own decision is still pending.
type MatchDecisionReceivedMsg struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// PairedMatchMsg is sent to both occupants when both chose to continue.
type PairedMatchMsg struct {
	Type string `json:"type"`
}

// PartnerDisconnectedMsg is sent when the room partner disconnected or ended
// the date; the room no longer exists by the time this arrives.
type PartnerDisconnectedMsg struct {
	Type string `json:"type"`
}

// UserCountMsg broadcasts the current number of registered sessions.
type UserCountMsg struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeFindMatch:
		var m FindMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoOffer:
		var m VideoOfferMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoAnswer:
		var m VideoAnswerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeICECandidate:
		var m ICECandidateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchDecision:
		var m MatchDecisionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
