package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid find-video-match message
// ---------------------------------------------------------------------------

func TestParseClientMessage_FindMatch(t *testing.T) {
	input := []byte(`{"type":"find-video-match"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeFindMatch {
		t.Fatalf("expected type %q, got %q", TypeFindMatch, msgType)
	}
	if _, ok := msg.(FindMatchMsg); !ok {
		t.Fatalf("expected FindMatchMsg, got %T", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing signaling messages preserves the opaque payload
// ---------------------------------------------------------------------------

func TestParseClientMessage_VideoOffer(t *testing.T) {
	input := []byte(`{"type":"video-offer","room":"hushh-video-abc123","offer":{"sdp":"v=0","kind":"offer"}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeVideoOffer {
		t.Fatalf("expected type %q, got %q", TypeVideoOffer, msgType)
	}

	om, ok := msg.(VideoOfferMsg)
	if !ok {
		t.Fatalf("expected VideoOfferMsg, got %T", msg)
	}
	if om.Room != "hushh-video-abc123" {
		t.Errorf("expected room %q, got %q", "hushh-video-abc123", om.Room)
	}

	var offer struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(om.Offer, &offer); err != nil {
		t.Fatalf("offer payload not preserved: %v", err)
	}
	if offer.SDP != "v=0" {
		t.Errorf("expected sdp %q, got %q", "v=0", offer.SDP)
	}
}

func TestParseClientMessage_ICECandidate(t *testing.T) {
	input := []byte(`{"type":"ice-candidate","room":"hushh-video-abc123","candidate":{"candidate":"candidate:1"}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeICECandidate {
		t.Fatalf("expected type %q, got %q", TypeICECandidate, msgType)
	}
	im, ok := msg.(ICECandidateMsg)
	if !ok {
		t.Fatalf("expected ICECandidateMsg, got %T", msg)
	}
	if len(im.Candidate) == 0 {
		t.Error("expected candidate payload preserved")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a match_decision message
// ---------------------------------------------------------------------------

func TestParseClientMessage_MatchDecision(t *testing.T) {
	input := []byte(`{"type":"match_decision","room":"hushh-video-abc123","action":"continue"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMatchDecision {
		t.Fatalf("expected type %q, got %q", TypeMatchDecision, msgType)
	}

	dm, ok := msg.(MatchDecisionMsg)
	if !ok {
		t.Fatalf("expected MatchDecisionMsg, got %T", msg)
	}
	if dm.Action != ActionContinue {
		t.Errorf("expected action %q, got %q", ActionContinue, dm.Action)
	}
}

// ---------------------------------------------------------------------------
// Test: Error cases
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"room":"x"}`)); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"launch_missiles"}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if msgType != "launch_missiles" {
		t.Errorf("expected raw type returned, got %q", msgType)
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"video-matched"}`)); err == nil {
		t.Fatal("expected error for server-only message type")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerMessage injects the type field
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeVideoMatched, VideoMatchedMsg{
		Room:            "hushh-video-abc123",
		Initiator:       true,
		SharedInterests: "music, travel",
		RemoteName:      "Sam",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeVideoMatched {
		t.Errorf("expected type %q, got %v", TypeVideoMatched, m["type"])
	}
	if m["room"] != "hushh-video-abc123" {
		t.Errorf("expected room preserved, got %v", m["room"])
	}
	if m["initiator"] != true {
		t.Errorf("expected initiator true, got %v", m["initiator"])
	}
}

func TestNewServerMessage_BannedPayload(t *testing.T) {
	data, err := NewServerMessage(TypeBanned, BannedMsg{
		Message:    "You are banned. Reason: spam",
		Duration:   42,
		AdsWatched: 1,
		Timestamp:  "2026-01-02T15:04:05Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeBanned {
		t.Errorf("expected type %q, got %v", TypeBanned, m["type"])
	}
	if m["duration"] != float64(42) {
		t.Errorf("expected duration 42, got %v", m["duration"])
	}
	if m["ads_watched"] != float64(1) {
		t.Errorf("expected ads_watched 1, got %v", m["ads_watched"])
	}
}
