package match

import (
	"bytes"
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nikhil-thb/hushh-online/internal/events"
	"github.com/nikhil-thb/hushh-online/internal/metrics"
	"github.com/nikhil-thb/hushh-online/internal/protocol"
	"github.com/nikhil-thb/hushh-online/internal/session"
)

// Sender delivers encoded server messages to individual sessions or to all
// connections. The WebSocket server implements it; tests substitute a fake.
type Sender interface {
	Send(sessionID string, data []byte) error
	Broadcast(data []byte)
}

// PromptProvider supplies a conversation prompt for a new room, optionally
// scoped to a region. Implementations must always return a usable string.
type PromptProvider interface {
	Random(ctx context.Context, region string) string
}

// Signal kinds accepted by Relay.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// EngineConfig holds tunable parameters for the pairing engine.
type EngineConfig struct {
	// StartDelay is how long after a match the start_timed_date announcement
	// is emitted to the room.
	StartDelay time.Duration
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StartDelay: 3 * time.Second,
	}
}

// Engine owns the waiting queue and the active room table. Both are guarded
// by one mutex because a match pops from the queue and inserts a room in the
// same step; splitting the locks would allow a session to be observed in
// both places at once. Critical sections are table mutations only; prompt
// fetches and message sends happen outside the lock.
type Engine struct {
	config  EngineConfig
	sender  Sender
	prompts PromptProvider
	events  *events.Publisher

	mu    sync.Mutex
	queue *Queue
	rooms map[string]*Room
}

// NewEngine creates a pairing engine. The events publisher may be nil.
func NewEngine(config EngineConfig, sender Sender, prompts PromptProvider, publisher *events.Publisher) *Engine {
	if config.StartDelay <= 0 {
		config.StartDelay = DefaultEngineConfig().StartDelay
	}
	return &Engine{
		config:  config,
		sender:  sender,
		prompts: prompts,
		events:  publisher,
		queue:   NewQueue(),
		rooms:   make(map[string]*Room),
	}
}

func (e *Engine) lock()   { e.mu.Lock() }
func (e *Engine) unlock() { e.mu.Unlock() }

// FindMatch pairs the caller with the best waiting candidate, or enqueues the
// caller when none is eligible. The queue scan, candidate removal and room
// insertion form a single critical section; the prompt fetch and all
// notifications happen after the lock is released.
func (e *Engine) FindMatch(ctx context.Context, caller *WaitingEntry) {
	e.lock()

	// Idempotent re-entry: drop any previous entry for this session.
	e.queue.Remove(caller.SessionID)

	// A search from inside a room abandons the date. The old room is torn
	// down here, inside the same critical section that may create the new
	// one, so the caller is never an occupant of two rooms and never sits
	// in the queue while still occupying a room.
	var abandonedRoom, abandonedPartner string
	for id, room := range e.rooms {
		if room.Has(caller.SessionID) {
			if partner, ok := room.Partner(caller.SessionID); ok {
				abandonedPartner = partner.SessionID
			}
			room.Status = StatusEnded
			delete(e.rooms, id)
			abandonedRoom = id
			break
		}
	}

	candidate := e.queue.Search(caller)
	if candidate == nil {
		e.queue.Push(caller)
		queued := e.queue.Len()
		roomCount := len(e.rooms)
		e.unlock()

		e.notifyAbandoned(abandonedRoom, abandonedPartner, roomCount)
		metrics.WaitingUsers.Set(float64(queued))
		e.send(caller.SessionID, protocol.TypeVideoWaiting, protocol.VideoWaitingMsg{})
		log.Printf("[match] session=%s added to waiting queue (size=%d)", caller.SessionID, queued)
		return
	}

	room := &Room{
		ID: NewRoomID(),
		Occupants: [2]Occupant{
			{SessionID: caller.SessionID, IdentityID: caller.IdentityID, IP: caller.IP, Profile: caller.Profile},
			{SessionID: candidate.SessionID, IdentityID: candidate.IdentityID, IP: candidate.IP, Profile: candidate.Profile},
		},
		CreatedAt: time.Now(),
		Status:    StatusTimedDate,
		Decisions: make(map[string]string, 2),
	}
	e.rooms[room.ID] = room
	queued := e.queue.Len()
	roomCount := len(e.rooms)
	e.unlock()

	e.notifyAbandoned(abandonedRoom, abandonedPartner, roomCount)
	metrics.WaitingUsers.Set(float64(queued))
	metrics.ActiveRooms.Set(float64(roomCount))
	metrics.MatchesTotal.Inc()

	shared := strings.Join(SharedInterests(caller.Profile, candidate.Profile), ", ")

	e.send(caller.SessionID, protocol.TypeVideoMatched, protocol.VideoMatchedMsg{
		Room:            room.ID,
		Initiator:       true,
		SharedInterests: shared,
		RemoteName:      candidate.Profile.Name,
		RemotePhoto:     candidate.Profile.PhotoURL,
		RemoteVerified:  candidate.Profile.PhotoVerified,
	})
	e.send(candidate.SessionID, protocol.TypeVideoMatched, protocol.VideoMatchedMsg{
		Room:            room.ID,
		Initiator:       false,
		SharedInterests: shared,
		RemoteName:      caller.Profile.Name,
		RemotePhoto:     caller.Profile.PhotoURL,
		RemoteVerified:  caller.Profile.PhotoVerified,
	})

	// The prompt fetch is an external call and stays outside the critical
	// section. The room may already be gone when it returns; attaching the
	// prompt to a deleted room is a no-op.
	region := ""
	if caller.Profile.Scope() == session.ScopeLocal {
		region = caller.Profile.Region
	}
	prompt := e.prompts.Random(ctx, region)

	e.lock()
	if r, ok := e.rooms[room.ID]; ok {
		r.Prompt = prompt
	}
	e.unlock()

	e.events.MatchCreated(room.ID, caller.SessionID, candidate.SessionID, Score(caller.Profile, candidate.Profile))
	log.Printf("[match] room=%s created: %s <-> %s", room.ID, caller.SessionID, candidate.SessionID)

	// Deferred start-of-date announcement. Not cancelled on room deletion:
	// if the room is gone by the time this fires, it is a no-op.
	time.AfterFunc(e.config.StartDelay, func() {
		e.announceStart(room.ID)
	})
}

// notifyAbandoned handles the aftermath of a room torn down because one
// occupant searched again: the stranded partner is told exactly once that
// the other side is gone. No-op when no room was abandoned.
func (e *Engine) notifyAbandoned(roomID, partnerID string, roomCount int) {
	if roomID == "" {
		return
	}
	metrics.ActiveRooms.Set(float64(roomCount))
	if partnerID != "" {
		e.send(partnerID, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
	}
	e.events.RoomEnded(roomID, "disconnect")
	log.Printf("[match] room=%s abandoned, occupant searching again", roomID)
}

// announceStart emits start_timed_date to both occupants if the room still
// exists. It holds the lock only to snapshot the room state.
func (e *Engine) announceStart(roomID string) {
	e.lock()
	room, ok := e.rooms[roomID]
	if !ok {
		e.unlock()
		return
	}
	occupants := room.Occupants
	prompt := room.Prompt
	e.unlock()

	for _, occ := range occupants {
		e.send(occ.SessionID, protocol.TypeStartTimedDate, protocol.StartTimedDateMsg{Prompt: prompt})
	}
	log.Printf("[match] timed date started in room=%s", roomID)
}

// Decide applies one occupant's decision to the room's state machine.
// Malformed events (missing room, bad action, unknown room, non-occupant
// sender) are silently dropped.
func (e *Engine) Decide(sessionID, roomID, action string) {
	if roomID == "" || (action != protocol.ActionContinue && action != protocol.ActionEnd) {
		return
	}

	e.lock()
	room, ok := e.rooms[roomID]
	if !ok {
		e.unlock()
		return
	}
	partner, ok := room.Partner(sessionID)
	if !ok {
		e.unlock()
		return
	}

	room.Decisions[sessionID] = action
	partnerAction := room.Decisions[partner.SessionID]

	switch {
	case action == protocol.ActionEnd || partnerAction == protocol.ActionEnd:
		// Either side ending is terminal: the room is deleted and both
		// parties are told their partner is gone.
		room.Status = StatusEnded
		delete(e.rooms, roomID)
		roomCount := len(e.rooms)
		e.unlock()

		metrics.ActiveRooms.Set(float64(roomCount))
		metrics.DecisionsTotal.WithLabelValues(action).Inc()
		e.send(sessionID, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
		e.send(partner.SessionID, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
		e.events.RoomEnded(roomID, "decision_end")
		log.Printf("[match] date ended in room=%s", roomID)

	case partnerAction == protocol.ActionContinue:
		// Both chose continue: the room persists as a mutual match.
		room.Status = StatusMatched
		e.unlock()

		metrics.DecisionsTotal.WithLabelValues(action).Inc()
		e.send(sessionID, protocol.TypePairedMatch, protocol.PairedMatchMsg{})
		e.send(partner.SessionID, protocol.TypePairedMatch, protocol.PairedMatchMsg{})
		log.Printf("[match] mutual match in room=%s", roomID)

	default:
		// Caller chose continue, partner undecided: pending signal only.
		e.unlock()

		metrics.DecisionsTotal.WithLabelValues(action).Inc()
		e.send(partner.SessionID, protocol.TypeMatchDecisionReceived, protocol.MatchDecisionReceivedMsg{
			Action: protocol.ActionContinue,
		})
	}
}

// Relay forwards an opaque signaling payload to the other occupant of the
// room, never echoing to the sender. Signaling is best-effort: a missing
// room id, missing payload, unknown room or non-occupant sender drops the
// frame silently. A JSON null payload counts as missing; clients send it
// when they have nothing to offer and the partner must not receive it.
func (e *Engine) Relay(kind, roomID, senderID string, payload []byte) {
	if roomID == "" || len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return
	}

	e.lock()
	room, ok := e.rooms[roomID]
	if !ok {
		e.unlock()
		return
	}
	partner, ok := room.Partner(senderID)
	if !ok {
		e.unlock()
		return
	}
	e.unlock()

	var (
		msgType string
		body    interface{}
	)
	switch kind {
	case SignalOffer:
		msgType = protocol.TypeVideoOffer
		body = protocol.RelayedOfferMsg{Offer: payload}
	case SignalAnswer:
		msgType = protocol.TypeVideoAnswer
		body = protocol.RelayedAnswerMsg{Answer: payload}
	case SignalICECandidate:
		msgType = protocol.TypeICECandidate
		body = protocol.RelayedCandidateMsg{Candidate: payload}
	default:
		return
	}

	e.send(partner.SessionID, msgType, body)
	metrics.SignalsRelayed.WithLabelValues(kind).Inc()
}

// Disconnect tears down all pairing state for a lost connection: its waiting
// queue entry and, if it occupied a room, the room itself. The former
// partner is notified exactly once. Registry removal and the presence
// broadcast are the transport layer's responsibility.
func (e *Engine) Disconnect(sessionID string) {
	e.lock()

	e.queue.Remove(sessionID)
	queued := e.queue.Len()

	var partnerID string
	var endedRoom string
	for id, room := range e.rooms {
		if room.Has(sessionID) {
			if partner, ok := room.Partner(sessionID); ok {
				partnerID = partner.SessionID
			}
			room.Status = StatusEnded
			delete(e.rooms, id)
			endedRoom = id
			break
		}
	}
	roomCount := len(e.rooms)
	e.unlock()

	metrics.WaitingUsers.Set(float64(queued))
	metrics.ActiveRooms.Set(float64(roomCount))

	if partnerID != "" {
		e.send(partnerID, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
		e.events.RoomEnded(endedRoom, "disconnect")
		log.Printf("[match] room=%s deleted, partner=%s notified of disconnect", endedRoom, partnerID)
	}
}

// InQueue reports whether the session currently has a waiting entry.
func (e *Engine) InQueue(sessionID string) bool {
	e.lock()
	defer e.unlock()
	for _, entry := range e.queue.entries {
		if entry.SessionID == sessionID {
			return true
		}
	}
	return false
}

// RoomOf returns the id of the room occupied by the session, or "".
func (e *Engine) RoomOf(sessionID string) string {
	e.lock()
	defer e.unlock()
	for id, room := range e.rooms {
		if room.Has(sessionID) {
			return id
		}
	}
	return ""
}

// send encodes and delivers one server message; delivery failures are logged
// and otherwise ignored, matching the best-effort transport contract.
func (e *Engine) send(sessionID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[match] failed to build %s for session=%s: %v", msgType, sessionID, err)
		return
	}
	if err := e.sender.Send(sessionID, data); err != nil {
		log.Printf("[match] send %s to session=%s failed: %v", msgType, sessionID, err)
	}
}
