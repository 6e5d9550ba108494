// Package events publishes operational pairing events to NATS subjects for
// dashboards and downstream tooling. Publishing is strictly fire-and-forget:
// a nil Publisher (NATS not configured) is a valid no-op, and publish errors
// are logged and dropped so the pairing core is never blocked on messaging.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects carrying pairing lifecycle events.
const (
	SubjectMatchCreated = "hushh.match.created"
	SubjectRoomEnded    = "hushh.room.ended"
	SubjectPresence     = "hushh.presence"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "hushh-server",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Publisher wraps a NATS connection. The zero value and the nil pointer are
// both usable no-op publishers.
type Publisher struct {
	conn *nats.Conn
}

// Connect establishes the NATS connection. It returns an error if the
// initial connection fails; callers typically log the failure and continue
// with a nil publisher.
func Connect(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[events] nats disconnected: %v", err)
			} else {
				log.Printf("[events] nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[events] nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[events] nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}

	log.Printf("[events] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// MatchCreatedEvent is the payload published on SubjectMatchCreated.
type MatchCreatedEvent struct {
	RoomID   string  `json:"room_id"`
	SessionA string  `json:"session_a"`
	SessionB string  `json:"session_b"`
	Score    float64 `json:"score"`
	Ts       int64   `json:"ts"`
}

// RoomEndedEvent is the payload published on SubjectRoomEnded.
type RoomEndedEvent struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"` // "decision_end" | "disconnect"
	Ts     int64  `json:"ts"`
}

// PresenceEvent is the payload published on SubjectPresence.
type PresenceEvent struct {
	Count int   `json:"count"`
	Ts    int64 `json:"ts"`
}

// MatchCreated publishes a match-created event.
func (p *Publisher) MatchCreated(roomID, sessionA, sessionB string, score float64) {
	p.publish(SubjectMatchCreated, MatchCreatedEvent{
		RoomID:   roomID,
		SessionA: sessionA,
		SessionB: sessionB,
		Score:    score,
		Ts:       time.Now().Unix(),
	})
}

// RoomEnded publishes a room-ended event.
func (p *Publisher) RoomEnded(roomID, reason string) {
	p.publish(SubjectRoomEnded, RoomEndedEvent{
		RoomID: roomID,
		Reason: reason,
		Ts:     time.Now().Unix(),
	})
}

// Presence publishes the current registered-session count.
func (p *Publisher) Presence(count int) {
	p.publish(SubjectPresence, PresenceEvent{
		Count: count,
		Ts:    time.Now().Unix(),
	})
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[events] marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[events] publish %s: %v", subject, err)
	}
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		log.Printf("[events] nats drain: %v", err)
	}
}
