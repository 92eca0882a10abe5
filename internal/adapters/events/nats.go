// Package events publishes finished turns to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

// SubjectPrefix is followed by the session id, or by the channel for
// session-less voice turns.
const SubjectPrefix = "lotus.turns."

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher emits TurnEvents as JSON on lotus.turns.<sessionId>.
type NATSPublisher struct {
	conn  Conn
	close func()
}

// Connect dials url and returns a publisher owning the connection.
func Connect(url, name string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: nc, close: nc.Close}, nil
}

// NewNATSPublisher wraps an existing connection; the caller keeps ownership.
func NewNATSPublisher(conn Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// Subject returns the subject an event is published on.
func Subject(ev domain.TurnEvent) string {
	if ev.SessionID != "" {
		return SubjectPrefix + string(ev.SessionID)
	}
	return SubjectPrefix + ev.Channel
}

// PublishTurn checks ctx before publishing; core NATS publish does not block
// on the server.
func (p *NATSPublisher) PublishTurn(ctx context.Context, ev domain.TurnEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal turn event: %w", err)
	}
	if err := p.conn.Publish(Subject(ev), data); err != nil {
		return fmt.Errorf("publish turn event: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}
