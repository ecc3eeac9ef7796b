// Package bus publishes session lifecycle events so other services can
// react to artifacts appearing and disappearing.
package bus

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cordum/mediadrop/core/infra/logging"
)

const subjectPrefix = "mediadrop.session."

const (
	EventCreated   = "created"
	EventOffloaded = "offloaded"
	EventFallback  = "fallback"
	EventReclaimed = "reclaimed"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty event type")
)

// Event describes one session state change.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Storage   string    `json:"storage,omitempty"`
	Key       string    `json:"key,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher is fire-and-forget; lifecycle code never blocks on it.
type Publisher interface {
	Publish(ev Event) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(Event) error { return nil }

// NatsPublisher is a thin wrapper over a NATS connection that speaks JSON events.
type NatsPublisher struct {
	nc *nats.Conn
}

// NewNatsPublisher dials NATS at the provided URL.
func NewNatsPublisher(url string) (*NatsPublisher, error) {
	opts := []nats.Option{
		nats.Name("mediadrop-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(logDisconnect),
		nats.ReconnectHandler(logReconnect),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{nc: nc}, nil
}

func logDisconnect(_ *nats.Conn, err error) {
	logging.Warn("bus", "disconnected from nats", "error", err)
}

func logReconnect(nc *nats.Conn) {
	logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
}

// Subject maps an event type onto its NATS subject.
func Subject(eventType string) string {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ""
	}
	return subjectPrefix + eventType
}

func (p *NatsPublisher) Publish(ev Event) error {
	if p == nil || p.nc == nil {
		return errNilBus
	}
	subject := Subject(ev.Type)
	if subject == "" {
		return errEmptyTopic
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(subject, data); err != nil {
		logging.Warn("bus", "publish failed", "subject", subject, "error", err)
		return err
	}
	return nil
}

func (p *NatsPublisher) IsConnected() bool {
	return p != nil && p.nc != nil && p.nc.IsConnected()
}

// Close drains pending publishes before closing the connection.
func (p *NatsPublisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
