package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject speech events are published on when none is
// configured.
const DefaultSubject = "wecanttalk.speech"

const defaultConnectTimeout = 5 * time.Second

// NATSConfig configures a [NATSPublisher].
type NATSConfig struct {
	// URL is a NATS server URL or a comma-separated list of them.
	URL string

	// Subject receives the events. Defaults to [DefaultSubject].
	Subject string

	// ConnectTimeout bounds the initial dial. Defaults to 5 s.
	ConnectTimeout time.Duration
}

// NATSPublisher publishes speech events as JSON messages on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to the configured NATS server.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("events: nats url must not be empty")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("wecanttalk"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("events: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("events: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}

	slog.Info("connected to NATS", "url", conn.ConnectedUrl(), "subject", cfg.Subject)
	return &NATSPublisher{conn: conn, subject: cfg.Subject}, nil
}

// Publish encodes ev as JSON and publishes it.
func (p *NATSPublisher) Publish(ctx context.Context, ev SpeechEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Healthy reports whether the connection to NATS is up.
func (p *NATSPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("events: drain nats: %w", err)
	}
	return nil
}
