package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nvprime/nvprime/internal/foundation/errors"
)

const (
	// DefaultSubject prefixes every published subject.
	DefaultSubject = "nvprime.events"
	streamName     = "NVPRIME_EVENTS"
	streamMaxAge   = 7 * 24 * time.Hour
)

// Publisher is a Sink that publishes events to a JetStream stream on
// <subject>.<type>.
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewPublisher connects to url and makes sure the events stream exists.
func NewPublisher(ctx context.Context, url, subject string) (*Publisher, error) {
	if url == "" {
		return nil, errors.ConfigError("NATS url is required").Build()
	}
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("nvprime"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.TransportError("failed to connect to NATS").WithCause(err).WithContext("url", url).Build()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.TransportError("failed to create JetStream context").WithCause(err).Build()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "nvprime tuning lifecycle events",
		Subjects:    []string{subject + ".>"},
		MaxAge:      streamMaxAge,
	})
	if err != nil {
		conn.Close()
		return nil, errors.TransportError("failed to create events stream").WithCause(err).Build()
	}

	slog.Info("NATS publisher initialized", slog.String("url", url), slog.String("subject", subject))
	return &Publisher{conn: conn, js: js, subject: subject}, nil
}

// Record publishes e.
func (p *Publisher) Record(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, SubjectFor(p.subject, e.Type), data); err != nil {
		return errors.TransportError("failed to publish event").WithCause(err).Build()
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
	}
	return err
}

// SubjectFor returns the subject an event of typ is published on.
func SubjectFor(prefix string, typ Type) string {
	if prefix == "" {
		prefix = DefaultSubject
	}
	return prefix + "." + string(typ)
}
