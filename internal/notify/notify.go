// Package notify is an optional, best-effort change-notification
// publisher: every mutation and compaction is published to a NATS subject
// so an external consumer can watch the store, same role NATS/JetStream
// plays elsewhere in this codebase, just without the consumer side. It is
// never consulted for correctness — a publish failure is logged and
// dropped, never propagated to the caller that made the change.
package notify

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/launix-de/kvs/internal/engine/logengine"
)

// Publisher publishes logengine.Event values to a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// Connect dials url and returns a Publisher for subject. Reconnection is
// handled by the nats.go client itself.
func Connect(url, subject string, logger zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}
	logger.Info().Str("url", url).Str("subject", subject).Msg("connected to notification broker")
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish satisfies logengine.Notifier. Marshal/publish errors are logged,
// never returned: notification is explicitly not part of the store's
// consistency guarantees.
func (p *Publisher) Publish(evt logengine.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to marshal change event")
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Warn().Err(err).Msg("failed to publish change event")
	}
}

func (p *Publisher) Close() {
	p.conn.Close()
}
