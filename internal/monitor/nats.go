package monitor

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/satlink/internal/logging"
)

// MessageHandler returns a NATS callback that ingests forwarder payloads.
// Undecodable messages are logged and skipped.
func (m *Monitor) MessageHandler() nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx := context.Background()
		in, err := DecodeIngest(msg.Data)
		if err != nil {
			m.log.Warn(ctx, "nats event rejected",
				logging.String("subject", msg.Subject),
				logging.Err(err),
			)
			return
		}
		m.Ingest(ctx, in)
	}
}

// SubscribeNATS ingests every payload published on subject until the
// returned subscription is drained.
func (m *Monitor) SubscribeNATS(conn *nats.Conn, subject string) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(subject, m.MessageHandler())
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	m.log.Info(context.Background(), "monitor subscribed to nats", logging.String("subject", subject))
	return sub, nil
}
