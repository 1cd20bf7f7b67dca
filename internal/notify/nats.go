package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/pipeline"
)

// DefaultSubjectPrefix prefixes every published subject.
const DefaultSubjectPrefix = "stagehand"

// Connect dials a NATS server, retrying while it comes up.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("stagehand"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url))
	return nc, nil
}

// NATSNotifier publishes events as JSON on <prefix>.<event type>, for example
// stagehand.item.state_changed.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSNotifier publishes on conn. An empty prefix uses DefaultSubjectPrefix.
func NewNATSNotifier(conn *nats.Conn, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{conn: conn, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (n *NATSNotifier) Subject(t pipeline.EventType) string {
	return n.prefix + "." + string(t)
}

// Notify implements pipeline.Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, event pipeline.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.conn.Publish(n.Subject(event.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

var _ pipeline.Notifier = (*NATSNotifier)(nil)
