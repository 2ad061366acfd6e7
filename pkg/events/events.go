// Package events publishes sync queue transitions to a message broker.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/json"
	"github.com/ajitpratap0/datasync/pkg/logger"
	"github.com/ajitpratap0/datasync/pkg/queue"
)

// DefaultSubject prefixes every published subject.
const DefaultSubject = "datasync"

// Event is the payload published for one queue transition.
type Event struct {
	ItemID       string       `json:"itemId"`
	DataSourceID string       `json:"dataSourceId"`
	Status       queue.Status `json:"status"`
	RecordCount  int          `json:"recordCount,omitempty"`
	Error        string       `json:"error,omitempty"`
	LogEntryID   string       `json:"logEntryId,omitempty"`
	At           time.Time    `json:"at"`
}

// FromItem builds the event for a queue item's current state.
func FromItem(it queue.Item) Event {
	at := it.QueuedAt
	switch {
	case it.CompletedAt != nil:
		at = *it.CompletedAt
	case it.StartedAt != nil:
		at = *it.StartedAt
	}
	return Event{
		ItemID:       it.ID,
		DataSourceID: it.DataSourceID,
		Status:       it.Status,
		RecordCount:  it.RecordCount,
		Error:        it.ErrorMessage,
		LogEntryID:   it.LogEntryID,
		At:           at,
	}
}

// Publisher sends events. Every Publisher is also a queue.Listener.
type Publisher interface {
	queue.Listener
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) ItemChanged(queue.Item)               {}
func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSPublisher publishes events on core NATS subjects of the form
// <prefix>.sync.<status>.
type NATSPublisher struct {
	nc     conn
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials url and returns a publisher using prefix.
func ConnectNATS(url, prefix string, log *zap.Logger) (*NATSPublisher, error) {
	log = logger.OrNop(log).With(zap.String("component", "events"))
	nc, err := nats.Connect(url,
		nats.Name("datasync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("nats connected", zap.String("url", url))
	return newNATSPublisher(nc, prefix, log), nil
}

func newNATSPublisher(nc conn, prefix string, log *zap.Logger) *NATSPublisher {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubject
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger.OrNop(log)}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return p.prefix + ".sync." + string(e.Status)
}

// Publish sends e.
func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := p.Subject(e)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// ItemChanged publishes the transition. Failures are logged; the queue is
// never blocked on the broker.
func (p *NATSPublisher) ItemChanged(it queue.Item) {
	if err := p.Publish(context.Background(), FromItem(it)); err != nil {
		p.logger.Warn("failed to publish queue event",
			zap.String("queue_item_id", it.ID),
			zap.String("status", string(it.Status)),
			zap.Error(err))
	}
}

// Flush waits until buffered events reach the server.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

// Close drains pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
