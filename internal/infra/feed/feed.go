// Package feed delivers row-level change events over NATS. A database
// trigger (or the gateway's realtime bridge) publishes one message per row
// mutation on `<prefix>.<table>`; subscribers receive decoded ChangeEvents.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/helixlife/portal-bff-go/internal/domain"

	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSFeed implements port.ChangeFeed on a NATS connection.
type NATSFeed struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *zap.Logger
}

// Connect dials NATS and returns a feed bound to the subject prefix.
func Connect(url, subjectPrefix string, logger *zap.Logger) (*NATSFeed, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("feed: nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("feed: nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return New(conn, subjectPrefix, logger), nil
}

// New wraps an existing connection (used by tests and the publisher tool).
func New(conn *nats.Conn, subjectPrefix string, logger *zap.Logger) *NATSFeed {
	return &NATSFeed{conn: conn, subjectPrefix: subjectPrefix, logger: logger}
}

// Subscribe streams change events for one table until the returned cancel
// func is called or ctx is done. Events that fail to decode are dropped
// with a warning; a change feed must never wedge its consumer.
func (f *NATSFeed) Subscribe(ctx context.Context, table string) (<-chan domain.ChangeEvent, func(), error) {
	subject := f.subjectPrefix + "." + table
	events := make(chan domain.ChangeEvent, 64)

	// Guards events against a send racing the close in cancel: Unsubscribe
	// does not wait for an in-flight callback.
	var mu sync.Mutex
	closed := false

	sub, err := f.conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt domain.ChangeEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			f.logger.Warn("feed: dropping undecodable event",
				zap.String("subject", subject),
				zap.Error(err),
			)
			return
		}
		if evt.Table == "" {
			evt.Table = table
		}

		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case events <- evt:
		case <-ctx.Done():
		default:
			// Slow consumer: drop rather than block the NATS callback.
			f.logger.Warn("feed: dropping event, subscriber buffer full",
				zap.String("subject", subject),
				zap.String("type", evt.Type),
			)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	cancel := func() {
		_ = sub.Unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(events)
		}
	}

	f.logger.Info("feed: subscribed", zap.String("subject", subject))
	return events, cancel, nil
}

// Publish emits a change event for a table. Used by the realtime bridge
// and by integration tests.
func (f *NATSFeed) Publish(table string, evt domain.ChangeEvent) error {
	evt.Table = table
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return f.conn.Publish(f.subjectPrefix+"."+table, data)
}

// Close drains the underlying connection.
func (f *NATSFeed) Close() {
	if f.conn != nil {
		_ = f.conn.Drain()
	}
}
