// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/onixmirror/internal/config"
	"github.com/tomtom215/onixmirror/internal/logging"
	"github.com/tomtom215/onixmirror/internal/metrics"
)

// ErrSubscribeUnsupported is returned by Subscribe on publish-only backends.
var ErrSubscribeUnsupported = errors.New("event backend does not support subscribing")

// Publisher is a Sink backed by a watermill publisher.
type Publisher struct {
	publisher  message.Publisher
	subscriber message.Subscriber // nil unless the backend is in-process
	prefix     string
	logger     watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New builds the publisher selected by cfg: NATS when a URL is configured,
// otherwise an in-process gochannel.
func New(cfg *config.EventsConfig) (*Publisher, error) {
	logger := logging.NewWatermillAdapter()
	if cfg.NATSURL != "" {
		return newNATSPublisher(cfg, logger)
	}
	return NewInProcess(cfg.TopicPrefix, logger), nil
}

// NewInProcess returns a publisher on a watermill gochannel. Messages
// published while nobody subscribes are dropped.
func NewInProcess(prefix string, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = logging.NewWatermillAdapter()
	}
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
	return &Publisher{publisher: ch, subscriber: ch, prefix: prefix, logger: logger}
}

func newNATSPublisher(cfg *config.EventsConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	natsOpts := []natsgo.Option{
		natsgo.Name("onixmirror"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      !cfg.JetStream,
			AutoProvision: cfg.JetStream,
			TrackMsgId:    cfg.JetStream,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}
	return &Publisher{publisher: pub, prefix: cfg.TopicPrefix, logger: logger}, nil
}

// Topic returns the full topic name for suffix.
func (p *Publisher) Topic(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

// Reconciled publishes a reconciliation summary.
func (p *Publisher) Reconciled(ctx context.Context, ev ReconciledEvent) {
	p.publish(ctx, TopicReconciled, ev.RunID, ev)
}

// Processed publishes a successful ingestion.
func (p *Publisher) Processed(ctx context.Context, ev RecordEvent) {
	p.publish(ctx, TopicProcessed, ev.RunID, ev)
}

// Failed publishes a failed ingestion.
func (p *Publisher) Failed(ctx context.Context, ev RecordEvent) {
	p.publish(ctx, TopicFailed, ev.RunID, ev)
}

// Deleted publishes a deletion reported by the catalog.
func (p *Publisher) Deleted(ctx context.Context, ev RecordEvent) {
	p.publish(ctx, TopicDeleted, ev.RunID, ev)
}

// publish never fails the caller; errors are logged and counted.
func (p *Publisher) publish(ctx context.Context, suffix, runID string, payload any) {
	topic := p.Topic(suffix)
	err := p.Publish(ctx, topic, runID, payload)
	metrics.RecordEvent(topic, err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("Failed to publish event")
	}
}

// Publish encodes payload as JSON and sends it on topic.
func (p *Publisher) Publish(ctx context.Context, topic, runID string, payload any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("publisher is closed")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set("content_type", "application/json")
	if runID != "" {
		msg.Metadata.Set("run_id", runID)
	}
	return p.publisher.Publish(topic, msg)
}

// Subscribe returns the messages of topic. Only in-process publishers support it.
func (p *Publisher) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if p.subscriber == nil {
		return nil, ErrSubscribeUnsupported
	}
	return p.subscriber.Subscribe(ctx, topic)
}

// Close shuts the backend down. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
