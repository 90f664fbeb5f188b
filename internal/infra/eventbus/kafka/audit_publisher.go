package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/edgesignal/fleethub/internal/app/dispatcher"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/timeutil"
)

var _ dispatcher.AuditSink = (*AuditPublisher)(nil)

// AuditPublisher implements dispatcher.AuditSink over a sarama async
// producer. Publishing never blocks the dispatch hot path: if the
// producer's input buffer is full, the event is dropped and logged.
type AuditPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	clock    timeutil.Provider
	logger   *logger.Logger
}

// NewAuditPublisher creates an audit publisher on the given topic. It
// drains producer errors in the background until Close.
func NewAuditPublisher(client sarama.Client, topic string, clock timeutil.Provider, log *logger.Logger) (*AuditPublisher, error) {
	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("creating async producer: %w", err)
	}

	p := &AuditPublisher{
		producer: producer,
		topic:    topic,
		clock:    clock,
		logger:   log.With("component", "kafka_audit_publisher", "topic", topic),
	}

	go func() {
		for err := range producer.Errors() {
			p.logger.Warn(context.Background(), "Failed to publish audit event", "error", err.Err)
		}
	}()

	return p, nil
}

// Publish implements dispatcher.AuditSink.
func (p *AuditPublisher) Publish(ctx context.Context, evt dispatcher.AuditEvent) {
	if evt.At.IsZero() {
		evt.At = p.clock.Now()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn(ctx, "Failed to encode audit event", "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.DeviceID),
		Value: sarama.ByteEncoder(payload),
	}

	select {
	case p.producer.Input() <- msg:
	default:
		p.logger.Warn(ctx, "Dropping audit event, producer buffer full",
			"type", evt.Type,
			"device_id", evt.DeviceID,
		)
	}
}

// Close shuts the producer down, flushing buffered events.
func (p *AuditPublisher) Close() error {
	return p.producer.Close()
}
