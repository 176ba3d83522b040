// Package events publishes call lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/metrics"
)

const EventCallProcessed = "call.processed"

// CallProcessedEvent is emitted after a call is saved.
type CallProcessedEvent struct {
	EventType    string    `json:"eventType"`
	CallID       int64     `json:"callId"`
	Filename     string    `json:"filename"`
	Graded       bool      `json:"graded"`
	OverallScore float64   `json:"overallScore,omitempty"`
	DurationMs   int64     `json:"durationMs"`
	Timestamp    time.Time `json:"timestamp"`
}

type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
}

// Publisher writes events to one topic. With Kafka disabled it only logs.
type Publisher struct {
	writer    *kafka.Writer
	topic     string
	principal string
	enabled   bool
	metrics   *metrics.Metrics
	log       *logger.Logger
}

func New(cfg *Config) *Publisher {
	p := &Publisher{metrics: metrics.DefaultMetrics, log: logger.New().WithComponent("events")}
	if cfg == nil {
		p.log.Info("Kafka disabled (nil config), using log-only mode")
		return p
	}
	p.topic = cfg.Topic
	p.principal = cfg.Principal
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.log.Info("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true
	p.log.WithField("brokers", cfg.Brokers).
		WithField("topic", cfg.Topic).
		WithField("principal", cfg.Principal).
		Info("Kafka publisher initialized")
	return p
}

func (p *Publisher) Enabled() bool { return p.enabled }

// PublishCallProcessed keys the message by call id.
func (p *Publisher) PublishCallProcessed(ctx context.Context, ev CallProcessedEvent) error {
	if ev.EventType == "" {
		ev.EventType = EventCallProcessed
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return p.publish(ctx, ev.EventType, strconv.FormatInt(ev.CallID, 10), ev)
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, event any) error {
	start := time.Now()
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).WithField("topic", p.topic).Error("Failed to marshal event")
		return err
	}

	p.log.WithField("principal", p.principal).
		WithField("topic", p.topic).
		WithField("key", key).
		WithField("payload", string(payload)).
		Debug("Publishing event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordKafkaPublish(p.topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	err = p.writer.WriteMessages(ctx, msg)
	p.metrics.RecordKafkaPublish(p.topic, eventType, err, time.Since(start).Seconds())
	if err != nil {
		p.log.WithError(err).WithField("topic", p.topic).WithField("key", key).Error("Failed to write to Kafka")
		return err
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.log.WithError(err).Error("Error closing Kafka writer")
		return err
	}
	return nil
}
