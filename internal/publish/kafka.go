package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"solana-liquidity-sync/internal/domain"
	"solana-liquidity-sync/internal/observability"
)

// KafkaConfig holds Kafka connection configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value of every message.
type Envelope struct {
	Kind  string          `json:"kind"`
	Event json.RawMessage `json:"event"`
}

// KafkaPublisher writes one message per event, keyed by signature so
// redeliveries of the same event land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
	log    *logrus.Entry
}

// NewKafkaPublisher creates a publisher for cfg.
func NewKafkaPublisher(cfg KafkaConfig, log *logrus.Entry) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, log), nil
}

func newKafkaPublisher(w messageWriter, log *logrus.Entry) *KafkaPublisher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "publish")
	}
	return &KafkaPublisher{writer: w, now: time.Now, log: log}
}

// PublishMints publishes mint events.
func (p *KafkaPublisher) PublishMints(ctx context.Context, events []domain.MintEvent) error {
	return publish(ctx, p, KindMint, events)
}

// PublishTransfers publishes transfer events.
func (p *KafkaPublisher) PublishTransfers(ctx context.Context, events []domain.TransferEvent) error {
	return publish(ctx, p, KindTransfer, events)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func publish[E domain.Event](ctx context.Context, p *KafkaPublisher, kind string, events []E) error {
	if len(events) == 0 {
		return nil
	}

	now := p.now()
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s event %s: %w", kind, e.Key(), err)
		}
		value, err := json.Marshal(Envelope{Kind: kind, Event: raw})
		if err != nil {
			return fmt.Errorf("encode %s envelope %s: %w", kind, e.Key(), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Key()),
			Value: value,
			Time:  now,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		observability.RecordPublishError()
		return fmt.Errorf("write %d %s messages: %w", len(msgs), kind, err)
	}

	observability.RecordPublished(kind, len(msgs))
	p.log.WithFields(logrus.Fields{
		"kind":     kind,
		"messages": len(msgs),
	}).Debug("events published")
	return nil
}
