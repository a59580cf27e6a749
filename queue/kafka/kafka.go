// Package kafka implements a Kafka-backed work queue.
//
// Leases map onto manual offset commits: a fetched message is "leased"
// until its offset is committed. Dead-lettering produces the envelope to
// a separate topic and then commits the original.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/replyq/replyq/queue"

	kgo "github.com/segmentio/kafka-go"
)

const produceTimeout = 3 * time.Second

// Kafka is a work queue backed by a Kafka topic.
type Kafka struct {
	writer     *kgo.Writer
	deadWriter *kgo.Writer
	reader     *kgo.Reader
}

// Config configures a Kafka work queue.
type Config struct {
	// Brokers is a comma-separated broker list.
	Brokers string

	// Topic carries work envelopes.
	Topic string

	// DeadLetterTopic receives dead-lettered envelopes.
	// Defaults to Topic + ".deadletter".
	DeadLetterTopic string

	// GroupID is the consumer group for workers.
	GroupID string
}

// New creates a new Kafka work queue.
func New(cfg Config) (*Kafka, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = cfg.Topic + ".deadletter"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "replyq-workers"
	}
	brokers := splitCSV(cfg.Brokers)
	if len(brokers) < 1 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	return &Kafka{
		writer: &kgo.Writer{
			Addr:         kgo.TCP(brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kgo.LeastBytes{},
			RequiredAcks: kgo.RequireOne,
		},
		deadWriter: &kgo.Writer{
			Addr:         kgo.TCP(brokers...),
			Topic:        cfg.DeadLetterTopic,
			Balancer:     &kgo.LeastBytes{},
			RequiredAcks: kgo.RequireOne,
		},
		reader: kgo.NewReader(kgo.ReaderConfig{
			Brokers:  brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			// manual commits: offsets advance only on Ack/DeadLetter.
			CommitInterval: 0,
		}),
	}, nil
}

// Enqueue produces envelope to the work topic.
func (q *Kafka) Enqueue(ctx context.Context, envelope []byte) error {
	cctx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()
	err := q.writer.WriteMessages(cctx, kgo.Message{
		Value: envelope,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", queue.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue fetches the next envelope without committing its offset.
func (q *Kafka) Dequeue(ctx context.Context) (*queue.Message, error) {
	m, err := q.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &queue.Message{
		Envelope: m.Value,
		// Kafka does not track per-message delivery attempts.
		DeliveryCount: 1,
		Handle:        m,
	}, nil
}

func (q *Kafka) handle(msg *queue.Message) (kgo.Message, error) {
	m, ok := msg.Handle.(kgo.Message)
	if !ok {
		return kgo.Message{}, fmt.Errorf("invalid message handle")
	}
	return m, nil
}

// Ack commits the message offset.
func (q *Kafka) Ack(ctx context.Context, msg *queue.Message) error {
	m, err := q.handle(msg)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()
	return q.reader.CommitMessages(cctx, m)
}

// DeadLetter produces the envelope to the dead-letter topic and commits
// the original offset.
func (q *Kafka) DeadLetter(ctx context.Context, msg *queue.Message) error {
	m, err := q.handle(msg)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()
	if err = q.deadWriter.WriteMessages(cctx, kgo.Message{
		Value: m.Value,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("producing to dead-letter topic: %w", err)
	}
	return q.reader.CommitMessages(cctx, m)
}

// Close closes the underlying writers and reader.
func (q *Kafka) Close() error {
	werr := q.writer.Close()
	derr := q.deadWriter.Close()
	rerr := q.reader.Close()
	if werr != nil {
		return werr
	}
	if derr != nil {
		return derr
	}
	return rerr
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
