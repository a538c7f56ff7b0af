// Package notify provides checkout.Notifier implementations.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var (
	_ checkout.Notifier = (*Kafka)(nil)
	_ checkout.Notifier = Log{}
)

// Writer publishes Kafka messages. *kafka.Writer satisfies it.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka hands emails to a mail relay by publishing an email command per
// message, keyed by recipient.
type Kafka struct {
	w     Writer
	topic string
}

// NewKafka creates a Kafka notifier. When topic is empty the writer's own
// topic is used.
func NewKafka(w Writer, topic string) *Kafka {
	return &Kafka{w: w, topic: topic}
}

// WriterBatchTimeout bounds how long a single email waits for a batch to
// fill before it is flushed.
const WriterBatchTimeout = 10 * time.Millisecond

// NewWriter returns a kafka.Writer that waits for all in-sync replicas and
// flushes each email promptly.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: WriterBatchTimeout,
	}
}

// SendEmail implements checkout.Notifier.
func (k *Kafka) SendEmail(ctx context.Context, to, subject, body string) error {
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(to),
		Value: EncodeEmail(to, subject, body),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("email.send")},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "publish email")
	}
	return nil
}

// EncodeEmail encodes an email command as JSON.
func EncodeEmail(to, subject, body string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("to", func(e *jx.Encoder) { e.Str(to) })
		e.Field("subject", func(e *jx.Encoder) { e.Str(subject) })
		e.Field("body", func(e *jx.Encoder) { e.Str(body) })
	})
	return e.Bytes()
}

// Log writes emails to the context logger instead of delivering them.
type Log struct{}

// SendEmail implements checkout.Notifier.
func (Log) SendEmail(ctx context.Context, to, subject, body string) error {
	zctx.From(ctx).Info("email",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
