// Package kafka publishes dual-write messages with kafka-go. The topic of the
// request is the Kafka topic and the request key is the partition key.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w   MessageWriter
	now func() time.Time
}

// NewWriter builds a synchronous writer that waits for all in-sync replicas,
// so a nil WriteMessages result is a durable acknowledgment.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
}

func NewProducer(w MessageWriter) *Producer {
	return &Producer{w: w, now: time.Now}
}

// Send writes in the background and resolves the future with the result.
func (p *Producer) Send(ctx context.Context, topic string, key, value []byte) (dualwrite.Future, error) {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  p.now(),
	}

	promise := dualwrite.NewPromise()
	bg := context.WithoutCancel(ctx)
	go func() {
		promise.Resolve(p.w.WriteMessages(bg, msg))
	}()
	return promise, nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}

// IsTransportError reports broker-side Kafka errors. Register it with
// dualwrite.Classifier.With.
// Errors from Send and Await already reach the classifier as
// *dualwrite.ChannelError; this matters for transport errors raised outside
// the publish, such as a Verify hook that talks to the broker.
func IsTransportError(err error) bool {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return true
	}
	var werrs kafka.WriteErrors
	return errors.As(err, &werrs)
}
