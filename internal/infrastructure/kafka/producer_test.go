package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	written []kafka.Message
	err     error
	release chan struct{}
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestProducer_Send(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducer(w)
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	fut, err := p.Send(context.Background(), "accounts", []byte("acc-1"), []byte(`{"id":"acc-1"}`))
	require.NoError(t, err)
	require.NoError(t, fut.Await(context.Background()))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.written, 1)
	assert.Equal(t, kafka.Message{
		Topic: "accounts",
		Key:   []byte("acc-1"),
		Value: []byte(`{"id":"acc-1"}`),
		Time:  time.Unix(1700000000, 0),
	}, w.written[0])
}

func TestProducer_WriteErrorSurfacesOnAwait(t *testing.T) {
	p := NewProducer(&fakeWriter{err: kafka.NotEnoughReplicas})

	fut, err := p.Send(context.Background(), "accounts", []byte("k"), []byte("v"))
	require.NoError(t, err)

	err = fut.Await(context.Background())
	assert.ErrorIs(t, err, kafka.NotEnoughReplicas)
	assert.True(t, IsTransportError(err))
}

func TestProducer_SlowWriteHitsDeadline(t *testing.T) {
	w := &fakeWriter{release: make(chan struct{})}
	defer close(w.release)
	p := NewProducer(w)

	fut, err := p.Send(context.Background(), "accounts", []byte("k"), []byte("v"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, fut.Await(ctx), context.DeadlineExceeded)
}

func TestIsTransportError(t *testing.T) {
	assert.True(t, IsTransportError(fmt.Errorf("write: %w", kafka.LeaderNotAvailable)))
	assert.True(t, IsTransportError(kafka.WriteErrors{kafka.RequestTimedOut}))
	assert.False(t, IsTransportError(errors.New("bad payload")))
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(config.KafkaConfig{Brokers: []string{"k1:9092", "k2:9092"}, BatchTimeout: 5 * time.Millisecond})

	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Equal(t, 5*time.Millisecond, w.BatchTimeout)
	assert.NotNil(t, w.Addr)
	assert.Empty(t, w.Topic, "topic is set per message")
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewProducer(w).Close())
	assert.True(t, w.closed)
}
