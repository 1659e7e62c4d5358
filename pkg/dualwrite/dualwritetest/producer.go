package dualwritetest

import (
	"context"
	"sync"

	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
)

// Outcome scripts how the Producer answers one Send.
type Outcome int

const (
	// Ack resolves the future successfully.
	Ack Outcome = iota
	// Nack resolves the future with Producer.Err.
	Nack
	// Hang never resolves the future, so Await runs into its deadline.
	Hang
	// Refuse fails Send itself with Producer.Err.
	Refuse
)

// Message is a message handed to Send.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Outcome Outcome
}

// Producer records every Send and answers according to a script. Sends beyond
// the script are acknowledged.
type Producer struct {
	mu       sync.Mutex
	script   []Outcome
	messages []Message

	// Err is returned for Nack and Refuse outcomes.
	Err error
	// OnSend, if set, runs before the outcome is applied.
	OnSend func(msg Message)
}

func NewProducer(script ...Outcome) *Producer {
	return &Producer{script: script}
}

// Script appends outcomes for the next sends.
func (p *Producer) Script(outcomes ...Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, outcomes...)
}

func (p *Producer) Send(_ context.Context, topic string, key, value []byte) (dualwrite.Future, error) {
	p.mu.Lock()
	outcome := Ack
	if len(p.script) > 0 {
		outcome = p.script[0]
		p.script = p.script[1:]
	}
	msg := Message{
		Topic:   topic,
		Key:     append([]byte(nil), key...),
		Value:   append([]byte(nil), value...),
		Outcome: outcome,
	}
	p.messages = append(p.messages, msg)
	onSend := p.OnSend
	p.mu.Unlock()

	if onSend != nil {
		onSend(msg)
	}

	switch outcome {
	case Refuse:
		return nil, p.Err
	case Nack:
		return dualwrite.Completed(p.Err), nil
	case Hang:
		return dualwrite.NewPromise(), nil
	default:
		return dualwrite.Completed(nil), nil
	}
}

// Messages returns a copy of everything sent so far.
func (p *Producer) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Sent counts messages for topic that were not refused.
func (p *Producer) Sent(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.messages {
		if m.Topic == topic && m.Outcome != Refuse {
			n++
		}
	}
	return n
}
