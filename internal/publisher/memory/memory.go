// Package memory provides an in-process publisher for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one published payload.
type Message struct {
	Topic string
	Data  []byte
}

// Publisher records published messages in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	seq      int
}

// New constructs a Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish serializes payload and appends it to the message log.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Data: data})
	p.seq++
	return fmt.Sprintf("mem-%d", p.seq), nil
}

// Messages returns a snapshot of everything published.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Close implements grid.Publisher.
func (p *Publisher) Close() error { return nil }
