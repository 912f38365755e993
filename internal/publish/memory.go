// Package publish implements completion-event publishers.
package publish

import (
	"context"
	"fmt"
	"sync"
)

// Message is one captured publish call.
type Message struct {
	Topic   string
	Payload any
}

// MemoryPublisher collects published events in memory for development
// and tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
}

// NewMemoryPublisher constructs an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the payload and returns a synthetic message ID.
func (p *MemoryPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", p.nextID), nil
}

// Messages returns a copy of everything published so far.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
