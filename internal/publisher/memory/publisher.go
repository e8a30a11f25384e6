// Package memory contains in-memory publisher implementations for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Payload []byte
	Attrs   map[string]string
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, payload []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := PublishedMessage{
		Payload: append([]byte(nil), payload...),
		Attrs:   make(map[string]string, len(attrs)),
	}
	for k, v := range attrs {
		msg.Attrs[k] = v
	}
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a deep copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	for i, msg := range p.messages {
		out[i] = PublishedMessage{
			Payload: append([]byte(nil), msg.Payload...),
			Attrs:   make(map[string]string, len(msg.Attrs)),
		}
		for k, v := range msg.Attrs {
			out[i].Attrs[k] = v
		}
	}
	return out
}
