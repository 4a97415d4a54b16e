// Package memory records published run summaries in-memory for tests and
// local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call with its JSON body.
type PublishedMessage struct {
	Topic string
	Data  []byte
}

// Decode unmarshals the message body into v.
func (m PublishedMessage) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload the way the Pub/Sub publisher does, records it and
// returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Data: data})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
