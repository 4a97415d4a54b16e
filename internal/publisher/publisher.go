// Package publisher defines how run summaries are announced to downstream
// consumers.
package publisher

import "context"

// Publisher sends a JSON-encodable payload to a topic and returns the
// message ID assigned by the backend.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
