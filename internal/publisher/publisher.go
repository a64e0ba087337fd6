// Package publisher announces content changes to downstream consumers.
package publisher

import (
	"context"
	"time"
)

// EventPublished is the event name emitted after a draft is promoted.
const EventPublished = "content.published"

// Publisher delivers one JSON-encodable message to a topic and returns its server id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublishedEvent is the message body sent after a successful publish.
type PublishedEvent struct {
	Event       string     `json:"event"`
	PublishedAt time.Time  `json:"publishedAt"`
	SyncedAt    *time.Time `json:"syncedAt"`
	Groups      int        `json:"groups"`
	Items       int        `json:"items"`
}
