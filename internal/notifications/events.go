package notifications

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Event type constants prevent typos in event names.
const (
	EventRequestCreated  = "transfer_request_created"
	EventRequestReviewed = "transfer_request_reviewed"
	EventRequestUpdated  = "transfer_request_updated"
)

// adminChannel carries back-office dashboard events.
const adminChannel = "transferdesk:admin:events"

// Events publishes realtime back-office events into Redis. Publishes are
// best-effort: a nil client or a publish error is logged and ignored.
type Events struct {
	rdb *redis.Client
}

// NewEvents creates an Events publisher using the provided Redis client.
func NewEvents(rdb *redis.Client) *Events {
	return &Events{rdb: rdb}
}

// PublishAdmin sends an event payload to the admin dashboard channel.
func (e *Events) PublishAdmin(ctx context.Context, eventType string, payload map[string]interface{}) {
	if e == nil || e.rdb == nil {
		return
	}
	event := map[string]interface{}{
		"type":    eventType,
		"payload": payload,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		log.Printf("failed to marshal %s event: %v", eventType, err)
		return
	}
	if err := e.rdb.Publish(ctx, adminChannel, string(eventJSON)).Err(); err != nil {
		log.Printf("failed to publish %s event: %v", eventType, err)
	}
}
