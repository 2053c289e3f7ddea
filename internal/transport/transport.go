// Package transport abstracts the publish/subscribe link between gates
// and the center. The production implementation speaks MQTT; an
// in-process bus backs tests and single-binary dev setups.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Publish while the link is down. Callers
// on the sync path treat it as transient and retry on the next cycle.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives one inbound message. Handlers must not block: the
// delivery goroutine belongs to the transport, so deposit the payload and
// return.
type Handler func(topic string, payload []byte)

// Transport is an at-most-once pub/sub link. Duplicate or lost delivery
// is tolerated by the layers above (idempotent ingest, periodic retry).
type Transport interface {
	// Connect establishes the link. It performs a single attempt; callers
	// own the retry/backoff policy.
	Connect(ctx context.Context) error

	// Publish sends a payload. Returns ErrNotConnected while the link is
	// down.
	Publish(topic string, payload []byte) error

	// Subscribe registers a handler for a topic filter ('+' matches one
	// segment). Subscriptions survive reconnects.
	Subscribe(topic string, h Handler) error

	Connected() bool
	Close()
}

// TopicMatches reports whether a concrete topic matches a filter with
// '+' single-segment wildcards.
func TopicMatches(filter, topic string) bool {
	f := splitTopic(filter)
	t := splitTopic(topic)
	if len(f) != len(t) {
		return false
	}
	for i := range f {
		if f[i] != "+" && f[i] != t[i] {
			return false
		}
	}
	return true
}

func splitTopic(s string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '/' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return parts
}
