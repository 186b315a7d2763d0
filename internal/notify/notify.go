// Package notify carries engine events to notification sinks.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type EventType string

const (
	VersionCreated  EventType = "version_created"
	PROpened        EventType = "pr_opened"
	PRUpdated       EventType = "pr_updated"
	ContentReverted EventType = "content_reverted"
)

type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ContentID  string         `json:"contentId,omitempty"`
	ActorID    string         `json:"actorId"`
	Recipients []string       `json:"recipients"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Sink delivers one event. Implementations may fail; the Bridge absorbs it.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Inbox is a Sink that can also read back a user's events, newest first.
type Inbox interface {
	Sink
	List(ctx context.Context, userID string, limit int) ([]Event, error)
}

const deliverTimeout = 2 * time.Second

// Bridge fans events out to sinks. Push never fails its caller.
type Bridge struct {
	sinks  []Sink
	logger zerolog.Logger
}

func NewBridge(logger zerolog.Logger, sinks ...Sink) *Bridge {
	return &Bridge{sinks: sinks, logger: logger.With().Str("component", "notify").Logger()}
}

func (b *Bridge) Push(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Recipients == nil {
		event.Recipients = []string{}
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	// Delivery outlives a cancelled request but stays bounded.
	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
	defer cancel()

	for _, sink := range b.sinks {
		if err := deliver(deliverCtx, sink, event); err != nil {
			b.logger.Warn().Err(err).
				Str("event_id", event.ID).
				Str("event_type", string(event.Type)).
				Str("content_id", event.ContentID).
				Msg("notification delivery failed")
		}
	}
}

func deliver(ctx context.Context, sink Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Deliver(ctx, event)
}

// Recipients returns the users who should hear about an action: everyone
// listed, minus the actor.
func Recipients(actorID string, groups ...[]string) []string {
	seen := map[string]struct{}{actorID: {}}
	out := make([]string, 0)
	for _, group := range groups {
		for _, id := range group {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
