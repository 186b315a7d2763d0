package app

import (
	"context"
	"strings"
	"time"

	"draftline/api/internal/notify"
	"draftline/api/internal/rbac"
	"draftline/api/internal/util"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

type CreateNotificationInput struct {
	Type       string         `json:"type" validate:"required,max=64"`
	ContentID  string         `json:"contentId"`
	Recipients []string       `json:"recipients" validate:"required,min=1,dive,required"`
	Payload    map[string]any `json:"payload"`
}

func (s *Service) ListNotifications(ctx context.Context, userID string, limit int) ([]notify.Event, error) {
	if limit < 0 || limit > maxNotificationLimit {
		return nil, validationError("limit must be between 1 and 200", map[string]string{"limit": "range"})
	}
	if limit == 0 {
		limit = defaultNotificationLimit
	}
	if s.inbox == nil {
		return []notify.Event{}, nil
	}
	events, err := s.inbox.List(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// CreateNotification pushes a caller-authored event through the bridge. An
// event tied to content requires read access to it.
func (s *Service) CreateNotification(ctx context.Context, actorID string, input CreateNotificationInput) (notify.Event, error) {
	input.Type = strings.TrimSpace(input.Type)
	input.ContentID = strings.TrimSpace(input.ContentID)
	if err := s.validateInput(input); err != nil {
		return notify.Event{}, err
	}
	if input.ContentID != "" {
		if _, err := s.authorize(ctx, input.ContentID, actorID, rbac.ActionRead); err != nil {
			return notify.Event{}, err
		}
	}

	event := notify.Event{
		ID:         util.NewID("ntf"),
		Type:       notify.EventType(input.Type),
		ContentID:  input.ContentID,
		ActorID:    actorID,
		Recipients: notify.Recipients("", input.Recipients),
		Payload:    input.Payload,
		CreatedAt:  time.Now().UTC(),
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	s.notifier.Push(ctx, event)
	return event, nil
}
