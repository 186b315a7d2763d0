package app

import (
	"context"
	"errors"
	"strings"

	"draftline/api/internal/rbac"
	"draftline/api/internal/search"
	"draftline/api/internal/store"
	"draftline/api/internal/util"
)

const maxSearchHits = 200

type CreateContentInput struct {
	Title         string   `json:"title" validate:"required,max=200"`
	Type          string   `json:"type" validate:"required,oneof=quiz article lesson"`
	Collaborators []string `json:"collaborators" validate:"omitempty,dive,required"`
	Visible       bool     `json:"visible"`
}

type UpdateContentInput struct {
	Title string `json:"title" validate:"required,max=200"`
}

type CollaboratorsInput struct {
	Collaborators []string `json:"collaborators" validate:"required,min=1,dive,required"`
}

type VisibilityInput struct {
	Visible *bool `json:"visible" validate:"required"`
}

type ContentFilter struct {
	Query string
	Type  string
}

func (s *Service) CreateContent(ctx context.Context, actorID string, input CreateContentInput) (store.Content, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validateInput(input); err != nil {
		return store.Content{}, err
	}
	contentType, err := store.ParseContentType(input.Type)
	if err != nil {
		return store.Content{}, validationError(err.Error(), nil)
	}

	item, err := s.store.InsertContent(ctx, store.NewContent{
		ID:            util.NewID("cnt"),
		Title:         input.Title,
		Type:          contentType,
		OwnerID:       actorID,
		Collaborators: input.Collaborators,
		Visible:       input.Visible,
	})
	if err != nil {
		return store.Content{}, s.storeError(err, "content")
	}
	s.indexContent(item)
	return item, nil
}

func (s *Service) GetContent(ctx context.Context, contentID, actorID string) (store.Content, error) {
	return s.authorize(ctx, contentID, actorID, rbac.ActionRead)
}

// ListContent returns what actorID may see. A query ranks matches through the
// search index when one is configured and falls back to a title match.
func (s *Service) ListContent(ctx context.Context, actorID string, filter ContentFilter) ([]store.Content, error) {
	var contentType store.ContentType
	if filter.Type != "" {
		parsed, err := store.ParseContentType(filter.Type)
		if err != nil {
			return nil, validationError(err.Error(), nil)
		}
		contentType = parsed
	}

	items, err := s.store.ListContent(ctx, actorID)
	if err != nil {
		return nil, s.storeError(err, "content")
	}
	if contentType != "" {
		filtered := items[:0]
		for _, item := range items {
			if item.Type == contentType {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	query := strings.TrimSpace(filter.Query)
	if query == "" {
		return items, nil
	}
	if s.search != nil {
		resp, err := s.search.Search(ctx, search.Query{Text: query, Type: filter.Type, Limit: maxSearchHits})
		if err == nil {
			return rankByHits(items, resp.Results), nil
		}
		if !errors.Is(err, search.ErrUnavailable) {
			return nil, err
		}
		s.logger.Warn().Err(err).Msg("search unavailable, matching titles")
	}
	return matchTitles(items, query), nil
}

func rankByHits(items []store.Content, hits []search.Result) []store.Content {
	byID := make(map[string]store.Content, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	out := make([]store.Content, 0, len(hits))
	for _, hit := range hits {
		if item, ok := byID[hit.ID]; ok {
			out = append(out, item)
			delete(byID, hit.ID)
		}
	}
	return out
}

func matchTitles(items []store.Content, query string) []store.Content {
	needle := strings.ToLower(query)
	out := make([]store.Content, 0)
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Title), needle) {
			out = append(out, item)
		}
	}
	return out
}

func (s *Service) UpdateContent(ctx context.Context, contentID, actorID string, input UpdateContentInput) (store.Content, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validateInput(input); err != nil {
		return store.Content{}, err
	}
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionWrite); err != nil {
		return store.Content{}, err
	}
	item, err := s.store.UpdateContentTitle(ctx, contentID, input.Title)
	if err != nil {
		return store.Content{}, s.storeError(err, "content")
	}
	s.indexContent(item)
	return item, nil
}

func (s *Service) DeleteContent(ctx context.Context, contentID, actorID string) error {
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionAdmin); err != nil {
		return err
	}
	unlock := s.lockMirror(contentID)
	defer unlock()

	if err := s.store.DeleteContent(ctx, contentID); err != nil {
		return s.storeError(err, "content")
	}
	if s.search != nil {
		s.search.DeleteContent(contentID)
	}
	if s.mirror != nil {
		s.mirrorWarn(s.mirror.Remove(contentID), contentID, "remove")
	}
	return nil
}

func (s *Service) ListCollaborators(ctx context.Context, contentID, actorID string) ([]string, error) {
	item, err := s.authorize(ctx, contentID, actorID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return item.CollaboratorIDs, nil
}

func (s *Service) AddCollaborators(ctx context.Context, contentID, actorID string, input CollaboratorsInput) (store.Content, error) {
	for i, id := range input.Collaborators {
		input.Collaborators[i] = strings.TrimSpace(id)
	}
	if err := s.validateInput(input); err != nil {
		return store.Content{}, err
	}
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionAdmin); err != nil {
		return store.Content{}, err
	}
	item, err := s.store.AddCollaborators(ctx, contentID, input.Collaborators)
	if err != nil {
		return store.Content{}, s.storeError(err, "content")
	}
	return item, nil
}

func (s *Service) SetVisibility(ctx context.Context, contentID, actorID string, input VisibilityInput) (store.Content, error) {
	if err := s.validateInput(input); err != nil {
		return store.Content{}, err
	}
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionAdmin); err != nil {
		return store.Content{}, err
	}
	item, err := s.store.SetVisibility(ctx, contentID, *input.Visible)
	if err != nil {
		return store.Content{}, s.storeError(err, "content")
	}
	s.indexContent(item)
	return item, nil
}
