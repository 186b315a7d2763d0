package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"draftline/api/internal/gitrepo"
	"draftline/api/internal/notify"
	"draftline/api/internal/rbac"
	"draftline/api/internal/store"
	"draftline/api/internal/util"
)

const defaultHistoryLimit = 50

type AppendVersionInput struct {
	FullContent json.RawMessage `json:"fullContent" validate:"required"`
	Message     string          `json:"message" validate:"max=500"`
}

// UpdateVersionInput accepts fullContent only to reject it: snapshots never
// change after they are appended.
type UpdateVersionInput struct {
	FullContent json.RawMessage `json:"fullContent"`
	Status      string          `json:"status"`
}

type RevertInput struct {
	VersionNumber int `json:"versionNumber" validate:"required,min=1"`
}

func (s *Service) AppendVersion(ctx context.Context, contentID, actorID string, input AppendVersionInput) (store.Version, error) {
	input.Message = strings.TrimSpace(input.Message)
	if err := s.validateInput(input); err != nil {
		return store.Version{}, err
	}
	if !json.Valid(input.FullContent) {
		return store.Version{}, validationError("fullContent must be valid JSON", map[string]string{"fullContent": "json"})
	}
	item, err := s.authorize(ctx, contentID, actorID, rbac.ActionWrite)
	if err != nil {
		return store.Version{}, err
	}

	version, err := s.appendAndMirror(ctx, item, actorID, input)
	if err != nil {
		return store.Version{}, err
	}
	s.emit(ctx, notify.VersionCreated, item, actorID, nil, map[string]any{
		"versionId": version.ID,
		"number":    version.Number,
	})
	return version, nil
}

func (s *Service) appendAndMirror(ctx context.Context, item store.Content, actorID string, input AppendVersionInput) (store.Version, error) {
	unlock := s.lockMirror(item.ID)
	defer unlock()

	version, err := s.store.AppendVersion(ctx, item.ID, store.NewVersion{
		ID:            util.NewID("ver"),
		Snapshot:      input.FullContent,
		Message:       input.Message,
		ContributorID: actorID,
	})
	if err != nil {
		return store.Version{}, s.storeError(err, "content")
	}
	s.metrics.VersionAppended()

	if s.mirror != nil {
		_, err := s.mirror.RecordVersion(gitrepo.Snapshot{
			ContentID:     item.ID,
			Title:         item.Title,
			Number:        version.Number,
			VersionID:     version.ID,
			ContributorID: actorID,
			Message:       version.Message,
			Body:          version.Snapshot,
		})
		s.mirrorWarn(err, item.ID, "record")
	}
	return version, nil
}

func (s *Service) ListVersions(ctx context.Context, contentID, actorID string) ([]store.Version, error) {
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionRead); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, contentID)
	if err != nil {
		return nil, s.storeError(err, "content")
	}
	return versions, nil
}

func (s *Service) GetVersion(ctx context.Context, contentID, versionID, actorID string) (store.Version, error) {
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionRead); err != nil {
		return store.Version{}, err
	}
	version, err := s.store.GetVersion(ctx, contentID, versionID)
	if err != nil {
		return store.Version{}, s.storeError(err, "version")
	}
	return version, nil
}

// UpdateVersion changes a version's review status.
func (s *Service) UpdateVersion(ctx context.Context, contentID, versionID, actorID string, input UpdateVersionInput) (store.Version, error) {
	if len(input.FullContent) > 0 {
		return store.Version{}, validationError("snapshots are immutable, append a new version instead", map[string]string{"fullContent": "immutable"})
	}
	if strings.TrimSpace(input.Status) == "" {
		return store.Version{}, validationError("status is required", map[string]string{"status": "required"})
	}
	status, err := store.ParseVersionStatus(strings.TrimSpace(input.Status))
	if err != nil {
		return store.Version{}, validationError(err.Error(), nil)
	}
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionReview); err != nil {
		return store.Version{}, err
	}
	version, err := s.store.UpdateVersionStatus(ctx, contentID, versionID, status)
	if err != nil {
		return store.Version{}, s.storeError(err, "version")
	}
	return version, nil
}

// RevertTo discards every version newer than input.VersionNumber. Reverting to
// the current head is a no-op and emits nothing.
func (s *Service) RevertTo(ctx context.Context, contentID, actorID string, input RevertInput) (store.Content, error) {
	if err := s.validateInput(input); err != nil {
		return store.Content{}, err
	}
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionWrite); err != nil {
		return store.Content{}, err
	}

	item, changed, err := s.revertAndMirror(ctx, contentID, input.VersionNumber)
	if err != nil {
		return store.Content{}, err
	}
	if !changed {
		return item, nil
	}
	s.emit(ctx, notify.ContentReverted, item, actorID, nil, map[string]any{
		"versionNumber":   input.VersionNumber,
		"latestVersionId": *item.LatestVersionID,
	})
	return item, nil
}

func (s *Service) revertAndMirror(ctx context.Context, contentID string, number int) (store.Content, bool, error) {
	unlock := s.lockMirror(contentID)
	defer unlock()

	before, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return store.Content{}, false, s.storeError(err, "content")
	}
	item, err := s.store.RevertTo(ctx, contentID, number)
	if err != nil {
		return store.Content{}, false, s.storeError(err, "version")
	}
	if unchanged(before, item) {
		return item, false, nil
	}
	s.metrics.Reverted()

	if s.mirror != nil {
		_, err := s.mirror.ResetTo(before.ID, number)
		s.mirrorWarn(err, before.ID, "reset")
	}
	return item, true, nil
}

func unchanged(before, after store.Content) bool {
	if !before.UpdatedAt.Equal(after.UpdatedAt) || len(before.VersionIDs) != len(after.VersionIDs) {
		return false
	}
	if before.LatestVersionID == nil || after.LatestVersionID == nil {
		return before.LatestVersionID == after.LatestVersionID
	}
	return *before.LatestVersionID == *after.LatestVersionID
}

// History reads the git mirror log, newest first.
func (s *Service) History(ctx context.Context, contentID, actorID string, limit int) ([]gitrepo.Commit, error) {
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_UNAVAILABLE", "Snapshot mirror not configured", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	commits, err := s.mirror.History(contentID, limit)
	if errors.Is(err, gitrepo.ErrNoMirror) {
		return []gitrepo.Commit{}, nil
	}
	if err != nil {
		return nil, err
	}
	return commits, nil
}
