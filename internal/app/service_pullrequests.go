package app

import (
	"context"
	"fmt"
	"strings"

	"draftline/api/internal/notify"
	"draftline/api/internal/rbac"
	"draftline/api/internal/store"
	"draftline/api/internal/util"
)

type OpenPullRequestInput struct {
	SourceVersion string   `json:"sourceVersion" validate:"required"`
	TargetVersion string   `json:"targetVersion"`
	Reviewers     []string `json:"reviewers" validate:"omitempty,dive,required"`
}

// TransitionInput names the move either as an action or as the status it
// should reach. Action wins when both are set.
type TransitionInput struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

func (in TransitionInput) resolve() (Action, error) {
	if raw := strings.TrimSpace(in.Action); raw != "" {
		action, err := ParseAction(raw)
		if err != nil {
			return "", validationError(err.Error(), nil)
		}
		return action, nil
	}
	raw := strings.TrimSpace(in.Status)
	if raw == "" {
		return "", validationError("status or action is required", map[string]string{"status": "required"})
	}
	status, err := store.ParsePRStatus(raw)
	if err != nil {
		return "", validationError(err.Error(), nil)
	}
	action, _ := actionForStatus(status)
	return action, nil
}

func (s *Service) OpenPullRequest(ctx context.Context, contentID, actorID string, input OpenPullRequestInput) (store.PullRequest, error) {
	input.SourceVersion = strings.TrimSpace(input.SourceVersion)
	input.TargetVersion = strings.TrimSpace(input.TargetVersion)
	if err := s.validateInput(input); err != nil {
		return store.PullRequest{}, err
	}
	if input.TargetVersion != "" && input.TargetVersion == input.SourceVersion {
		return store.PullRequest{}, validationError("source and target versions must differ", nil)
	}
	item, err := s.authorize(ctx, contentID, actorID, rbac.ActionWrite)
	if err != nil {
		return store.PullRequest{}, err
	}

	pr, err := s.store.InsertPullRequest(ctx, store.NewPullRequest{
		ID:              util.NewID("pr"),
		ContentID:       contentID,
		SourceVersionID: input.SourceVersion,
		TargetVersionID: input.TargetVersion,
		AuthorID:        actorID,
		ReviewerIDs:     input.Reviewers,
	})
	if err != nil {
		return store.PullRequest{}, s.storeError(err, "version")
	}

	s.emit(ctx, notify.PROpened, item, actorID, pr.ReviewerIDs, map[string]any{
		"pullRequestId":   pr.ID,
		"sourceVersionId": pr.SourceVersionID,
		"targetVersionId": pr.TargetVersionID,
	})
	return pr, nil
}

func (s *Service) ListPullRequests(ctx context.Context, contentID, actorID string) ([]store.PullRequest, error) {
	if _, err := s.authorize(ctx, contentID, actorID, rbac.ActionRead); err != nil {
		return nil, err
	}
	prs, err := s.store.ListPullRequests(ctx, contentID)
	if err != nil {
		return nil, s.storeError(err, "content")
	}
	return prs, nil
}

func (s *Service) GetPullRequest(ctx context.Context, prID, actorID string) (store.PullRequest, error) {
	pr, err := s.store.GetPullRequest(ctx, prID)
	if err != nil {
		return store.PullRequest{}, s.storeError(err, "pull request")
	}
	if _, err := s.authorize(ctx, pr.ContentID, actorID, rbac.ActionRead); err != nil {
		return store.PullRequest{}, err
	}
	return pr, nil
}

// TransitionPullRequest applies one action. Legality is decided against the
// pull request as read under the store's per-content lock.
func (s *Service) TransitionPullRequest(ctx context.Context, prID, actorID string, input TransitionInput) (store.PullRequest, error) {
	action, err := input.resolve()
	if err != nil {
		return store.PullRequest{}, err
	}
	current, err := s.store.GetPullRequest(ctx, prID)
	if err != nil {
		return store.PullRequest{}, s.storeError(err, "pull request")
	}
	if _, err := s.authorize(ctx, current.ContentID, actorID, requiredPermission(action)); err != nil {
		return store.PullRequest{}, err
	}

	pr, err := s.applyTransition(ctx, current.ContentID, prID, actorID, action)
	if err != nil {
		return store.PullRequest{}, err
	}

	// Collaborators may have changed since authorize; reload for recipients.
	item, err := s.store.GetContent(ctx, pr.ContentID)
	if err != nil {
		s.logger.Warn().Err(err).Str("pull_request_id", pr.ID).Msg("reload content after transition")
		item = store.Content{ID: pr.ContentID}
	}
	s.emit(ctx, notify.PRUpdated, item, actorID, append([]string{pr.AuthorID}, pr.ReviewerIDs...), map[string]any{
		"pullRequestId": pr.ID,
		"action":        string(action),
		"status":        string(pr.Status),
	})
	return pr, nil
}

// applyTransition runs the store transition. A merge keeps the mirror slot
// until the merge commit lands.
func (s *Service) applyTransition(ctx context.Context, contentID, prID, actorID string, action Action) (store.PullRequest, error) {
	if action == ActionMerge {
		unlock := s.lockMirror(contentID)
		defer unlock()
	}
	pr, err := s.store.TransitionPullRequest(ctx, prID, func(latest store.PullRequest) (store.Transition, error) {
		return decideTransition(latest, action)
	})
	if err != nil {
		return store.PullRequest{}, s.storeError(err, "pull request")
	}
	s.metrics.Transitioned(string(action))
	if action == ActionMerge {
		s.mirrorMerge(ctx, pr, actorID)
	}
	return pr, nil
}

func (s *Service) mirrorMerge(ctx context.Context, pr store.PullRequest, actorID string) {
	if s.mirror == nil {
		return
	}
	source, err := s.store.GetVersion(ctx, pr.ContentID, pr.SourceVersionID)
	if err != nil {
		s.mirrorWarn(err, pr.ContentID, "merge")
		return
	}
	_, err = s.mirror.PointHead(pr.ContentID, source.Number, actorID, fmt.Sprintf("Merge %s", pr.ID))
	s.mirrorWarn(err, pr.ContentID, "merge")
}
