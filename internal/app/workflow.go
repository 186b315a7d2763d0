package app

import (
	"fmt"

	"draftline/api/internal/rbac"
	"draftline/api/internal/store"
)

// Action is a reviewer or author move on a pull request.
type Action string

const (
	ActionRequestChanges Action = "request_changes"
	ActionApprove        Action = "approve"
	ActionResubmit       Action = "resubmit"
	ActionMerge          Action = "merge"
	ActionReject         Action = "reject"
)

func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionRequestChanges, ActionApprove, ActionResubmit, ActionMerge, ActionReject:
		return Action(raw), nil
	default:
		return "", fmt.Errorf("unknown pull request action %q", raw)
	}
}

// transitions lists every legal move. Terminal states have no entry.
var transitions = map[store.PRStatus]map[Action]store.PRStatus{
	store.PROpen: {
		ActionRequestChanges: store.PRNeedsRevision,
		ActionApprove:        store.PRApproved,
		ActionReject:         store.PRRejected,
	},
	store.PRNeedsRevision: {
		ActionApprove:  store.PRApproved,
		ActionResubmit: store.PROpen,
		ActionReject:   store.PRRejected,
	},
	store.PRApproved: {
		ActionMerge:  store.PRMerged,
		ActionReject: store.PRRejected,
	},
}

func nextStatus(from store.PRStatus, action Action) (store.PRStatus, bool) {
	next, ok := transitions[from][action]
	return next, ok
}

// actionForStatus maps the status a PATCH asks for onto the action that
// reaches it.
func actionForStatus(status store.PRStatus) (Action, bool) {
	switch status {
	case store.PRNeedsRevision:
		return ActionRequestChanges, true
	case store.PRApproved:
		return ActionApprove, true
	case store.PROpen:
		return ActionResubmit, true
	case store.PRMerged:
		return ActionMerge, true
	case store.PRRejected:
		return ActionReject, true
	default:
		return "", false
	}
}

// sourceStatus is the review outcome recorded on the source version. Merge
// keeps whatever approve already set.
func sourceStatus(action Action) store.VersionStatus {
	switch action {
	case ActionApprove:
		return store.VersionApproved
	case ActionRequestChanges:
		return store.VersionNeedsRevision
	case ActionReject:
		return store.VersionRejected
	case ActionResubmit:
		return store.VersionPendingReview
	default:
		return ""
	}
}

// requiredPermission: reviewers judge, editors move the head.
func requiredPermission(action Action) rbac.Action {
	switch action {
	case ActionMerge, ActionResubmit:
		return rbac.ActionWrite
	default:
		return rbac.ActionReview
	}
}

// decideTransition returns the store outcome for action, or an
// INVALID_TRANSITION error when the move is illegal from current's status.
func decideTransition(current store.PullRequest, action Action) (store.Transition, error) {
	next, ok := nextStatus(current.Status, action)
	if !ok {
		return store.Transition{}, invalidTransition(string(current.Status), action)
	}
	return store.Transition{
		Status:        next,
		VersionStatus: sourceStatus(action),
		AdoptSource:   action == ActionMerge,
	}, nil
}
