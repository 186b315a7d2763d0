package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type ContentType string

const (
	ContentQuiz    ContentType = "quiz"
	ContentArticle ContentType = "article"
	ContentLesson  ContentType = "lesson"
)

func ParseContentType(raw string) (ContentType, error) {
	switch ContentType(raw) {
	case ContentQuiz, ContentArticle, ContentLesson:
		return ContentType(raw), nil
	default:
		return "", fmt.Errorf("unknown content type %q", raw)
	}
}

type VersionStatus string

const (
	VersionPendingReview VersionStatus = "pending_review"
	VersionApproved      VersionStatus = "approved"
	VersionNeedsRevision VersionStatus = "needs_revision"
	VersionRejected      VersionStatus = "rejected"
)

func ParseVersionStatus(raw string) (VersionStatus, error) {
	switch VersionStatus(raw) {
	case VersionPendingReview, VersionApproved, VersionNeedsRevision, VersionRejected:
		return VersionStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown version status %q", raw)
	}
}

type PRStatus string

const (
	PROpen          PRStatus = "open"
	PRNeedsRevision PRStatus = "needs_revision"
	PRApproved      PRStatus = "approved"
	PRMerged        PRStatus = "merged"
	PRRejected      PRStatus = "rejected"
)

func ParsePRStatus(raw string) (PRStatus, error) {
	switch PRStatus(raw) {
	case PROpen, PRNeedsRevision, PRApproved, PRMerged, PRRejected:
		return PRStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown pull request status %q", raw)
	}
}

func (s PRStatus) Terminal() bool {
	return s == PRMerged || s == PRRejected
}

type Content struct {
	ID              string      `json:"id" db:"id"`
	Title           string      `json:"title" db:"title"`
	Type            ContentType `json:"type" db:"type"`
	OwnerID         string      `json:"ownerId" db:"owner_id"`
	CollaboratorIDs []string    `json:"collaboratorIds" db:"-"`
	Visible         bool        `json:"visible" db:"visible"`
	LatestVersionID *string     `json:"latestVersionId" db:"latest_version_id"`
	VersionIDs      []string    `json:"versionIds" db:"-"`
	CreatedAt       time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time   `json:"updatedAt" db:"updated_at"`
}

// HasCollaborator reports membership; the owner always counts.
func (c Content) HasCollaborator(userID string) bool {
	if userID == c.OwnerID {
		return true
	}
	for _, id := range c.CollaboratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Version struct {
	ID            string          `json:"id" db:"id"`
	ContentID     string          `json:"contentId" db:"content_id"`
	Number        int             `json:"number" db:"number"`
	Snapshot      json.RawMessage `json:"snapshot" db:"snapshot"`
	Message       string          `json:"message" db:"message"`
	ContributorID string          `json:"contributorId" db:"contributor_id"`
	Status        VersionStatus   `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

type PullRequest struct {
	ID              string    `json:"id" db:"id"`
	ContentID       string    `json:"contentId" db:"content_id"`
	SourceVersionID string    `json:"sourceVersionId" db:"source_version_id"`
	TargetVersionID string    `json:"targetVersionId" db:"target_version_id"`
	AuthorID        string    `json:"authorId" db:"author_id"`
	ReviewerIDs     []string  `json:"reviewerIds" db:"-"`
	Status          PRStatus  `json:"status" db:"status"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
}

func (p PullRequest) HasReviewer(userID string) bool {
	for _, id := range p.ReviewerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Transition is the outcome a workflow decision asks the store to apply to a
// pull request and the versions it references.
type Transition struct {
	Status        PRStatus
	VersionStatus VersionStatus
	AdoptSource   bool
}

// NewContent carries the fields needed to insert a content item. The owner is
// added to the collaborator set by the store.
type NewContent struct {
	ID            string
	Title         string
	Type          ContentType
	OwnerID       string
	Collaborators []string
	Visible       bool
}

type NewVersion struct {
	ID            string
	Snapshot      json.RawMessage
	Message       string
	ContributorID string
}

type NewPullRequest struct {
	ID              string
	ContentID       string
	SourceVersionID string
	// TargetVersionID empty means the content head at insert time.
	TargetVersionID string
	AuthorID        string
	ReviewerIDs     []string
}

// uniqueStrings drops blanks and duplicates, keeping first-seen order.
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
