package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedContent(t *testing.T, s *MemoryStore, id string) Content {
	t.Helper()
	item, err := s.InsertContent(context.Background(), NewContent{
		ID:            id,
		Title:         "Intro",
		Type:          ContentArticle,
		OwnerID:       "owner",
		Collaborators: []string{"ed", "ed", ""},
	})
	require.NoError(t, err)
	return item
}

var versionSeq atomic.Int64

func appendN(t *testing.T, s *MemoryStore, contentID string, n int) []Version {
	t.Helper()
	out := make([]Version, 0, n)
	for i := 0; i < n; i++ {
		v, err := s.AppendVersion(context.Background(), contentID, NewVersion{
			ID:            fmt.Sprintf("%s-v%d", contentID, versionSeq.Add(1)),
			Snapshot:      json.RawMessage(fmt.Sprintf(`{"body":%d}`, i)),
			ContributorID: "owner",
		})
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestMemoryInsertContentIncludesOwnerOnce(t *testing.T) {
	s := NewMemoryStore()
	item := seedContent(t, s, "c1")

	assert.Equal(t, []string{"owner", "ed"}, item.CollaboratorIDs)
	assert.Nil(t, item.LatestVersionID)
	assert.Empty(t, item.VersionIDs)

	_, err := s.InsertContent(context.Background(), NewContent{ID: "c1", OwnerID: "x", Type: ContentQuiz})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryAppendVersionAdvancesHead(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	versions := appendN(t, s, "c1", 2)

	assert.Equal(t, 1, versions[0].Number)
	assert.Equal(t, 2, versions[1].Number)
	assert.Equal(t, VersionPendingReview, versions[1].Status)

	item, err := s.GetContent(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, item.LatestVersionID)
	assert.Equal(t, versions[1].ID, *item.LatestVersionID)
	assert.Equal(t, []string{versions[0].ID, versions[1].ID}, item.VersionIDs)

	listed, err := s.ListVersions(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 2, listed[0].Number)
	assert.Equal(t, 1, listed[1].Number)
}

func TestMemoryAppendVersionMissingContent(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.AppendVersion(context.Background(), "missing", NewVersion{ID: "v", Snapshot: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ListVersions(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConcurrentAppendsNumberContiguously(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	seedContent(t, s, "c2")

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		for _, contentID := range []string{"c1", "c2"} {
			wg.Add(1)
			go func(contentID string, i int) {
				defer wg.Done()
				_, err := s.AppendVersion(context.Background(), contentID, NewVersion{
					ID:            fmt.Sprintf("%s-%d", contentID, i),
					Snapshot:      json.RawMessage(`{}`),
					ContributorID: "ed",
				})
				assert.NoError(t, err)
			}(contentID, i)
		}
	}
	wg.Wait()

	for _, contentID := range []string{"c1", "c2"} {
		versions, err := s.ListVersions(context.Background(), contentID)
		require.NoError(t, err)
		require.Len(t, versions, writers)

		numbers := make([]int, 0, len(versions))
		for _, v := range versions {
			numbers = append(numbers, v.Number)
		}
		sort.Ints(numbers)
		for i, n := range numbers {
			assert.Equal(t, i+1, n)
		}

		item, err := s.GetContent(context.Background(), contentID)
		require.NoError(t, err)
		assert.Equal(t, versions[0].ID, *item.LatestVersionID)
	}
}

func TestMemoryRevertDiscardsNewerVersions(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	versions := appendN(t, s, "c1", 3)

	item, err := s.RevertTo(context.Background(), "c1", 1)
	require.NoError(t, err)
	assert.Equal(t, versions[0].ID, *item.LatestVersionID)
	assert.Equal(t, []string{versions[0].ID}, item.VersionIDs)

	_, err = s.GetVersion(context.Background(), "c1", versions[2].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	again, err := s.AppendVersion(context.Background(), "c1", NewVersion{ID: "fresh", Snapshot: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 2, again.Number)
	assert.NotEqual(t, versions[1].ID, again.ID)
}

func TestMemoryRevertToHeadIsNoop(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	appendN(t, s, "c1", 2)

	before, err := s.GetContent(context.Background(), "c1")
	require.NoError(t, err)
	after, err := s.RevertTo(context.Background(), "c1", 2)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMemoryRevertMissingTargetLeavesState(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	appendN(t, s, "c1", 2)

	_, err := s.RevertTo(context.Background(), "c1", 5)
	assert.ErrorIs(t, err, ErrNotFound)

	versions, err := s.ListVersions(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestMemoryInsertPullRequestResolvesTarget(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")

	_, err := s.InsertPullRequest(context.Background(), NewPullRequest{ID: "pr0", ContentID: "c1", SourceVersionID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	versions := appendN(t, s, "c1", 2)

	pr, err := s.InsertPullRequest(context.Background(), NewPullRequest{
		ID:              "pr1",
		ContentID:       "c1",
		SourceVersionID: versions[0].ID,
		AuthorID:        "ed",
		ReviewerIDs:     []string{"rev", "rev"},
	})
	require.NoError(t, err)
	assert.Equal(t, versions[1].ID, pr.TargetVersionID)
	assert.Equal(t, PROpen, pr.Status)
	assert.Equal(t, []string{"rev"}, pr.ReviewerIDs)

	appendN(t, s, "c1", 1)
	stored, err := s.GetPullRequest(context.Background(), "pr1")
	require.NoError(t, err)
	assert.Equal(t, versions[1].ID, stored.TargetVersionID)

	_, err = s.InsertPullRequest(context.Background(), NewPullRequest{ID: "pr2", ContentID: "c1", SourceVersionID: versions[1].ID, TargetVersionID: versions[1].ID})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.InsertPullRequest(context.Background(), NewPullRequest{ID: "pr3", ContentID: "c1", SourceVersionID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.InsertPullRequest(context.Background(), NewPullRequest{ID: "pr4", ContentID: "c1", SourceVersionID: versions[0].ID, TargetVersionID: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTransitionAppliesOutcome(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	versions := appendN(t, s, "c1", 2)
	_, err := s.InsertPullRequest(context.Background(), NewPullRequest{ID: "pr1", ContentID: "c1", SourceVersionID: versions[0].ID})
	require.NoError(t, err)

	pr, err := s.TransitionPullRequest(context.Background(), "pr1", func(current PullRequest) (Transition, error) {
		assert.Equal(t, PROpen, current.Status)
		return Transition{Status: PRMerged, VersionStatus: VersionApproved, AdoptSource: true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, PRMerged, pr.Status)

	item, err := s.GetContent(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, versions[0].ID, *item.LatestVersionID)

	source, err := s.GetVersion(context.Background(), "c1", versions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, VersionApproved, source.Status)
}

func TestMemoryTransitionDecisionErrorLeavesState(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	versions := appendN(t, s, "c1", 2)
	_, err := s.InsertPullRequest(context.Background(), NewPullRequest{ID: "pr1", ContentID: "c1", SourceVersionID: versions[0].ID})
	require.NoError(t, err)

	refused := errors.New("refused")
	_, err = s.TransitionPullRequest(context.Background(), "pr1", func(PullRequest) (Transition, error) {
		return Transition{}, refused
	})
	assert.ErrorIs(t, err, refused)

	pr, err := s.GetPullRequest(context.Background(), "pr1")
	require.NoError(t, err)
	assert.Equal(t, PROpen, pr.Status)
}

func TestMemoryTransitionDanglingReferenceConflicts(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	versions := appendN(t, s, "c1", 3)
	_, err := s.InsertPullRequest(context.Background(), NewPullRequest{ID: "pr1", ContentID: "c1", SourceVersionID: versions[2].ID, TargetVersionID: versions[0].ID})
	require.NoError(t, err)

	_, err = s.RevertTo(context.Background(), "c1", 1)
	require.NoError(t, err)

	_, err = s.TransitionPullRequest(context.Background(), "pr1", func(PullRequest) (Transition, error) {
		return Transition{Status: PRApproved}, nil
	})
	assert.ErrorIs(t, err, ErrConflict)

	pr, err := s.GetPullRequest(context.Background(), "pr1")
	require.NoError(t, err)
	assert.Equal(t, PROpen, pr.Status)
}

func TestMemoryDeleteContentCascades(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")
	versions := appendN(t, s, "c1", 2)
	_, err := s.InsertPullRequest(context.Background(), NewPullRequest{ID: "pr1", ContentID: "c1", SourceVersionID: versions[0].ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteContent(context.Background(), "c1"))

	_, err = s.GetContent(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetPullRequest(context.Background(), "pr1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteContent(context.Background(), "c1"), ErrNotFound)
}

func TestMemoryListContentFiltersHidden(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "hidden")
	seedContent(t, s, "shown")
	_, err := s.SetVisibility(context.Background(), "shown", true)
	require.NoError(t, err)

	outsider, err := s.ListContent(context.Background(), "stranger")
	require.NoError(t, err)
	require.Len(t, outsider, 1)
	assert.Equal(t, "shown", outsider[0].ID)

	member, err := s.ListContent(context.Background(), "ed")
	require.NoError(t, err)
	assert.Len(t, member, 2)
}

func TestMemoryAddCollaboratorsIsSetUnion(t *testing.T) {
	s := NewMemoryStore()
	seedContent(t, s, "c1")

	item, err := s.AddCollaborators(context.Background(), "c1", []string{"ed", "kai", "owner", "kai"})
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "ed", "kai"}, item.CollaboratorIDs)
}
