package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullRequestRowDecodesReviewers(t *testing.T) {
	pr, err := pullRequestRow{ID: "pr_1", ReviewerIDs: []byte(`["rev","ed"]`), Status: PROpen}.pullRequest()
	require.NoError(t, err)
	assert.Equal(t, []string{"rev", "ed"}, pr.ReviewerIDs)

	empty, err := pullRequestRow{ID: "pr_2"}.pullRequest()
	require.NoError(t, err)
	assert.Equal(t, []string{}, empty.ReviewerIDs)
}

func TestPullRequestRowRejectsCorruptReviewers(t *testing.T) {
	_, err := pullRequestRow{ID: "pr_3", ReviewerIDs: []byte(`{"rev":true}`)}.pullRequest()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pr_3")
}
