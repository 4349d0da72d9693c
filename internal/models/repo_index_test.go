package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionRepoIndex(t *testing.T) {
	allowed := [][2]string{
		{RepoIndexStatusPending, RepoIndexStatusIndexing},
		{RepoIndexStatusIndexing, RepoIndexStatusReady},
		{RepoIndexStatusIndexing, RepoIndexStatusFailed},
		{RepoIndexStatusReady, RepoIndexStatusIndexing},
		{RepoIndexStatusFailed, RepoIndexStatusIndexing},
	}
	for _, pair := range allowed {
		require.Truef(t, CanTransitionRepoIndex(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	rejected := [][2]string{
		{RepoIndexStatusPending, RepoIndexStatusReady},
		{RepoIndexStatusPending, RepoIndexStatusFailed},
		{RepoIndexStatusReady, RepoIndexStatusFailed},
		{RepoIndexStatusFailed, RepoIndexStatusReady},
		{RepoIndexStatusReady, RepoIndexStatusPending},
		{RepoIndexStatusFailed, RepoIndexStatusPending},
		{RepoIndexStatusIndexing, RepoIndexStatusIndexing},
		{"", RepoIndexStatusReady},
	}
	for _, pair := range rejected {
		require.Falsef(t, CanTransitionRepoIndex(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestClaimableStatusesMatchTransitions(t *testing.T) {
	for _, status := range ClaimableRepoIndexStatuses() {
		require.True(t, CanTransitionRepoIndex(status, RepoIndexStatusIndexing))
	}
	require.NotContains(t, ClaimableRepoIndexStatuses(), RepoIndexStatusIndexing)
}

func TestSubmissionIsFinalized(t *testing.T) {
	submission := Submission{Status: SubmissionStatusFinalized}
	require.False(t, submission.IsFinalized())

	submission.GitHubRepo = GitHubRepo{Owner: "acme", Repo: "api", PinnedCommitSHA: "abc123"}
	require.True(t, submission.IsFinalized())

	submission.Status = SubmissionStatusDraft
	require.False(t, submission.IsFinalized())
}
