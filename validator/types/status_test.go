package types

import (
	"testing"

	"github.com/chainswarm/subnet2/testing/assert"
)

func TestTournamentStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to TournamentStatus
		want     bool
	}{
		{TournamentPending, TournamentCollecting, true},
		{TournamentCollecting, TournamentTesting, true},
		{TournamentTesting, TournamentEvaluating, true},
		{TournamentEvaluating, TournamentCompleted, true},
		{TournamentPending, TournamentTesting, false},
		{TournamentCollecting, TournamentEvaluating, false},
		{TournamentTesting, TournamentCollecting, false},
		{TournamentCompleted, TournamentFailed, false},
		{TournamentFailed, TournamentCollecting, false},
		{TournamentPending, TournamentFailed, true},
		{TournamentCollecting, TournamentFailed, true},
		{TournamentTesting, TournamentFailed, true},
		{TournamentEvaluating, TournamentFailed, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTournamentStatus_Terminal(t *testing.T) {
	assert.Equal(t, true, TournamentCompleted.Terminal())
	assert.Equal(t, true, TournamentFailed.Terminal())
	assert.Equal(t, false, TournamentTesting.Terminal())
}

func TestRunStatus_Disqualifying(t *testing.T) {
	assert.Equal(t, true, RunFailed.Disqualifying())
	assert.Equal(t, true, RunTimeout.Disqualifying())
	assert.Equal(t, false, RunCompleted.Disqualifying())
	assert.Equal(t, false, RunRunning.Disqualifying())
}

func TestValidCommitHash(t *testing.T) {
	assert.Equal(t, true, ValidCommitHash("0123456789abcdef0123456789abcdef01234567"))
	assert.Equal(t, false, ValidCommitHash("0123456789ABCDEF0123456789ABCDEF01234567"))
	assert.Equal(t, false, ValidCommitHash("abc123"))
	assert.Equal(t, false, ValidCommitHash(""))
}
