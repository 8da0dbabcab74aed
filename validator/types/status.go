package types

// TournamentStatus tracks the phase machine of a tournament. Transitions
// are one-way through the enum; "failed" is terminal and reachable from
// any non-terminal status.
type TournamentStatus string

// Tournament statuses.
const (
	TournamentPending    TournamentStatus = "pending"
	TournamentCollecting TournamentStatus = "collecting"
	TournamentTesting    TournamentStatus = "testing"
	TournamentEvaluating TournamentStatus = "evaluating"
	TournamentCompleted  TournamentStatus = "completed"
	TournamentFailed     TournamentStatus = "failed"
)

var tournamentOrder = map[TournamentStatus]int{
	TournamentPending:    0,
	TournamentCollecting: 1,
	TournamentTesting:    2,
	TournamentEvaluating: 3,
	TournamentCompleted:  4,
}

// Terminal reports whether no further transitions are allowed.
func (s TournamentStatus) Terminal() bool {
	return s == TournamentCompleted || s == TournamentFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TournamentStatus) CanTransitionTo(next TournamentStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == TournamentFailed {
		return true
	}
	cur, ok := tournamentOrder[s]
	if !ok {
		return false
	}
	nxt, ok := tournamentOrder[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}

// SubmissionStatus tracks a participant submission's lifecycle.
type SubmissionStatus string

// Submission statuses.
const (
	SubmissionPending      SubmissionStatus = "pending"
	SubmissionValidating   SubmissionStatus = "validating"
	SubmissionValidated    SubmissionStatus = "validated"
	SubmissionFailed       SubmissionStatus = "failed"
	SubmissionDisqualified SubmissionStatus = "disqualified"
)

// RunStatus tracks a single evaluation run.
type RunStatus string

// Evaluation run statuses.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimeout   RunStatus = "timeout"
)

// Disqualifying reports whether a run in this status zeroes its
// submission's final result.
func (s RunStatus) Disqualifying() bool {
	return s == RunFailed || s == RunTimeout
}
