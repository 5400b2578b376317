package promoter

// Kind tags an Outcome.
type Kind int

// Outcome kinds.
const (
	KindNoChangeNeeded Kind = iota + 1
	KindPullRequestCreated
	KindPullRequestAlreadyExists
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindNoChangeNeeded:
		return "no_change_needed"
	case KindPullRequestCreated:
		return "pull_request_created"
	case KindPullRequestAlreadyExists:
		return "pull_request_already_exists"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a step of a promotion run.
type State int

// Promotion states, in order.
const (
	StateStart State = iota
	StateRepoResolved
	StatePrChecked
	StateTagRead
	StateContentCompared
	StateNoOp
	StateBranchReady
	StateCommitted
	StatePrEnsured
	StateDone
)

var stateNames = [...]string{
	StateStart:           "start",
	StateRepoResolved:    "repo_resolved",
	StatePrChecked:       "pr_checked",
	StateTagRead:         "tag_read",
	StateContentCompared: "content_compared",
	StateNoOp:            "no_op",
	StateBranchReady:     "branch_ready",
	StateCommitted:       "committed",
	StatePrEnsured:       "pr_ensured",
	StateDone:            "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Outcome is the single result of a promotion run.
type Outcome struct {
	Kind Kind
	// URL locates the pull request, when there is one.
	URL string
	// Reason is a human readable failure description.
	Reason string
	// Err is the failure cause for KindFailed.
	Err error
	// FailedAt is the last state reached before failing.
	FailedAt State
	// Committed is set when an already open pull
	// request received a new commit.
	Committed bool
}

// NoChangeNeeded reports that both manifests already
// carry the same tag.
func NoChangeNeeded() Outcome {
	return Outcome{Kind: KindNoChangeNeeded}
}

// PullRequestCreated reports a new pull request.
func PullRequestCreated(url string) Outcome {
	return Outcome{Kind: KindPullRequestCreated, URL: url}
}

// PullRequestAlreadyExists reports an open pull request
// for the branch, which received a new commit when
// committed is true.
func PullRequestAlreadyExists(url string, committed bool) Outcome {
	return Outcome{
		Kind:      KindPullRequestAlreadyExists,
		URL:       url,
		Committed: committed,
	}
}

// Failed reports a run aborted at state.
func Failed(state State, err error) Outcome {
	return Outcome{
		Kind:     KindFailed,
		Reason:   err.Error(),
		Err:      err,
		FailedAt: state,
	}
}
