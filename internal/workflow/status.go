package workflow

// JobStatus is the remote job lifecycle status as reported by the
// status-poll endpoint.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusExecuting JobStatus = "EXECUTING"
	StatusSuccess   JobStatus = "SUCCESS"
	StatusFailed    JobStatus = "FAILED"
	StatusError     JobStatus = "ERROR"
	StatusTimeout   JobStatus = "TIMEOUT"

	// StatusSaveFailed marks tasks whose submission step failed before a
	// job ever existed remotely. Local marker, never seen on the wire.
	StatusSaveFailed JobStatus = "SAVE_FAILED"

	StatusUnknown JobStatus = "UNKNOWN"
)

// TerminalSet is the set of statuses from which a job never transitions.
type TerminalSet map[JobStatus]bool

// NewTerminalSet builds a terminal set from configured status names.
// SUCCESS and FAILED are always members; an empty extra list yields the
// default set of SUCCESS, FAILED and ERROR.
func NewTerminalSet(extra []string) TerminalSet {
	set := TerminalSet{StatusSuccess: true, StatusFailed: true}
	if len(extra) == 0 {
		set[StatusError] = true
		return set
	}
	for _, s := range extra {
		set[JobStatus(s)] = true
	}
	return set
}

func (t TerminalSet) Contains(s JobStatus) bool { return t[s] }
