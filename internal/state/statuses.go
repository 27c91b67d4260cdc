package state

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusScheduled  JobStatus = "scheduled"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

var AllStatuses = []JobStatus{
	StatusPending,
	StatusScheduled,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

// ValidTransitions is the closed job state machine. A scheduled job becomes
// claimable again once its next_retry_at elapses, so scheduled -> processing
// is the retry edge. Completed and failed are terminal.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusProcessing},
	{From: StatusScheduled, To: StatusProcessing},
	{From: StatusProcessing, To: StatusCompleted},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusProcessing, To: StatusScheduled},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

func IsTerminal(s JobStatus) bool {
	return s == StatusCompleted || s == StatusFailed
}
