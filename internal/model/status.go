package model

import "fmt"

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

const (
	SkipFileExists        = "file_exists"
	SkipAlreadyDownloaded = "already_downloaded"
)

// Jobs only ever move forward: nothing re-enters queued and running is only
// reachable from queued. Terminal states have no outgoing edges.
var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusQueued: true,
	},
	StatusQueued: {
		StatusRunning:  true,
		StatusFailed:   true,
		StatusCanceled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCanceled:  true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCanceled:  {},
}

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsLive reports whether a job in this status still occupies its
// (url, output dir) slot for deduplication.
func IsLive(status string) bool {
	return status == StatusQueued || status == StatusRunning
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJobStatus(job *Job, toStatus string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s url=%s)", from, toStatus, job.ID, job.URL)
	}
	job.Status = toStatus
	return nil
}
