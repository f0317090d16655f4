package model

import (
	"fmt"
	"math"
	"time"
)

const MaxLastMessageLen = 500

// Job is one request to fetch one URL into one output directory.
type Job struct {
	ID        string
	DocID     string
	URL       string
	OutputDir string
	Topic     string

	Status          string
	ProgressPercent float64
	ProgressBucket  int
	OutputFiles     []string
	SkipReason      string
	Error           string
	LastMessage     string
	CancelRequested bool

	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Snapshot is the read-only view of a Job handed to observers and callers.
type Snapshot struct {
	ID              string     `json:"id"`
	DocID           string     `json:"doc_id"`
	URL             string     `json:"url"`
	Topic           string     `json:"topic,omitempty"`
	OutputDir       string     `json:"output_dir"`
	Status          string     `json:"status"`
	Progress        string     `json:"progress"`
	ProgressPercent float64    `json:"progress_percent"`
	ProgressBucket  int        `json:"progress_bucket"`
	OutputFiles     []string   `json:"output_files"`
	SkipReason      string     `json:"skip_reason,omitempty"`
	Error           string     `json:"error,omitempty"`
	LastMessage     string     `json:"last_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

func (j *Job) Snapshot() Snapshot {
	files := make([]string, len(j.OutputFiles))
	copy(files, j.OutputFiles)
	return Snapshot{
		ID:              j.ID,
		DocID:           j.DocID,
		URL:             j.URL,
		Topic:           j.Topic,
		OutputDir:       j.OutputDir,
		Status:          j.Status,
		Progress:        fmt.Sprintf("%d%%", j.ProgressBucket),
		ProgressPercent: j.ProgressPercent,
		ProgressBucket:  j.ProgressBucket,
		OutputFiles:     files,
		SkipReason:      j.SkipReason,
		Error:           j.Error,
		LastMessage:     j.LastMessage,
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       timePtr(j.StartedAt),
		FinishedAt:      timePtr(j.FinishedAt),
	}
}

// SetProgress records percent (clamped to [0,100], one decimal) and reports
// whether the coarse bucket advanced. Buckets step by 20 and only grow.
func (j *Job) SetProgress(percent float64, force bool) bool {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return false
	}
	clipped := math.Max(0, math.Min(100, percent))
	bucket := int(math.Floor(clipped/20)) * 20
	if clipped >= 100 {
		bucket = 100
	}
	j.ProgressPercent = math.Round(clipped*10) / 10
	if force || bucket > j.ProgressBucket {
		j.ProgressBucket = bucket
		return true
	}
	return false
}

// SetLastMessage keeps at most MaxLastMessageLen bytes without splitting a rune.
func (j *Job) SetLastMessage(msg string) {
	if len(msg) <= MaxLastMessageLen {
		j.LastMessage = msg
		return
	}
	cut := MaxLastMessageLen
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	j.LastMessage = msg[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t
	return &v
}
