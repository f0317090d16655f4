package model

import (
	"strings"
	"testing"
	"time"
)

func TestSetProgress_BucketsOnlyAdvance(t *testing.T) {
	var j Job
	if !j.SetProgress(21.37, false) {
		t.Fatalf("expected bucket 20 to be reported")
	}
	if j.ProgressBucket != 20 || j.ProgressPercent != 21.4 {
		t.Fatalf("unexpected progress: bucket=%d pct=%v", j.ProgressBucket, j.ProgressPercent)
	}
	if j.SetProgress(35, false) {
		t.Fatalf("same bucket must not be reported")
	}
	if j.SetProgress(5, false) {
		t.Fatalf("lower bucket must not be reported")
	}
	if j.ProgressBucket != 20 {
		t.Fatalf("bucket moved backwards: %d", j.ProgressBucket)
	}
	if !j.SetProgress(150, false) || j.ProgressBucket != 100 || j.ProgressPercent != 100 {
		t.Fatalf("expected clamp to 100, got bucket=%d pct=%v", j.ProgressBucket, j.ProgressPercent)
	}
	if !j.SetProgress(0, true) || j.ProgressBucket != 0 {
		t.Fatalf("forced reset should report and reset bucket")
	}
}

func TestSetLastMessage_Truncates(t *testing.T) {
	var j Job
	j.SetLastMessage(strings.Repeat("é", 400))
	if len(j.LastMessage) > MaxLastMessageLen {
		t.Fatalf("message not truncated: %d", len(j.LastMessage))
	}
	if !strings.HasSuffix(j.LastMessage, "é") {
		t.Fatalf("truncation split a rune")
	}
}

func TestSnapshot_CopiesOutputFiles(t *testing.T) {
	j := Job{
		ID:             "job_1",
		Status:         StatusRunning,
		OutputFiles:    []string{"a.mp4"},
		ProgressBucket: 40,
		CreatedAt:      time.Now(),
	}
	snap := j.Snapshot()
	snap.OutputFiles[0] = "mutated"
	if j.OutputFiles[0] != "a.mp4" {
		t.Fatalf("snapshot shares output file slice with job")
	}
	if snap.Progress != "40%" {
		t.Fatalf("unexpected progress label %q", snap.Progress)
	}
	if snap.StartedAt != nil || snap.FinishedAt != nil {
		t.Fatalf("zero timestamps should be nil in snapshot")
	}
}
