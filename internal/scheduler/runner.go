package scheduler

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"media-fetchd/internal/archive"
	"media-fetchd/internal/ytdlp"
)

// runningProc is the process-table entry for one job's download.
type runningProc struct {
	proc *ytdlp.Process

	mu        sync.Mutex
	killTimer *time.Timer
	exited    bool
}

// terminate sends SIGTERM and arms a SIGKILL for after grace. The timer is
// disarmed by markExited when the process ends on its own.
func (rp *runningProc) terminate(grace time.Duration) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.exited {
		return nil
	}
	if rp.killTimer == nil {
		rp.killTimer = time.AfterFunc(grace, func() {
			rp.mu.Lock()
			defer rp.mu.Unlock()
			if rp.exited {
				return
			}
			log.Warnw("download ignored SIGTERM, killing", "pid", rp.proc.Pid())
			_ = rp.proc.Kill()
		})
	}
	return rp.proc.Terminate()
}

func (rp *runningProc) markExited() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.exited = true
	if rp.killTimer != nil {
		rp.killTimer.Stop()
	}
}

// downloadResult is what one download attempt reported.
type downloadResult struct {
	ExitCode         int
	Canceled         bool
	SkippedByArchive bool
	Files            []string
	SpawnErr         error
	Tail             string
}

// spawn runs one download attempt for e in outputDir (absolute) and blocks
// until the process exits. Progress and last-message updates are applied to
// the job as lines arrive.
func (s *Scheduler) spawn(e *entry, outputDir, archivePath string) downloadResult {
	template := filepath.Join(outputDir, ytdlp.OutputTemplate)
	args, err := ytdlp.DownloadArgs(s.ytOpts, e.job.URL, template, archivePath)
	if err != nil {
		return downloadResult{ExitCode: 1, SpawnErr: err}
	}

	parser := ytdlp.NewParser(outputDir)
	onLine := func(_ ytdlp.OutputStream, raw string) {
		ev := parser.Feed(raw)
		if ev.Text == "" {
			return
		}
		s.mu.Lock()
		e.job.SetLastMessage(ev.Text)
		if ev.HasPercent && e.job.SetProgress(ev.Percent, false) {
			s.emitLocked(e)
			return
		}
		s.mu.Unlock()
	}

	// Registration and start happen under the lock so Cancel never sees a
	// running job between "no process yet" and "process registered".
	s.mu.Lock()
	if e.ctx.Err() != nil {
		s.mu.Unlock()
		return downloadResult{ExitCode: 1, Canceled: true}
	}
	proc, err := ytdlp.Start(s.cfg.DownloaderPath, args, outputDir, onLine)
	if err != nil {
		s.mu.Unlock()
		log.Errorw("start download", "job", e.job.ID, "err", err)
		return downloadResult{ExitCode: 1, SpawnErr: err}
	}
	rp := &runningProc{proc: proc}
	s.procs[e.job.ID] = rp
	s.mu.Unlock()
	log.Debugw("download started", "job", e.job.ID, "pid", proc.Pid())

	exit := proc.Wait()
	rp.markExited()

	s.mu.Lock()
	delete(s.procs, e.job.ID)
	s.mu.Unlock()

	return downloadResult{
		ExitCode:         exit.Code,
		Canceled:         exit.Signaled,
		SkippedByArchive: parser.SkippedByArchive(),
		Files:            parser.Files(),
		SpawnErr:         exit.Err,
		Tail:             parser.Tail(),
	}
}

// collectOutputs unions printed files, the snapshot diff and the predicted
// path, keeping existing tracked outputs only. Order is first-seen.
func collectOutputs(printed []string, before archive.Snapshot, outputDir, predicted string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] || !archive.IsTrackedOutput(p) || !archive.FileExists(p) {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, f := range printed {
		add(f)
	}
	after, err := archive.SnapshotDir(outputDir)
	if err != nil {
		log.Warnw("snapshot output dir", "dir", outputDir, "err", err)
	}
	for _, f := range archive.DiffSnapshots(before, after) {
		add(f)
	}
	if len(out) == 0 && predicted != "" {
		add(predicted)
	}
	return out
}
