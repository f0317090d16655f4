package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-fetchd/internal/archive"
	"media-fetchd/internal/model"
	"media-fetchd/internal/runstore"
	"media-fetchd/internal/ytdlp"
)

// runJob takes one admitted job from queued to a terminal status. It is the
// only writer of the job apart from Cancel, and every write goes through the
// helpers below, which refuse to touch a job that is already terminal.
func (s *Scheduler) runJob(e *entry) {
	job := e.job

	if !s.IsAvailable() {
		s.fail(e, "downloader unavailable")
		return
	}
	if !IsCandidateURL(job.URL) {
		s.fail(e, "unsupported URL")
		return
	}
	if s.canceled(e) {
		s.finishCanceled(e)
		return
	}

	if err := s.limiter.Wait(e.ctx); err != nil {
		if s.canceled(e) {
			s.finishCanceled(e)
		} else {
			s.fail(e, err.Error())
		}
		return
	}
	if s.canceled(e) {
		s.finishCanceled(e)
		return
	}

	dir, err := filepath.Abs(job.OutputDir)
	if err == nil {
		err = runstore.Mkdir(dir)
	}
	if err != nil {
		s.fail(e, err.Error())
		return
	}

	started := s.mutate(e, func(j *model.Job) error {
		if err := model.TransitionJobStatus(j, model.StatusRunning); err != nil {
			return err
		}
		j.StartedAt = time.Now().UTC()
		j.SetProgress(0, true)
		j.Error = ""
		j.SkipReason = ""
		return nil
	})
	if !started {
		return
	}
	log.Infow("job running", "job", job.ID, "url", job.URL)

	archivePath := archive.LedgerPath(dir)
	mediaID := s.resolveMediaID(e.ctx, job.URL)
	before, err := archive.SnapshotDir(dir)
	if err != nil {
		log.Warnw("snapshot output dir", "dir", dir, "err", err)
	}

	predicted := s.predictFilename(e.ctx, job.URL, dir)
	if s.canceled(e) {
		s.finishCanceled(e)
		return
	}
	if predicted != "" && archive.FileExists(predicted) {
		res := s.verifier.Verify(e.ctx, []string{predicted})
		if s.canceled(e) {
			s.finishCanceled(e)
			return
		}
		if !res.OK {
			s.fail(e, "existing file failed integrity check: "+res.Message)
			return
		}
		s.complete(e, dir, []string{predicted}, model.SkipFileExists)
		return
	}

	var files []string
	skip := ""
	for attempt := 1; attempt <= maxDownloadAttempts; attempt++ {
		result := s.spawn(e, dir, archivePath)
		if result.Canceled || s.canceled(e) {
			s.finishCanceled(e)
			return
		}
		if result.SpawnErr != nil || result.ExitCode != 0 {
			s.fail(e, exitMessage(result))
			return
		}

		files = collectOutputs(result.Files, before, dir, predicted)
		if len(files) > 0 {
			break
		}

		archived := result.SkippedByArchive
		if !archived && mediaID != "" {
			archived, err = archive.LedgerContains(archivePath, mediaID)
			if err != nil {
				log.Warnw("check archive", "job", job.ID, "err", err)
			}
		}
		if !archived {
			s.fail(e, firstNonEmpty(result.Tail, "no output files found after download"))
			return
		}

		found, err := archive.FindFilesByID(dir, mediaID)
		if err != nil {
			log.Warnw("search outputs by id", "job", job.ID, "id", mediaID, "err", err)
		}
		if len(found) > 0 {
			files = found
			skip = model.SkipAlreadyDownloaded
			break
		}

		if attempt < maxDownloadAttempts && s.dropStaleLedgerEntry(job.ID, archivePath, mediaID) {
			s.note(e, "stale archive entry removed, retrying download")
			continue
		}
		s.fail(e, "archive marks URL as downloaded, but file is missing on disk")
		return
	}

	if !s.beginCollecting(e) {
		s.finishCanceled(e)
		return
	}

	// Past this point the job is not cancelable; a scheduler shutdown must
	// not turn an interrupted inspection into an integrity failure.
	res := s.verifier.Verify(context.WithoutCancel(e.ctx), files)
	if !res.OK {
		s.dropStaleLedgerEntry(job.ID, archivePath, mediaID)
		s.fail(e, "downloaded file failed integrity check: "+res.Message)
		return
	}
	s.complete(e, dir, files, skip)
}

func (s *Scheduler) canceled(e *entry) bool {
	return e.ctx.Err() != nil
}

// mutate applies fn to a live job and notifies the observer. It reports
// false, without calling fn, once the job is terminal.
func (s *Scheduler) mutate(e *entry, fn func(j *model.Job) error) bool {
	s.mu.Lock()
	if model.IsTerminal(e.job.Status) {
		s.mu.Unlock()
		return false
	}
	if err := fn(e.job); err != nil {
		s.mu.Unlock()
		log.Errorw("job update rejected", "job", e.job.ID, "err", err)
		return false
	}
	s.emitLocked(e)
	return true
}

func (s *Scheduler) note(e *entry, msg string) {
	s.mutate(e, func(j *model.Job) error {
		j.SetLastMessage(msg)
		return nil
	})
}

func (s *Scheduler) fail(e *entry, msg string) {
	s.mu.Lock()
	if model.IsTerminal(e.job.Status) {
		s.mu.Unlock()
		return
	}
	e.job.Error = msg
	s.finishLocked(e, model.StatusFailed)
	s.emitLocked(e)
	log.Warnw("job failed", "job", e.job.ID, "url", e.job.URL, "error", msg)
}

func (s *Scheduler) finishCanceled(e *entry) {
	s.mu.Lock()
	if model.IsTerminal(e.job.Status) {
		s.mu.Unlock()
		return
	}
	e.job.CancelRequested = true
	s.finishLocked(e, model.StatusCanceled)
	s.emitLocked(e)
	log.Infow("job canceled", "job", e.job.ID)
}

func (s *Scheduler) beginCollecting(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ctx.Err() != nil {
		return false
	}
	e.collecting = true
	return true
}

// complete records files (absolute paths) relative to dir and marks the job done.
func (s *Scheduler) complete(e *entry, dir string, files []string, skip string) {
	display := make([]string, 0, len(files))
	for _, f := range files {
		display = append(display, archive.RelativeDisplayPath(dir, f))
		if info, err := os.Stat(f); err == nil {
			s.metrics.observeOutput(info.Size())
		}
	}

	s.mu.Lock()
	if model.IsTerminal(e.job.Status) {
		s.mu.Unlock()
		return
	}
	e.job.OutputFiles = display
	e.job.SkipReason = skip
	e.job.SetProgress(100, true)
	s.finishLocked(e, model.StatusCompleted)
	s.emitLocked(e)
	log.Infow("job completed", "job", e.job.ID, "files", len(display), "skip", skip)
}

func (s *Scheduler) dropStaleLedgerEntry(jobID, archivePath, mediaID string) bool {
	if mediaID == "" {
		return false
	}
	removed, err := archive.LedgerRemove(archivePath, mediaID)
	if err != nil {
		log.Warnw("remove archive entry", "job", jobID, "id", mediaID, "err", err)
		return false
	}
	return removed
}

// resolveMediaID asks the downloader for the remote id. Failures yield "".
func (s *Scheduler) resolveMediaID(ctx context.Context, url string) string {
	id, err := ytdlp.CaptureFirstLine(ctx, s.cfg.DownloaderPath, ytdlp.GetIDArgs(s.ytOpts, url), ytdlp.QueryTimeout)
	if err != nil {
		log.Debugw("resolve media id", "url", url, "err", err)
		return ""
	}
	return strings.TrimSpace(id)
}

// predictFilename asks the downloader where url would be saved in dir.
func (s *Scheduler) predictFilename(ctx context.Context, url, dir string) string {
	args := ytdlp.PredictFilenameArgs(s.ytOpts, url, filepath.Join(dir, ytdlp.OutputTemplate))
	name, err := ytdlp.CaptureFirstLine(ctx, s.cfg.DownloaderPath, args, ytdlp.QueryTimeout)
	if err != nil {
		log.Debugw("predict filename", "url", url, "err", err)
		return ""
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(dir, name)
	}
	return filepath.Clean(name)
}

func exitMessage(r downloadResult) string {
	if r.SpawnErr != nil {
		return r.SpawnErr.Error()
	}
	if r.Tail != "" {
		return r.Tail
	}
	return fmt.Sprintf("downloader exited with code %d", r.ExitCode)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
