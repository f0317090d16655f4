// Package scheduler runs media download jobs in the background: it owns the
// job registry and the FIFO pending queue, admits at most MaxConcurrent jobs
// at a time, and drives each admitted job through predict, download, collect
// and verify.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"media-fetchd/internal/model"
	"media-fetchd/internal/verify"
	"media-fetchd/internal/ytdlp"
)

var log = logging.Logger("scheduler")

// ErrInvalidArgument is returned by Enqueue when a required field is blank.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	DefaultMaxConcurrent = 1
	DefaultStartDelay    = 2500 * time.Millisecond
	MinStartDelay        = 500 * time.Millisecond
	DefaultJobRetention  = 24 * time.Hour
	DefaultSweepSchedule = "@every 10m"

	// CancelGrace is how long a running download gets to exit after SIGTERM
	// before it is killed.
	CancelGrace = 1500 * time.Millisecond

	maxDownloadAttempts = 2
)

// Observer receives a snapshot after every job mutation. Calls are
// serialized, arrive in mutation order and happen before the mutating
// operation returns. An observer may call GetJob, ListJobs and the other
// read methods; it must not call Enqueue or Cancel, whose own notification
// would wait behind the call in progress.
type Observer interface {
	JobChanged(model.Snapshot)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(model.Snapshot)

func (f ObserverFunc) JobChanged(s model.Snapshot) { f(s) }

// Config is fixed for the lifetime of a Scheduler.
type Config struct {
	DownloaderPath     string
	InspectorLocation  string
	CookiesPath        string
	CookiesFromBrowser string
	DownloadLimitMBps  float64
	ProxyURL           string

	MaxConcurrent int
	StartDelay    time.Duration

	// JobRetention is how long terminal jobs stay listed. Zero keeps them
	// for the life of the process.
	JobRetention  time.Duration
	SweepSchedule string

	Observer Observer
	Metrics  *Metrics
}

// ToolsInfo is a read-only diagnostic view of the scheduler's setup.
type ToolsInfo struct {
	Available          bool     `json:"available"`
	DownloaderPath     string   `json:"yt_dlp_path"`
	InspectorLocation  string   `json:"ffmpeg_location"`
	CookiesPath        string   `json:"cookies_path"`
	CookiesFromBrowser string   `json:"cookies_from_browser"`
	MaxConcurrent      int      `json:"max_concurrent"`
	StartDelayMS       int64    `json:"start_delay_ms"`
	SupportedHosts     []string `json:"supported_hosts"`
}

type entry struct {
	job *model.Job
	seq uint64

	ctx    context.Context
	cancel context.CancelFunc

	// collecting is set once the download loop is over; from then on a
	// running job can no longer be canceled.
	collecting bool
}

type Scheduler struct {
	cfg      Config
	ytOpts   ytdlp.Options
	verifier verify.Verifier
	limiter  *rate.Limiter
	metrics  *Metrics
	observer Observer

	mu            sync.Mutex
	jobs          map[string]*entry
	seq           uint64
	pending       []string
	running       int
	procs         map[string]*runningProc
	pumpScheduled bool
	closed        bool

	// Observer delivery is ticketed: tickets are drawn under mu in mutation
	// order and served one at a time under emitMu, which is never waited on
	// while mu is held.
	emitMu   sync.Mutex
	emitTurn *sync.Cond
	emitSeq  uint64
	emitNext uint64

	baseCtx    context.Context
	baseCancel context.CancelFunc
	lifecycles sync.WaitGroup
	sweeper    *cron.Cron
}

// New builds a Scheduler. A blank DownloaderPath is allowed: the scheduler
// then reports itself unavailable and fails every job it admits.
func New(cfg Config) (*Scheduler, error) {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	if cfg.StartDelay < MinStartDelay {
		cfg.StartDelay = MinStartDelay
	}
	if strings.TrimSpace(cfg.SweepSchedule) == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	cfg.DownloaderPath = strings.TrimSpace(cfg.DownloaderPath)
	cfg.InspectorLocation = strings.TrimSpace(cfg.InspectorLocation)
	cfg.CookiesPath = strings.TrimSpace(cfg.CookiesPath)
	cfg.CookiesFromBrowser = strings.TrimSpace(cfg.CookiesFromBrowser)
	if cfg.CookiesPath != "" {
		cfg.CookiesFromBrowser = ""
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg: cfg,
		ytOpts: ytdlp.Options{
			FFmpegLocation:     cfg.InspectorLocation,
			CookiesPath:        cfg.CookiesPath,
			CookiesFromBrowser: cfg.CookiesFromBrowser,
			DownloadLimitMBps:  cfg.DownloadLimitMBps,
			ProxyURL:           cfg.ProxyURL,
		},
		verifier:   verify.Verifier{InspectorLocation: cfg.InspectorLocation},
		limiter:    rate.NewLimiter(rate.Every(cfg.StartDelay), 1),
		metrics:    cfg.Metrics,
		observer:   cfg.Observer,
		jobs:       make(map[string]*entry),
		procs:      make(map[string]*runningProc),
		baseCtx:    ctx,
		baseCancel: cancel,
		emitNext:   1,
	}
	s.emitTurn = sync.NewCond(&s.emitMu)

	if cfg.JobRetention > 0 {
		s.sweeper = cron.New()
		if _, err := s.sweeper.AddFunc(cfg.SweepSchedule, func() { s.Sweep(time.Now()) }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule job sweep %q: %w", cfg.SweepSchedule, err)
		}
		s.sweeper.Start()
	}

	log.Infow("scheduler ready",
		"available", s.IsAvailable(),
		"max_concurrent", cfg.MaxConcurrent,
		"start_delay", cfg.StartDelay.String(),
		"inspector", cfg.InspectorLocation,
	)
	return s, nil
}

func (s *Scheduler) IsAvailable() bool {
	return s.cfg.DownloaderPath != ""
}

func (s *Scheduler) ToolsInfo() ToolsInfo {
	hosts := make([]string, len(SupportedHosts))
	copy(hosts, SupportedHosts)
	return ToolsInfo{
		Available:          s.IsAvailable(),
		DownloaderPath:     s.cfg.DownloaderPath,
		InspectorLocation:  s.cfg.InspectorLocation,
		CookiesPath:        s.cfg.CookiesPath,
		CookiesFromBrowser: s.cfg.CookiesFromBrowser,
		MaxConcurrent:      s.cfg.MaxConcurrent,
		StartDelayMS:       s.cfg.StartDelay.Milliseconds(),
		SupportedHosts:     hosts,
	}
}

// DownloaderVersion returns the first line of `yt-dlp --version`.
func (s *Scheduler) DownloaderVersion(ctx context.Context) (string, error) {
	if !s.IsAvailable() {
		return "", fmt.Errorf("downloader unavailable")
	}
	return ytdlp.CaptureFirstLine(ctx, s.cfg.DownloaderPath, []string{"--version"}, ytdlp.ToolCheckTimeout)
}

// Enqueue registers a download of url into outputDir. While a job for the
// same (url, outputDir) is queued or running, that job is returned instead.
func (s *Scheduler) Enqueue(docID, url, outputDir, topic string) (model.Snapshot, error) {
	docID = strings.TrimSpace(docID)
	url = strings.TrimSpace(url)
	outputDir = strings.TrimSpace(outputDir)
	if docID == "" || url == "" || outputDir == "" {
		return model.Snapshot{}, fmt.Errorf("%w: doc id, url and output dir are required", ErrInvalidArgument)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Snapshot{}, fmt.Errorf("scheduler is closed")
	}
	for _, e := range s.jobs {
		if e.job.URL == url && e.job.OutputDir == outputDir && model.IsLive(e.job.Status) {
			snap := e.job.Snapshot()
			s.mu.Unlock()
			return snap, nil
		}
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:        newJobID(now),
		DocID:     docID,
		URL:       url,
		OutputDir: outputDir,
		Topic:     strings.TrimSpace(topic),
		CreatedAt: now,
	}
	if err := model.TransitionJobStatus(job, model.StatusQueued); err != nil {
		s.mu.Unlock()
		return model.Snapshot{}, err
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.seq++
	e := &entry{job: job, seq: s.seq, ctx: ctx, cancel: cancel}
	s.jobs[job.ID] = e
	s.pending = append(s.pending, job.ID)
	s.metrics.setLoad(s.running, len(s.pending))
	s.schedulePumpLocked()
	snap := s.emitLocked(e)

	log.Infow("job queued", "job", job.ID, "url", url, "dir", outputDir)
	return snap, nil
}

// Cancel stops a job. A queued job is canceled on the spot. A running job
// whose download process is attached gets SIGTERM and, after CancelGrace,
// SIGKILL. Cancel returns false for unknown or terminal jobs and for a
// running job with no attached process (still resolving, verifying, or
// between attempts); such a job keeps running and may be canceled again
// once its download starts.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	e, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return false
	}

	switch e.job.Status {
	case model.StatusQueued:
		s.removePendingLocked(jobID)
		e.job.CancelRequested = true
		s.finishLocked(e, model.StatusCanceled)
		e.cancel()
		s.metrics.setLoad(s.running, len(s.pending))
		s.emitLocked(e)
		log.Infow("queued job canceled", "job", jobID)
		return true

	case model.StatusRunning:
		rp := s.procs[jobID]
		if rp == nil || e.collecting {
			s.mu.Unlock()
			return false
		}
		e.job.CancelRequested = true
		e.cancel()
		if err := rp.terminate(CancelGrace); err != nil {
			log.Warnw("terminate download", "job", jobID, "err", err)
		}
		s.emitLocked(e)
		log.Infow("running job cancel requested", "job", jobID)
		return true

	default:
		s.mu.Unlock()
		return false
	}
}

// ListJobs returns jobs newest first, optionally only those of one document.
func (s *Scheduler) ListJobs(docID string) []model.Snapshot {
	docID = strings.TrimSpace(docID)
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		if docID != "" && e.job.DocID != docID {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.After(b.job.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]model.Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.job.Snapshot())
	}
	s.mu.Unlock()
	return out
}

func (s *Scheduler) GetJob(jobID string) (model.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jobID]
	if !ok {
		return model.Snapshot{}, false
	}
	return e.job.Snapshot(), true
}

// HasActiveJobs reports whether any job is queued or running.
func (s *Scheduler) HasActiveJobs() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if model.IsLive(e.job.Status) {
			return true
		}
	}
	return false
}

// Sweep drops terminal jobs that finished more than JobRetention before now
// and returns how many were removed.
func (s *Scheduler) Sweep(now time.Time) int {
	if s.cfg.JobRetention <= 0 {
		return 0
	}
	cutoff := now.Add(-s.cfg.JobRetention)
	s.mu.Lock()
	removed := 0
	for id, e := range s.jobs {
		if !model.IsTerminal(e.job.Status) || e.job.FinishedAt.IsZero() {
			continue
		}
		if e.job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		log.Infow("evicted finished jobs", "count", removed, "retention", s.cfg.JobRetention.String())
	}
	return removed
}

// Close cancels every live job, waits for their lifecycles to return and
// stops the sweeper. The scheduler accepts no jobs afterwards.
func (s *Scheduler) Close() {
	if s.HasActiveJobs() {
		log.Infow("closing scheduler, canceling active jobs")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ids := make([]string, 0, len(s.jobs))
	for id, e := range s.jobs {
		if model.IsLive(e.job.Status) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Cancel(id)
	}
	s.baseCancel()
	s.lifecycles.Wait()
	if s.sweeper != nil {
		<-s.sweeper.Stop().Done()
	}
}

func (s *Scheduler) removePendingLocked(jobID string) {
	kept := s.pending[:0]
	for _, id := range s.pending {
		if id != jobID {
			kept = append(kept, id)
		}
	}
	s.pending = kept
}

// finishLocked moves e to a terminal status and stamps finished_at.
func (s *Scheduler) finishLocked(e *entry, status string) {
	if err := model.TransitionJobStatus(e.job, status); err != nil {
		log.Errorw("refusing status change", "err", err)
		return
	}
	e.job.FinishedAt = time.Now().UTC()
	s.metrics.observeTerminal(status, e.job.StartedAt)
}

// emitLocked stamps updated_at, then hands the observer a snapshot. It must
// be called with s.mu held and releases it before waiting for its turn, so
// an observer is free to read from the scheduler while it runs.
func (s *Scheduler) emitLocked(e *entry) model.Snapshot {
	e.job.UpdatedAt = time.Now().UTC()
	snap := e.job.Snapshot()
	if s.observer == nil {
		s.mu.Unlock()
		return snap
	}
	s.emitSeq++
	ticket := s.emitSeq
	s.mu.Unlock()

	s.emitMu.Lock()
	for s.emitNext != ticket {
		s.emitTurn.Wait()
	}
	s.emitMu.Unlock()

	defer func() {
		s.emitMu.Lock()
		s.emitNext++
		s.emitTurn.Broadcast()
		s.emitMu.Unlock()
	}()
	s.observer.JobChanged(snap)
	return snap
}

func newJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("job_%d_%s", now.UnixMilli(), suffix)
}
