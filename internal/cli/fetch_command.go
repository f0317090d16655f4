package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"media-fetchd/internal/model"
	"media-fetchd/internal/runstore"
	"media-fetchd/internal/scheduler"
)

const defaultPollInterval = 250 * time.Millisecond

type fetchOptions struct {
	DocID       string
	OutputDir   string
	Topic       string
	Watch       bool
	JSON        bool
	ReportPath  string
	MetricsAddr string

	poll time.Duration
}

type fetchReport struct {
	DocID      string           `json:"doc_id"`
	OutputDir  string           `json:"output_dir"`
	FinishedAt time.Time        `json:"finished_at"`
	Completed  int              `json:"completed"`
	Failed     int              `json:"failed"`
	Canceled   int              `json:"canceled"`
	Jobs       []model.Snapshot `json:"jobs"`
}

func newFetchCommand(a *app) *cobra.Command {
	opts := fetchOptions{poll: defaultPollInterval}
	cmd := &cobra.Command{
		Use:   "fetch --out <dir> <url>...",
		Short: "Download URLs and wait for every job to finish",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runFetch(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, args)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.DocID, "doc", "cli", "document id the jobs are filed under")
	fs.StringVar(&opts.OutputDir, "out", "", "output directory")
	fs.StringVar(&opts.Topic, "topic", "", "optional topic label for the jobs")
	fs.BoolVar(&opts.Watch, "watch", false, "show a live dashboard while downloading (TTY only)")
	fs.BoolVar(&opts.JSON, "json", false, "print final job snapshots as JSON")
	fs.StringVar(&opts.ReportPath, "report", "", "also write final job snapshots to this JSON file")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9108")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) runFetch(ctx context.Context, out, errOut io.Writer, opts fetchOptions, urls []string) error {
	if strings.TrimSpace(opts.OutputDir) == "" {
		return errors.New("--out is required")
	}
	if opts.Watch && !stdoutIsTTY() {
		return errors.New("--watch requires an interactive terminal (TTY)")
	}
	outDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return err
	}
	lock, err := runstore.AcquireDirLock(outDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warnw("release output dir lock", "dir", outDir, "err", err)
		}
	}()

	cfg := a.schedulerConfig(a.resolveTools(ctx))
	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		cfg.Metrics = scheduler.NewMetrics(reg)
		addr, shutdown, err := serveMetrics(opts.MetricsAddr, reg)
		if err != nil {
			return err
		}
		defer shutdown()
		fmt.Fprintf(errOut, "metrics: http://%s/metrics\n", addr)
	}
	if !opts.Watch && !opts.JSON {
		cfg.Observer = newProgressPrinter(errOut)
	}

	s, err := scheduler.New(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if !s.IsAvailable() {
		log.Warnw("yt-dlp not found, jobs will fail", "hint", "set --ytdlp or MEDIA_YTDLP_PATH")
	}

	b := newBatch(s)
	for _, raw := range urls {
		snap, err := s.Enqueue(opts.DocID, raw, outDir, opts.Topic)
		if err != nil {
			b.cancelAll()
			return fmt.Errorf("enqueue %s: %w", raw, err)
		}
		b.add(snap)
	}

	if opts.Watch {
		if err := runWatch(ctx, b, opts.poll); err != nil {
			b.cancelAll()
			b.wait(context.Background(), opts.poll)
			return err
		}
	} else {
		b.wait(ctx, opts.poll)
	}

	snaps, _ := b.refresh()
	report := summarize(opts.DocID, outDir, snaps)
	if opts.ReportPath != "" {
		if err := runstore.WriteJSON(opts.ReportPath, report); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if opts.JSON {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		renderTable(out, []string{"Job", "Status", "Files", "Size", "Finished", "Detail"}, summaryRows(outDir, snaps))
	}

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted: %d job(s) canceled", report.Canceled)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed", report.Failed, len(snaps))
	}
	return nil
}

// jobSource is the part of the scheduler a fetch batch drives.
type jobSource interface {
	GetJob(jobID string) (model.Snapshot, bool)
	Cancel(jobID string) bool
}

// batch follows the jobs enqueued by one fetch. It keeps the last snapshot
// of each job so a job evicted by the retention sweep is still reported.
type batch struct {
	src      jobSource
	ids      []string
	last     map[string]model.Snapshot
	canceled map[string]bool
}

func newBatch(src jobSource) *batch {
	return &batch{
		src:      src,
		last:     make(map[string]model.Snapshot),
		canceled: make(map[string]bool),
	}
}

// add records an enqueued job. Duplicate URLs map to the same job.
func (b *batch) add(snap model.Snapshot) {
	if _, ok := b.last[snap.ID]; ok {
		return
	}
	b.ids = append(b.ids, snap.ID)
	b.last[snap.ID] = snap
}

// refresh returns current snapshots in enqueue order and whether all are terminal.
func (b *batch) refresh() ([]model.Snapshot, bool) {
	snaps := make([]model.Snapshot, 0, len(b.ids))
	done := true
	for _, id := range b.ids {
		if snap, ok := b.src.GetJob(id); ok {
			b.last[id] = snap
		}
		snap := b.last[id]
		if !model.IsTerminal(snap.Status) {
			done = false
		}
		snaps = append(snaps, snap)
	}
	return snaps, done
}

// cancelAll cancels every live job not yet canceled. The scheduler refuses
// to cancel a running job before its download process is attached, so
// callers repeat this until the batch settles.
func (b *batch) cancelAll() int {
	n := 0
	for _, id := range b.ids {
		if b.canceled[id] || model.IsTerminal(b.last[id].Status) {
			continue
		}
		if b.src.Cancel(id) {
			b.canceled[id] = true
			n++
		}
	}
	return n
}

// wait polls until every job is terminal. When ctx ends first, live jobs are
// canceled and wait keeps polling, retrying refused cancels, until they settle.
func (b *batch) wait(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = defaultPollInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	done := ctx.Done()
	interrupted := false
	for {
		if _, finished := b.refresh(); finished {
			return
		}
		if interrupted {
			b.cancelAll()
		}
		select {
		case <-done:
			n := b.cancelAll()
			log.Infow("interrupted, canceling jobs", "canceled", n)
			interrupted = true
			done = nil
		case <-ticker.C:
		}
	}
}

func summarize(docID, outDir string, snaps []model.Snapshot) fetchReport {
	r := fetchReport{
		DocID:      docID,
		OutputDir:  outDir,
		FinishedAt: time.Now().UTC(),
		Jobs:       snaps,
	}
	for _, s := range snaps {
		switch s.Status {
		case model.StatusCompleted:
			r.Completed++
		case model.StatusFailed:
			r.Failed++
		case model.StatusCanceled:
			r.Canceled++
		}
	}
	return r
}

func summaryRows(outDir string, snaps []model.Snapshot) [][]string {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, []string{
			s.ID,
			s.Status,
			strconv.Itoa(len(s.OutputFiles)),
			formatBytes(outputSize(outDir, s.OutputFiles)),
			formatAgo(s.FinishedAt),
			truncateRunes(jobDetail(s), 80),
		})
	}
	return rows
}

// outputSize sums the sizes of files listed relative to outDir.
func outputSize(outDir string, files []string) int64 {
	var total int64
	for _, f := range files {
		p := filepath.FromSlash(f)
		if !filepath.IsAbs(p) {
			p = filepath.Join(outDir, p)
		}
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

func jobDetail(s model.Snapshot) string {
	switch {
	case s.Error != "":
		return s.Error
	case s.SkipReason != "":
		return "skipped: " + s.SkipReason
	case len(s.OutputFiles) > 0:
		return strings.Join(s.OutputFiles, ", ")
	default:
		return s.URL
	}
}

// progressPrinter logs a line per status change and per progress bucket.
// The scheduler serializes observer calls.
type progressPrinter struct {
	w    io.Writer
	seen map[string]string
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, seen: make(map[string]string)}
}

func (p *progressPrinter) JobChanged(s model.Snapshot) {
	key := s.Status + "/" + s.Progress
	if p.seen[s.ID] == key {
		return
	}
	p.seen[s.ID] = key
	detail := s.URL
	if model.IsTerminal(s.Status) {
		detail = jobDetail(s)
	}
	fmt.Fprintf(p.w, "%s  %-9s %4s  %s\n", s.ID, s.Status, s.Progress, truncateRunes(detail, 100))
}

// serveMetrics exposes reg on addr/metrics and returns the bound address.
func serveMetrics(addr string, reg *prometheus.Registry) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server", "err", err)
		}
	}()
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr().String(), shutdown, nil
}
