package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDownloaderBin = "yt-dlp"
	DefaultBundleDirName = "MediaDownloaderQt6-5.4.2"
)

// FFmpegBin and FFprobeBin are the platform executable names of the inspector tools.
var (
	FFmpegBin  = exeName("ffmpeg")
	FFprobeBin = exeName("ffprobe")
)

// Tools is the outcome of Locator.Resolve. Empty fields were not found.
type Tools struct {
	DownloaderPath    string `json:"yt_dlp_path"`
	InspectorLocation string `json:"ffmpeg_location"`
}

// Locator tries candidate install locations for the downloader and the
// inspector. Order is fixed: explicit override, bundled install, PATH.
type Locator struct {
	DownloaderOverride string
	InspectorOverride  string
	BundleDir          string
	Timeout            time.Duration
}

func (l Locator) DownloaderCandidates() []string {
	candidates := []string{l.DownloaderOverride}
	if b := strings.TrimSpace(l.BundleDir); b != "" {
		candidates = append(candidates,
			filepath.Join(b, "local", "bin", "yt-dlp"),
			filepath.Join(b, "local", "bin", "yt-dlp.exe"),
			filepath.Join(b, "3rdParty", "ytdlp", "yt-dlp"),
			filepath.Join(b, "3rdParty", "ytdlp", "yt-dlp_x86.exe"),
			filepath.Join(b, "local", "update", "local", "bin", "yt-dlp"),
			filepath.Join(b, "local", "update", "local", "bin", "yt-dlp.exe"),
			filepath.Join(b, "local", "update", "3rdParty", "ytdlp", "yt-dlp"),
			filepath.Join(b, "local", "update", "3rdParty", "ytdlp", "yt-dlp_x86.exe"),
		)
	}
	candidates = append(candidates, DefaultDownloaderBin)
	return compact(candidates)
}

func (l Locator) InspectorCandidates() []string {
	candidates := []string{l.InspectorOverride}
	if b := strings.TrimSpace(l.BundleDir); b != "" {
		candidates = append(candidates,
			filepath.Join(b, "3rdParty", "ffmpeg", "bin"),
			filepath.Join(b, "local", "update", "3rdParty", "ffmpeg", "bin"),
		)
	}
	candidates = append(candidates, "ffmpeg")
	return compact(candidates)
}

// Resolve checks both tool lists concurrently. It never fails: an
// unresolved tool is reported as an empty string.
func (l Locator) Resolve(ctx context.Context) Tools {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = ToolCheckTimeout
	}
	var tools Tools
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tools.DownloaderPath = firstWorking(gctx, "yt-dlp", l.DownloaderCandidates(), func(ctx context.Context, c string) error {
			_, err := CaptureFirstLine(ctx, c, []string{"--version"}, timeout)
			return err
		})
		return nil
	})
	g.Go(func() error {
		tools.InspectorLocation = firstWorking(gctx, "ffmpeg", l.InspectorCandidates(), func(ctx context.Context, c string) error {
			return checkInspectorLocation(ctx, c, timeout)
		})
		return nil
	})
	_ = g.Wait()
	return tools
}

func firstWorking(ctx context.Context, name string, candidates []string, check func(context.Context, string) error) string {
	var errs *multierror.Error
	for _, c := range candidates {
		if err := check(ctx, c); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		log.Infof("resolved %s: %s", name, c)
		return c
	}
	log.Warnf("%s not resolved from %d candidate(s)", name, len(candidates))
	if errs != nil {
		log.Debugf("%s candidate errors: %v", name, errs)
	}
	return ""
}

func checkInspectorLocation(ctx context.Context, location string, timeout time.Duration) error {
	value := strings.TrimSpace(location)
	if isBareFFmpeg(value) {
		_, err := CaptureFirstLine(ctx, FFmpegBin, []string{"-version"}, timeout)
		return err
	}
	info, err := os.Stat(value)
	if err != nil {
		return err
	}
	ffmpegPath := value
	if info.IsDir() {
		ffmpegPath = filepath.Join(value, FFmpegBin)
	}
	if _, err := os.Stat(ffmpegPath); err != nil {
		return err
	}
	_, err = CaptureFirstLine(ctx, ffmpegPath, []string{"-version"}, timeout)
	return err
}

func isBareFFmpeg(v string) bool {
	l := strings.ToLower(v)
	return l == "ffmpeg" || l == strings.ToLower(FFmpegBin)
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
