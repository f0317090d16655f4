// Package ytdlp drives the external yt-dlp executable: it assembles argument
// vectors, runs auxiliary queries under hard timeouts, streams the output of
// a download process and parses the markers that process prints.
package ytdlp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("ytdlp")

const (
	// FormatSort prefers 1080p H.264/AAC in an mp4 container.
	FormatSort = "res:1080,vcodec:h264,acodec:m4a,ext:mp4"
	// DefaultFormat caps at 1080p and degrades to whatever is best.
	DefaultFormat = "bv*[height<=1080][vcodec^=avc1][ext=mp4]+ba[acodec^=mp4a]/" +
		"b[height<=1080][vcodec^=avc1][ext=mp4]/" +
		"bv*[height<=1080]+ba/" +
		"b[height<=1080]/best[height<=1080]/best"
	MergeFormat    = "mp4"
	OutputTemplate = "%(title).180B [%(id)s].%(ext)s"

	ProgressMarker = "__PROGRESS__"
	FileMarker     = "__FILE__"
)

// Options carries the per-scheduler settings that shape every invocation.
type Options struct {
	FFmpegLocation     string
	CookiesPath        string
	CookiesFromBrowser string
	DownloadLimitMBps  float64
	ProxyURL           string
}

// DownloadArgs builds the argument vector for the real download of url.
func DownloadArgs(opts Options, url, outputTemplate, archivePath string) ([]string, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("video URL is required")
	}
	prefix, err := commonPrefix(opts, true)
	if err != nil {
		return nil, err
	}
	args := append(prefix,
		"--no-warnings",
		"--no-playlist",
		"--newline",
		"-S", FormatSort,
		"--progress",
		"--progress-template", "download:" + ProgressMarker + "%(progress._percent_str)s",
		"--print", "after_move:" + FileMarker + "%(filepath)s",
		"-f", DefaultFormat,
		"--merge-output-format", MergeFormat,
		"--concurrent-fragments", "1",
		"--retries", "8",
		"--fragment-retries", "8",
		"--retry-sleep", "exp=1:30",
		"--sleep-requests", "1",
		"--sleep-interval", "1",
		"--max-sleep-interval", "3",
		"--socket-timeout", "30",
	)
	if opts.DownloadLimitMBps > 0 {
		args = append(args, "--limit-rate", formatRateLimitMBps(opts.DownloadLimitMBps))
	}
	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		args = append(args, "--proxy", p)
	}
	args = append(args,
		"--download-archive", archivePath,
		"-o", outputTemplate,
		url,
	)
	return args, nil
}

// PredictFilenameArgs asks for the final filename without downloading.
func PredictFilenameArgs(opts Options, url, outputTemplate string) []string {
	var args []string
	if loc := strings.TrimSpace(opts.FFmpegLocation); loc != "" {
		args = append(args, "--ffmpeg-location", loc)
	}
	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		args = append(args, "--proxy", p)
	}
	return append(args,
		"--skip-download",
		"--no-warnings",
		"--no-playlist",
		"-S", FormatSort,
		"-f", DefaultFormat,
		"--merge-output-format", MergeFormat,
		"--get-filename",
		"-o", outputTemplate,
		url,
	)
}

// GetIDArgs asks for the remote media's native id.
func GetIDArgs(opts Options, url string) []string {
	var args []string
	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		args = append(args, "--proxy", p)
	}
	return append(args, "--no-warnings", "--no-playlist", "--get-id", url)
}

// commonPrefix returns the auth and ffmpeg flags that lead the argv. A cookie
// file wins over a browser cookie source.
func commonPrefix(opts Options, withAuth bool) ([]string, error) {
	args := make([]string, 0, 4)
	if withAuth {
		if strings.TrimSpace(opts.CookiesPath) != "" {
			cookiesPath, err := resolveCookiesPath(opts.CookiesPath)
			if err != nil {
				return nil, err
			}
			args = append(args, "--cookies", cookiesPath)
		} else if b := strings.TrimSpace(opts.CookiesFromBrowser); b != "" {
			args = append(args, "--cookies-from-browser", b)
		}
	}
	if loc := strings.TrimSpace(opts.FFmpegLocation); loc != "" {
		args = append(args, "--ffmpeg-location", loc)
	}
	return args, nil
}

func formatRateLimitMBps(v float64) string {
	return fmt.Sprintf("%gM", v)
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}
