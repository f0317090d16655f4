// Package verify decides whether downloaded media files actually decode,
// using ffprobe for a fast metadata check and ffmpeg for a full decode.
package verify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"

	"media-fetchd/internal/archive"
	"media-fetchd/internal/ytdlp"
)

var log = logging.Logger("verify")

// Result is the verdict for a batch of files. Message names the first bad file.
type Result struct {
	OK      bool
	Message string
}

// Check is one inspection command tried against a file.
type Check struct {
	Command string
	Args    []string
}

// Verifier inspects files with the ffmpeg tools found at InspectorLocation.
// An empty InspectorLocation makes every Verify call pass.
type Verifier struct {
	InspectorLocation string
	Timeout           time.Duration
}

func (v Verifier) Verify(ctx context.Context, paths []string) Result {
	if strings.TrimSpace(v.InspectorLocation) == "" {
		return Result{OK: true}
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" || !archive.IsVerifiableMedia(p) {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() || info.Size() <= 0 {
			return Result{Message: filepath.Base(p) + " (empty or missing)"}
		}
		if !v.decodes(ctx, p) {
			return Result{Message: filepath.Base(p)}
		}
	}
	return Result{OK: true}
}

func (v Verifier) decodes(ctx context.Context, path string) bool {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = ytdlp.InspectTimeout
	}
	var errs *multierror.Error
	for _, c := range Checks(path, v.InspectorLocation) {
		ok, err := ytdlp.ExitZero(ctx, c.Command, c.Args, timeout)
		if ok {
			return true
		}
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		log.Debugf("inspect %s: %v", path, errs)
	}
	log.Warnf("file failed inspection: %s", path)
	return false
}

// Checks lists the inspection commands for path, fastest first.
//
// A bare "ffmpeg" uses ffprobe and ffmpeg from PATH. A path to ffprobe is used
// alone. Any other file is treated as ffmpeg, preceded by its sibling ffprobe.
// Anything else is taken as the directory holding both tools.
func Checks(path, location string) []Check {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	metadata := func(bin string) Check {
		return Check{Command: bin, Args: []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=nw=1:nk=1", abs}}
	}
	decode := func(bin string) Check {
		return Check{Command: bin, Args: []string{"-v", "error", "-i", abs, "-f", "null", "-"}}
	}

	value := strings.TrimSpace(location)
	lower := strings.ToLower(value)
	if value == "" || lower == "ffmpeg" || lower == strings.ToLower(ytdlp.FFmpegBin) {
		return []Check{metadata(ytdlp.FFprobeBin), decode(ytdlp.FFmpegBin)}
	}
	if info, err := os.Stat(value); err == nil && !info.IsDir() {
		base := strings.ToLower(filepath.Base(value))
		if base == "ffprobe" || base == "ffprobe.exe" {
			return []Check{metadata(value)}
		}
		return []Check{metadata(filepath.Join(filepath.Dir(value), ytdlp.FFprobeBin)), decode(value)}
	}
	return []Check{metadata(filepath.Join(value, ytdlp.FFprobeBin)), decode(filepath.Join(value, ytdlp.FFmpegBin))}
}
