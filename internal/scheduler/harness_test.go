//go:build !windows

package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"media-fetchd/internal/model"
)

// fakeHeader answers --version, --get-id and --get-filename the way yt-dlp
// would and leaves $archive, $dir, $url and $id set for the download body.
// The media id is whatever follows "v=" in the URL. With FAKE_ID_MARK set,
// --get-id touches that file and then sleeps FAKE_ID_DELAY seconds.
const fakeHeader = `#!/usr/bin/env bash
mode=download
archive=""
out=""
prev=""
for a in "$@"; do
  case "$prev" in
    --download-archive) archive="$a" ;;
    -o) out="$a" ;;
  esac
  case "$a" in
    --get-id) mode=id ;;
    --get-filename) mode=filename ;;
    --version) mode=version ;;
  esac
  prev="$a"
done
url="${!#}"
id="${url##*v=}"
dir="$(dirname "$out")"
if [ "$mode" = id ] && [ -n "$FAKE_ID_MARK" ]; then
  touch "$FAKE_ID_MARK"
  sleep "${FAKE_ID_DELAY:-1}"
fi
case "$mode" in
  version) echo 2025.01.01; exit 0 ;;
  id) echo "$id"; exit 0 ;;
  filename) echo "$dir/Title [$id].mp4"; exit 0 ;;
esac
echo run >> %q
`

const successBody = `echo "__PROGRESS__ 10.0%"
echo "__PROGRESS__ 55.0%"
printf 'media' > "$dir/Title [$id].mp4"
echo "__FILE__$dir/Title [$id].mp4"
echo "youtube $id" >> "$archive"
echo "__PROGRESS__100%"
`

type fakeDownloader struct {
	Path      string
	countPath string
}

func writeFakeDownloader(t *testing.T, body string) fakeDownloader {
	t.Helper()
	dir := t.TempDir()
	count := filepath.Join(dir, "downloads.count")
	path := filepath.Join(dir, "yt-dlp")
	script := fmt.Sprintf(fakeHeader, count) + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return fakeDownloader{Path: path, countPath: count}
}

// Downloads counts real download invocations (not id or filename queries).
func (f fakeDownloader) Downloads(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(f.countPath)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "run\n")
}

// failingInspector returns a directory whose ffprobe and ffmpeg reject every file.
func failingInspector(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"ffprobe", "ffmpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/usr/bin/env bash\nexit 1\n"), 0o755))
	}
	return dir
}

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	s.limiter = rate.NewLimiter(rate.Inf, 1)
	t.Cleanup(s.Close)
	return s
}

func waitForStatus(t *testing.T, s *Scheduler, id string, want func(string) bool) model.Snapshot {
	t.Helper()
	var snap model.Snapshot
	require.Eventually(t, func() bool {
		var ok bool
		snap, ok = s.GetJob(id)
		return ok && want(snap.Status)
	}, 15*time.Second, 20*time.Millisecond, "job %s never reached the expected status", id)
	return snap
}

func waitTerminal(t *testing.T, s *Scheduler, id string) model.Snapshot {
	t.Helper()
	return waitForStatus(t, s, id, model.IsTerminal)
}

// eventLog is an Observer that records every snapshot it is handed.
type eventLog struct {
	mu         sync.Mutex
	events     []model.Snapshot
	status     map[string]string
	maxRunning int
}

func newEventLog() *eventLog {
	return &eventLog{status: make(map[string]string)}
}

func (l *eventLog) JobChanged(s model.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
	l.status[s.ID] = s.Status
	running := 0
	for _, st := range l.status {
		if st == model.StatusRunning {
			running++
		}
	}
	if running > l.maxRunning {
		l.maxRunning = running
	}
}

// firstIndex returns the position of the first event for id in status, or -1.
func (l *eventLog) firstIndex(id, status string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e.ID == id && e.Status == status {
			return i
		}
	}
	return -1
}

func (l *eventLog) forJob(id string) []model.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Snapshot
	for _, e := range l.events {
		if e.ID == id {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) peakRunning() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxRunning
}
