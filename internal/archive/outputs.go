// Package archive tracks what the external downloader leaves behind in an
// output directory: its archive ledger and the media files it produced.
package archive

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("archive")

var (
	verifiableMediaExt = regexp.MustCompile(`(?i)\.(mp4|m4v|mov|mkv|webm|avi|mp3|m4a|aac|wav|flac|ogg|opus)$`)
	trackedOutputExt   = regexp.MustCompile(`(?i)\.(mp4|m4v|mov|mkv|webm|avi|mp3|m4a|aac|wav|flac|ogg|opus|jpg|jpeg|png|webp|gif)$`)
)

// FileState is what a snapshot remembers about one file.
type FileState struct {
	Size    int64
	ModTime time.Time
}

// Snapshot maps absolute file paths to their state at capture time.
type Snapshot map[string]FileState

// SnapshotDir walks root recursively. A missing root yields an empty snapshot
// and unreadable subdirectories are skipped.
func SnapshotDir(root string) (Snapshot, error) {
	snap := make(Snapshot)
	if strings.TrimSpace(root) == "" {
		return snap, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == abs {
				return walkErr
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[path] = FileState{Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, nil
		}
		return nil, err
	}
	return snap, nil
}

// DiffSnapshots returns files in after that are new or whose size or
// modification time changed, sorted.
func DiffSnapshots(before, after Snapshot) []string {
	changed := make([]string, 0)
	for path, cur := range after {
		prev, ok := before[path]
		if !ok || prev.Size != cur.Size || !prev.ModTime.Equal(cur.ModTime) {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

// FindFilesByID returns tracked outputs under root whose name embeds "[id]",
// the marker the output template puts around the media id.
func FindFilesByID(root, id string) ([]string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	snap, err := SnapshotDir(root)
	if err != nil {
		return nil, err
	}
	marker := "[" + id + "]"
	files := make([]string, 0)
	for path := range snap {
		if !IsTrackedOutput(path) {
			continue
		}
		if strings.Contains(filepath.Base(path), marker) {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// IsTrackedOutput reports whether path counts as job output: a media or
// thumbnail extension, not the ledger, not a partial download.
func IsTrackedOutput(path string) bool {
	name := strings.ToLower(filepath.Base(strings.TrimSpace(path)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return false
	}
	if strings.HasPrefix(name, ".yt-dlp-archive") {
		return false
	}
	if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	return trackedOutputExt.MatchString(name)
}

// IsVerifiableMedia reports whether path has an audio/video container extension.
func IsVerifiableMedia(path string) bool {
	return verifiableMediaExt.MatchString(path)
}

// FileExists reports whether path exists as a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// RelativeDisplayPath renders file relative to base with forward slashes.
// Files outside base are shown by basename.
func RelativeDisplayPath(base, file string) string {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return filepath.Base(file)
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return filepath.Base(file)
	}
	if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
		return filepath.Base(absFile)
	}
	rel, err := filepath.Rel(absBase, absFile)
	if err != nil {
		return filepath.Base(absFile)
	}
	return filepath.ToSlash(rel)
}
