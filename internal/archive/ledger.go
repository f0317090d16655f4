package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"media-fetchd/internal/runstore"
)

// LedgerFileName is the per-directory file the downloader records finished ids in.
const LedgerFileName = ".yt-dlp-archive.txt"

func LedgerPath(outputDir string) string {
	return filepath.Join(outputDir, LedgerFileName)
}

// LedgerContains reports whether any ledger line ends in id. The downloader
// writes "<extractor> <id>" lines, so only the last field is compared.
func LedgerContains(path, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read archive %s: %w", path, err)
	}
	for _, line := range splitLines(string(data)) {
		if lineMatchesID(line, id) {
			return true, nil
		}
	}
	return false, nil
}

// LedgerRemove rewrites the ledger without the lines recording id and
// reports whether anything was dropped. Blank lines are dropped too.
func LedgerRemove(path, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read archive %s: %w", path, err)
	}

	lines := splitLines(string(data))
	kept := make([]string, 0, len(lines))
	removed := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if lineMatchesID(line, id) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		return false, nil
	}

	out := strings.Join(kept, "\n")
	if out != "" {
		out += "\n"
	}
	if err := runstore.WriteBytes(path, []byte(out)); err != nil {
		return false, err
	}
	log.Infof("removed %d archive line(s) for %s from %s", removed, id, path)
	return true, nil
}

func lineMatchesID(line, id string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && fields[len(fields)-1] == id
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
