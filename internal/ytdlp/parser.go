package ytdlp

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const tailLines = 10

var (
	rePct         = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)
	reArchiveSkip = regexp.MustCompile(`(?i)has already been downloaded|already in archive|already been recorded in the archive`)
)

// LineEvent is what one output line contributed.
type LineEvent struct {
	Text        string
	Percent     float64
	HasPercent  bool
	File        string
	ArchiveSkip bool
}

// Parser accumulates the structured signals of one download's output:
// progress, produced files and archive skips, plus a rolling tail.
type Parser struct {
	baseDir     string
	files       []string
	seen        map[string]bool
	archiveSkip bool
	tail        []string
}

// NewParser resolves relative file markers against baseDir.
func NewParser(baseDir string) *Parser {
	return &Parser{
		baseDir: baseDir,
		seen:    make(map[string]bool),
	}
}

// Feed consumes one raw line. Blank lines yield a zero event and are not kept.
func (p *Parser) Feed(raw string) LineEvent {
	text := strings.TrimSpace(raw)
	if text == "" {
		return LineEvent{}
	}
	ev := LineEvent{Text: text}

	if pct, ok := ParsePercent(text); ok {
		ev.Percent = pct
		ev.HasPercent = true
	}
	if file := parseFileMarker(text); file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(p.baseDir, file)
		}
		file = filepath.Clean(file)
		ev.File = file
		if !p.seen[file] {
			p.seen[file] = true
			p.files = append(p.files, file)
		}
	}
	if reArchiveSkip.MatchString(text) {
		ev.ArchiveSkip = true
		p.archiveSkip = true
	}

	if len(p.tail) >= tailLines {
		p.tail = p.tail[1:]
	}
	p.tail = append(p.tail, text)
	return ev
}

func (p *Parser) Files() []string {
	out := make([]string, len(p.files))
	copy(out, p.files)
	return out
}

func (p *Parser) SkippedByArchive() bool {
	return p.archiveSkip
}

// Tail joins the last lines seen, oldest first.
func (p *Parser) Tail() string {
	return strings.Join(p.tail, " | ")
}

// ParsePercent extracts a percentage from a progress-marker line or a
// "[download]" status line. Values are clamped to [0,100].
func ParsePercent(line string) (float64, bool) {
	source := ""
	if i := strings.Index(line, ProgressMarker); i >= 0 {
		source = line[i+len(ProgressMarker):]
	} else if strings.HasPrefix(line, "[download]") {
		source = line
	} else {
		return 0, false
	}
	m := rePct.FindStringSubmatch(source)
	if len(m) < 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return v, true
}

func parseFileMarker(text string) string {
	if !strings.HasPrefix(text, FileMarker) {
		return ""
	}
	path := strings.TrimSpace(strings.TrimPrefix(text, FileMarker))
	path = strings.TrimPrefix(path, `"`)
	path = strings.TrimSuffix(path, `"`)
	return path
}
