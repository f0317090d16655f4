package ytdlp

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePercent(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{ProgressMarker + " 42.5%", 42.5, true},
		{ProgressMarker + "100.0%", 100, true},
		{"[download]  12.3% of 10.00MiB at 1.00MiB/s ETA 00:09", 12.3, true},
		{"[download] Destination: foo.mp4", 0, false},
		{"[youtube] 55% something", 0, false},
		{ProgressMarker + " 250%", 100, true},
		{"random text 50%", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParsePercent(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}

func TestParserFeed_FilesResolvedAndDeduped(t *testing.T) {
	base := t.TempDir()
	p := NewParser(base)

	ev := p.Feed(FileMarker + "clip [abc].mp4")
	assert.Equal(t, filepath.Join(base, "clip [abc].mp4"), ev.File)
	p.Feed(FileMarker + `"` + filepath.Join(base, "clip [abc].mp4") + `"`)
	abs := filepath.Join(t.TempDir(), "other.mkv")
	p.Feed(FileMarker + abs)

	assert.Equal(t, []string{filepath.Join(base, "clip [abc].mp4"), abs}, p.Files())
}

func TestParserFeed_ArchiveSkip(t *testing.T) {
	p := NewParser(t.TempDir())
	assert.False(t, p.SkippedByArchive())

	ev := p.Feed("[download] abc123: has already been recorded in the archive")
	assert.True(t, ev.ArchiveSkip)
	assert.True(t, p.SkippedByArchive())

	p2 := NewParser(t.TempDir())
	p2.Feed("[download] clip.mp4 has already been downloaded")
	assert.True(t, p2.SkippedByArchive())
}

func TestParserFeed_BlankLinesIgnored(t *testing.T) {
	p := NewParser(t.TempDir())
	ev := p.Feed("   \t")
	assert.Equal(t, LineEvent{}, ev)
	assert.Equal(t, "", p.Tail())
}

func TestParserTail_KeepsLastTen(t *testing.T) {
	p := NewParser(t.TempDir())
	for i := 1; i <= 13; i++ {
		p.Feed(fmt.Sprintf("line %d", i))
	}
	parts := strings.Split(p.Tail(), " | ")
	require.Len(t, parts, 10)
	assert.Equal(t, "line 4", parts[0])
	assert.Equal(t, "line 13", parts[9])
}

func TestSplitByNewlineOrCR(t *testing.T) {
	data := []byte("a\r\nb\rc")
	var got []string
	for len(data) > 0 {
		adv, tok, err := splitByNewlineOrCR(data, true)
		require.NoError(t, err)
		if tok != nil {
			got = append(got, string(tok))
		}
		data = data[adv:]
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
