//go:build !windows

package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTools writes ffprobe and ffmpeg scripts into dir; an empty body skips that tool.
func fakeTools(t *testing.T, dir string, ffprobe, ffmpeg string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if ffprobe != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ffprobe"), []byte("#!/usr/bin/env bash\n"+ffprobe), 0o755))
	}
	if ffmpeg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("#!/usr/bin/env bash\n"+ffmpeg), 0o755))
	}
}

func writeMedia(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// metadataScript and decodeScript reject any file whose contents contain "corrupt".
const metadataScript = `for a in "$@"; do f="$a"; done
if grep -q corrupt "$f"; then exit 1; fi
exit 0
`

const decodeScript = `f="$4"
if grep -q corrupt "$f"; then exit 1; fi
exit 0
`

func TestVerify_NoInspectorPasses(t *testing.T) {
	res := Verifier{}.Verify(context.Background(), []string{"/nonexistent/a.mp4"})
	assert.True(t, res.OK)
}

func TestVerify_GoodAndCorrupt(t *testing.T) {
	tmp := t.TempDir()
	tools := filepath.Join(tmp, "bin")
	fakeTools(t, tools, metadataScript, decodeScript)
	v := Verifier{InspectorLocation: tools, Timeout: 5 * time.Second}

	good := writeMedia(t, tmp, "good [a].mp4", "fine")
	bad := writeMedia(t, tmp, "bad [b].mkv", "corrupt")

	assert.Equal(t, Result{OK: true}, v.Verify(context.Background(), []string{good}))
	assert.Equal(t, Result{Message: "bad [b].mkv"}, v.Verify(context.Background(), []string{good, bad}))
}

func TestVerify_EmptyOrMissing(t *testing.T) {
	tmp := t.TempDir()
	tools := filepath.Join(tmp, "bin")
	fakeTools(t, tools, "exit 0\n", "exit 0\n")
	v := Verifier{InspectorLocation: tools, Timeout: 5 * time.Second}

	empty := writeMedia(t, tmp, "empty.mp4", "")
	assert.Equal(t, "empty.mp4 (empty or missing)", v.Verify(context.Background(), []string{empty}).Message)
	assert.Equal(t, "gone.webm (empty or missing)", v.Verify(context.Background(), []string{filepath.Join(tmp, "gone.webm")}).Message)
}

func TestVerify_SkipsNonMedia(t *testing.T) {
	tmp := t.TempDir()
	tools := filepath.Join(tmp, "bin")
	fakeTools(t, tools, "exit 1\n", "exit 1\n")
	v := Verifier{InspectorLocation: tools, Timeout: 5 * time.Second}

	thumb := writeMedia(t, tmp, "thumb.jpg", "corrupt")
	res := v.Verify(context.Background(), []string{thumb, filepath.Join(tmp, "notes.txt")})
	assert.True(t, res.OK)
}

func TestVerify_FallsBackToDecode(t *testing.T) {
	tmp := t.TempDir()
	tools := filepath.Join(tmp, "bin")
	// No ffprobe at all: the missing binary must not fail the file on its own.
	fakeTools(t, tools, "", "exit 0\n")
	v := Verifier{InspectorLocation: tools, Timeout: 5 * time.Second}

	f := writeMedia(t, tmp, "clip.mp4", "data")
	assert.True(t, v.Verify(context.Background(), []string{f}).OK)
}

func TestChecks_Derivation(t *testing.T) {
	tmp := t.TempDir()
	tools := filepath.Join(tmp, "bin")
	fakeTools(t, tools, "exit 0\n", "exit 0\n")
	file, err := filepath.Abs(filepath.Join(tmp, "x.mp4"))
	require.NoError(t, err)

	bare := Checks(file, "ffmpeg")
	require.Len(t, bare, 2)
	assert.Equal(t, "ffprobe", bare[0].Command)
	assert.Equal(t, "ffmpeg", bare[1].Command)
	assert.Equal(t, file, bare[0].Args[len(bare[0].Args)-1])
	assert.Equal(t, []string{"-v", "error", "-i", file, "-f", "null", "-"}, bare[1].Args)

	dir := Checks(file, tools)
	require.Len(t, dir, 2)
	assert.Equal(t, filepath.Join(tools, "ffprobe"), dir[0].Command)
	assert.Equal(t, filepath.Join(tools, "ffmpeg"), dir[1].Command)

	exe := Checks(file, filepath.Join(tools, "ffmpeg"))
	require.Len(t, exe, 2)
	assert.Equal(t, filepath.Join(tools, "ffprobe"), exe[0].Command)
	assert.Equal(t, filepath.Join(tools, "ffmpeg"), exe[1].Command)

	ffprobeOnly := Checks(file, filepath.Join(tools, "ffprobe"))
	require.Len(t, ffprobeOnly, 1)
	assert.Equal(t, filepath.Join(tools, "ffprobe"), ffprobeOnly[0].Command)
}
