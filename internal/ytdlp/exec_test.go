//go:build !windows

package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/usr/bin/env bash\n"+body), 0o755))
	return path
}

func TestCaptureFirstLine(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "tool", "echo\necho '  2025.01.01  '\necho second\n")
	line, err := CaptureFirstLine(context.Background(), bin, nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2025.01.01", line)
}

func TestCaptureFirstLine_NonZeroCarriesStderr(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "tool", "echo 'ERROR: unsupported' >&2\nexit 2\n")
	_, err := CaptureFirstLine(context.Background(), bin, nil, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR: unsupported")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestExitZero_DistinguishesMissingFromFailed(t *testing.T) {
	dir := t.TempDir()

	ok, err := ExitZero(context.Background(), writeScript(t, dir, "good", "exit 0\n"), nil, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ExitZero(context.Background(), writeScript(t, dir, "bad", "exit 1\n"), nil, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ExitZero(context.Background(), filepath.Join(dir, "absent"), nil, 5*time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExitZero_Timeout(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "slow", "sleep 5\n")
	start := time.Now()
	ok, err := ExitZero(context.Background(), bin, nil, 200*time.Millisecond)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestStart_StreamsBothOutputs(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "dl", "pwd\nprintf 'a\\rb\\n'\necho err-line >&2\nexit 3\n")

	var mu sync.Mutex
	lines := map[OutputStream][]string{}
	p, err := Start(bin, nil, dir, func(s OutputStream, line string) {
		mu.Lock()
		defer mu.Unlock()
		lines[s] = append(lines[s], line)
	})
	require.NoError(t, err)
	exit := p.Wait()

	assert.Equal(t, 3, exit.Code)
	assert.False(t, exit.Signaled)
	resolved, _ := filepath.EvalSymlinks(dir)
	require.Len(t, lines[StreamStdout], 3)
	assert.Contains(t, []string{dir, resolved}, lines[StreamStdout][0])
	assert.Equal(t, []string{"a", "b"}, lines[StreamStdout][1:])
	assert.Equal(t, []string{"err-line"}, lines[StreamStderr])
}

func TestStart_MissingBinary(t *testing.T) {
	_, err := Start(filepath.Join(t.TempDir(), "absent"), nil, "", func(OutputStream, string) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcess_KillIsSignaled(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "stubborn", "trap '' TERM\necho ready\nwhile true; do sleep 0.1; done\n")
	ready := make(chan struct{})
	var once sync.Once
	p, err := Start(bin, nil, "", func(_ OutputStream, line string) {
		if line == "ready" {
			once.Do(func() { close(ready) })
		}
	})
	require.NoError(t, err)
	<-ready

	require.NoError(t, p.Terminate())
	done := make(chan Exit, 1)
	go func() { done <- p.Wait() }()
	select {
	case <-done:
		t.Fatal("process exited on SIGTERM despite ignoring it")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, p.Kill())
	select {
	case exit := <-done:
		assert.True(t, exit.Signaled)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGKILL")
	}
}

func TestLocator_CandidateOrder(t *testing.T) {
	l := Locator{DownloaderOverride: "/custom/yt-dlp", BundleDir: "/bundle"}
	got := l.DownloaderCandidates()
	require.NotEmpty(t, got)
	assert.Equal(t, "/custom/yt-dlp", got[0])
	assert.Equal(t, "/bundle/local/bin/yt-dlp", got[1])
	assert.Equal(t, DefaultDownloaderBin, got[len(got)-1])

	ins := Locator{BundleDir: "/bundle"}.InspectorCandidates()
	assert.Equal(t, []string{"/bundle/3rdParty/ffmpeg/bin", "/bundle/local/update/3rdParty/ffmpeg/bin", "ffmpeg"}, ins)
}

func TestLocator_ResolvePrefersOverride(t *testing.T) {
	dir := t.TempDir()
	override := writeScript(t, dir, "my-yt-dlp", "echo 2025.01.01\n")
	bundle := filepath.Join(dir, "bundle")
	require.NoError(t, os.MkdirAll(filepath.Join(bundle, "local", "bin"), 0o755))
	writeScript(t, filepath.Join(bundle, "local", "bin"), "yt-dlp", "echo bundled\n")
	ffdir := filepath.Join(bundle, "3rdParty", "ffmpeg", "bin")
	require.NoError(t, os.MkdirAll(ffdir, 0o755))
	writeScript(t, ffdir, "ffmpeg", "echo ffmpeg version x\n")

	tools := Locator{DownloaderOverride: override, BundleDir: bundle, Timeout: 5 * time.Second}.Resolve(context.Background())
	assert.Equal(t, override, tools.DownloaderPath)
	assert.Equal(t, ffdir, tools.InspectorLocation)

	tools = Locator{BundleDir: bundle, Timeout: 5 * time.Second}.Resolve(context.Background())
	assert.Equal(t, filepath.Join(bundle, "local", "bin", "yt-dlp"), tools.DownloaderPath)
}

func TestLocator_ResolveNothing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", dir)
	broken := writeScript(t, dir, "broken", "exit 1\n")

	tools := Locator{DownloaderOverride: broken, InspectorOverride: filepath.Join(dir, "nope"), Timeout: 5 * time.Second}.Resolve(context.Background())
	assert.Empty(t, tools.DownloaderPath)
	assert.Empty(t, tools.InspectorLocation)
}
