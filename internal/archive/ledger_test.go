package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLedger(t *testing.T, content string) string {
	t.Helper()
	path := LedgerPath(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLedgerContains(t *testing.T) {
	path := writeLedger(t, "youtube abc123\nvimeo  987\r\nbareid\n")

	for _, id := range []string{"abc123", "987", "bareid"} {
		ok, err := LedgerContains(path, id)
		require.NoError(t, err)
		assert.True(t, ok, "expected %q to be found", id)
	}

	ok, err := LedgerContains(path, "abc")
	require.NoError(t, err)
	assert.False(t, ok, "prefix of an id must not match")

	ok, err = LedgerContains(path, "youtube")
	require.NoError(t, err)
	assert.False(t, ok, "leading field must not match")
}

func TestLedgerContains_MissingFileOrEmptyID(t *testing.T) {
	ok, err := LedgerContains(filepath.Join(t.TempDir(), LedgerFileName), "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	path := writeLedger(t, "youtube abc\n")
	ok, err = LedgerContains(path, "   ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerRemove(t *testing.T) {
	path := writeLedger(t, "youtube keep1\n\nyoutube drop\ndrop\nyoutube keep2\n")

	removed, err := LedgerRemove(path, "drop")
	require.NoError(t, err)
	assert.True(t, removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "youtube keep1\nyoutube keep2\n", string(data))

	removed, err = LedgerRemove(path, "drop")
	require.NoError(t, err)
	assert.False(t, removed, "second removal should be a no-op")
}

func TestLedgerRemove_LastLineLeavesEmptyFile(t *testing.T) {
	path := writeLedger(t, "youtube only\n")

	removed, err := LedgerRemove(path, "only")
	require.NoError(t, err)
	assert.True(t, removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, string(data))
}

func TestLedgerRemove_NoopCases(t *testing.T) {
	removed, err := LedgerRemove(filepath.Join(t.TempDir(), LedgerFileName), "x")
	require.NoError(t, err)
	assert.False(t, removed)

	path := writeLedger(t, "youtube x\n")
	removed, err = LedgerRemove(path, "")
	require.NoError(t, err)
	assert.False(t, removed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "youtube x\n", string(data))
}
