package diskstats

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForReturnsPositiveTotals(t *testing.T) {
	dir := t.TempDir()
	u, err := For(dir + "/file.bin")
	require.NoError(t, err)
	require.Greater(t, u.TotalGB, 0.0)
	require.GreaterOrEqual(t, u.FreeGB, 0.0)
}

func TestCheckSpaceRejectsUnreasonableSize(t *testing.T) {
	dir := t.TempDir()
	err := CheckSpace(dir+"/file.bin", 1<<62)
	require.Error(t, err)
}

func TestCheckSpaceAllowsSmallSize(t *testing.T) {
	dir := t.TempDir()
	err := CheckSpace(dir+"/file.bin", 1024)
	require.NoError(t, err)
}

func TestForErrorsOnMissingVolume(t *testing.T) {
	if os.Getenv("CI") == "" {
		t.Skip("best-effort only; disk.Usage behavior on bogus paths varies by platform")
	}
	_, err := For("/nonexistent-tachyon-volume/sub/file.bin")
	require.Error(t, err)
}
