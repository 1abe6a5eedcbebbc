package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kifu-for-js.js"), []byte("console.log(1)"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kifu-for-js.js.gz"), []byte("gz"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "board.png"), []byte("png"), 0o600))

	m, err := Build(dir, "bundle", "4.2.0", "production")
	require.NoError(t, err)
	require.NotEmpty(t, m.BuildID)
	require.Equal(t, "bundle", m.Target)

	require.Len(t, m.Artifacts, 3)
	require.Equal(t, "assets/board.png", m.Artifacts[0].Path)
	require.Equal(t, "kifu-for-js.js", m.Artifacts[1].Path)
	require.EqualValues(t, 14, m.Artifacts[1].Bytes)

	require.NoError(t, m.Write(dir))

	// a rebuild ignores the previous manifest and yields identical checksums
	again, err := Build(dir, "bundle", "4.2.0", "production")
	require.NoError(t, err)
	require.Equal(t, m.Artifacts, again.Artifacts)
	require.NotEqual(t, m.BuildID, again.BuildID)

	read, err := Read(dir)
	require.NoError(t, err)
	require.Equal(t, m.Artifacts, read.Artifacts)
}

func TestChecksum(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.js")
	b := filepath.Join(dir, "b.js")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o600))

	sumA, size, err := Checksum(a)
	require.NoError(t, err)
	require.EqualValues(t, 4, size)

	sumB, _, err := Checksum(b)
	require.NoError(t, err)
	require.Equal(t, sumA, sumB)

	require.NoError(t, os.WriteFile(b, []byte("different"), 0o600))
	sumB, _, err = Checksum(b)
	require.NoError(t, err)
	require.NotEqual(t, sumA, sumB)
}

func TestBuild_missingDir(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "missing"), "bundle", "1.0.0", "development")
	require.Error(t, err)
}
