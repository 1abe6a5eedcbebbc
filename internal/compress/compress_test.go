package compress

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"github.com/stretchr/testify/require"
)

func productionPasses() []buildconfig.CompressionPass {
	return buildconfig.Resolve(buildconfig.Flags{Production: true}, buildconfig.Package{Version: "1.0.0"}, buildconfig.DefaultProject("/work"))[0].Compression
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func compressible(size int) []byte {
	line := "function kifu(){return board.move(sente, gote);}\n"
	return []byte(strings.Repeat(line, size/len(line)+1))[:size]
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	js := writeFile(t, filepath.Join(dir, "kifu-for-js.js"), compressible(20*1024))

	results, err := Apply(context.Background(), []string{js}, productionPasses())
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, js+".gz", results[0].Output)
	require.Equal(t, js+".brotli", results[1].Output)
	for _, res := range results {
		require.Empty(t, res.Skipped)
		require.LessOrEqual(t, res.Ratio, 0.8)
	}

	// original is kept
	original, err := os.ReadFile(js)
	require.NoError(t, err)

	gzFile, err := os.Open(js + ".gz")
	require.NoError(t, err)
	defer gzFile.Close()
	gr, err := gzip.NewReader(gzFile)
	require.NoError(t, err)
	decoded, err := io.ReadAll(gr)
	require.NoError(t, err)
	require.Equal(t, original, decoded)

	brData, err := os.ReadFile(js + ".brotli")
	require.NoError(t, err)
	decoded, err = io.ReadAll(brotli.NewReader(bytes.NewReader(brData)))
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestApply_zstd(t *testing.T) {
	dir := t.TempDir()
	js := writeFile(t, filepath.Join(dir, "kifu-for-js.js"), compressible(20*1024))

	proj := buildconfig.DefaultProject(dir)
	proj.Zstd = true
	passes := buildconfig.Resolve(buildconfig.Flags{Production: true}, buildconfig.Package{Version: "1.0.0"}, proj)[0].Compression
	require.Len(t, passes, 3)

	results, err := Apply(context.Background(), []string{js}, passes)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, js+".zst", results[2].Output)
	require.Empty(t, results[2].Skipped)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	data, err := os.ReadFile(js + ".zst")
	require.NoError(t, err)
	decoded, err := dec.DecodeAll(data, nil)
	require.NoError(t, err)
	require.Equal(t, compressible(20*1024), decoded)
}

func TestApply_belowThreshold(t *testing.T) {
	dir := t.TempDir()
	js := writeFile(t, filepath.Join(dir, "small.js"), compressible(10*1024-1))

	results, err := Apply(context.Background(), []string{js}, productionPasses())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.Equal(t, "below threshold", res.Skipped)
	}
	require.NoFileExists(t, js+".gz")
	require.NoFileExists(t, js+".brotli")
}

func TestApply_atThreshold(t *testing.T) {
	dir := t.TempDir()
	js := writeFile(t, filepath.Join(dir, "edge.js"), compressible(10*1024))

	_, err := Apply(context.Background(), []string{js}, productionPasses())
	require.NoError(t, err)
	require.FileExists(t, js+".gz")
}

func TestApply_poorRatio(t *testing.T) {
	dir := t.TempDir()
	random := make([]byte, 32*1024)
	_, err := rand.Read(random)
	require.NoError(t, err)
	js := writeFile(t, filepath.Join(dir, "random.js"), random)

	results, err := Apply(context.Background(), []string{js}, productionPasses())
	require.NoError(t, err)
	for _, res := range results {
		require.Equal(t, "ratio above minimum", res.Skipped)
		require.Greater(t, res.Ratio, 0.8)
	}
	require.NoFileExists(t, js+".gz")
}

func TestApply_extensions(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.css", "a.html", "a.js", "a.json", "a.js.map", "a.svg", "a.png", "a.txt"} {
		files = append(files, writeFile(t, filepath.Join(dir, name), compressible(16*1024)))
	}

	_, err := Apply(context.Background(), files, productionPasses())
	require.NoError(t, err)

	for _, name := range []string{"a.css", "a.html", "a.js", "a.json", "a.js.map", "a.svg"} {
		require.FileExists(t, filepath.Join(dir, name+".gz"), name)
		require.FileExists(t, filepath.Join(dir, name+".brotli"), name)
	}
	for _, name := range []string{"a.png", "a.txt"} {
		require.NoFileExists(t, filepath.Join(dir, name+".gz"), name)
	}
}

func TestApply_deleteOriginal(t *testing.T) {
	dir := t.TempDir()
	js := writeFile(t, filepath.Join(dir, "a.js"), compressible(16*1024))

	passes := productionPasses()
	passes[0].DeleteOriginal = true

	_, err := Apply(context.Background(), []string{js}, passes)
	require.NoError(t, err)
	require.NoFileExists(t, js)
	require.FileExists(t, js+".gz")
	require.FileExists(t, js+".brotli")
}

func TestApply_invalidPattern(t *testing.T) {
	_, err := Apply(context.Background(), nil, []buildconfig.CompressionPass{{Test: "("}})
	require.Error(t, err)
}

func TestOutputName(t *testing.T) {
	require.Equal(t, "/out/a.js.gz", OutputName("[path].gz[query]", "/out/a.js"))
	require.Equal(t, "/out/a.js.brotli", OutputName("[path].brotli", "/out/a.js"))
}
