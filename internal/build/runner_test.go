package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"github.com/na2hiro/kifubuild/internal/manifest"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	moves := strings.Repeat("7g7f 3c3d 2g2f 8c8d ", 1200)
	writeFile(t, filepath.Join(root, "src", "index.tsx"), `
import "./kifu.css";
export const moves: string = "`+moves+`";
export function count(): number { return moves.split(" ").length; }
`)
	writeFile(t, filepath.Join(root, "src", "kifu.css"), ".kifu { color: red; }\n")
	writeFile(t, filepath.Join(root, "src", "bookmarklet.ts"), `console.log("bookmarklet");`)
	writeFile(t, filepath.Join(root, "src", "public-bookmarklet.ts"), `console.log("public");`)

	return root
}

func TestRun_production(t *testing.T) {
	root := newProject(t)
	stale := filepath.Join(root, "bundle", "kifu-for-js-0.9.0.min.js")
	writeFile(t, stale, "old")

	summaries, err := Run(context.Background(), Options{
		Flags:   buildconfig.Flags{Production: true, Analyze: true},
		Package: buildconfig.Package{Name: "kifu-for-js", Version: "4.2.0"},
		Project: buildconfig.DefaultProject(root),
	})
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	bundle := summaries[0]
	require.Equal(t, "bundle", bundle.Target)

	js := filepath.Join(root, "bundle", "kifu-for-js-4.2.0.min.js")
	require.FileExists(t, js)
	require.FileExists(t, js+".gz")
	require.FileExists(t, js+".brotli")

	// dry-run cleanup leaves previous output in place
	require.FileExists(t, stale)

	require.NotNil(t, bundle.Report)
	require.FileExists(t, bundle.ReportPath)
	require.Equal(t, filepath.Join(root, "analyze", "bundle-report.html"), bundle.ReportPath)

	m, err := manifest.Read(filepath.Join(root, "bundle"))
	require.NoError(t, err)
	require.Equal(t, "4.2.0", m.Version)
	require.Equal(t, "production+analyze", m.Mode)

	bookmarklets := summaries[1]
	require.Equal(t, "bookmarklets", bookmarklets.Target)
	require.FileExists(t, filepath.Join(root, "bookmarklets", "bookmarklet.min.js"))
	require.FileExists(t, filepath.Join(root, "bookmarklets", "public-bookmarklet.min.js"))
	for _, res := range bookmarklets.Compressed {
		require.Equal(t, "below threshold", res.Skipped)
	}
}

func TestRun_development(t *testing.T) {
	root := newProject(t)

	summaries, err := Run(context.Background(), Options{
		Package: buildconfig.Package{Name: "kifu-for-js", Version: "4.2.0"},
		Project: buildconfig.DefaultProject(root),
	})
	require.NoError(t, err)

	require.FileExists(t, filepath.Join(root, "bundle", "kifu-for-js.js"))
	require.NoFileExists(t, filepath.Join(root, "bundle", "kifu-for-js.js.gz"))
	require.Empty(t, summaries[0].Compressed)
	require.Nil(t, summaries[0].Report)
}

func TestRun_clean(t *testing.T) {
	root := newProject(t)
	stale := filepath.Join(root, "bookmarklets", "old.min.js")
	writeFile(t, stale, "old")

	_, err := Run(context.Background(), Options{
		Package: buildconfig.Package{Name: "kifu-for-js", Version: "4.2.0"},
		Project: buildconfig.DefaultProject(root),
		Clean:   true,
	})
	require.NoError(t, err)
	require.NoFileExists(t, stale)
}

func TestRun_buildError(t *testing.T) {
	root := t.TempDir()

	_, err := Run(context.Background(), Options{
		Package: buildconfig.Package{Version: "1.0.0"},
		Project: buildconfig.DefaultProject(root),
	})
	require.Error(t, err)
}
