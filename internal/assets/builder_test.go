package assets

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"github.com/stretchr/testify/require"
)

var testPackage = buildconfig.Package{Name: "kifu-for-js", Version: "4.2.0"}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o600))
}

// newProject lays out a minimal source tree and returns its root
func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "src", "index.tsx"), []byte(`
import "./kifu.css";
import icon from "./icon.png";
import board from "./board.png";

export const version: string = "4.2.0";
export function icons(): string[] {
	return [icon, board];
}
`))
	writeFile(t, filepath.Join(root, "src", "kifu.css"), []byte(".kifu { color: red; }\n"))
	writeFile(t, filepath.Join(root, "src", "icon.png"), []byte("\x89PNG\r\n\x1a\nsmall"))
	writeFile(t, filepath.Join(root, "src", "board.png"), append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x42}, buildconfig.InlineImageLimit+1)...))
	writeFile(t, filepath.Join(root, "src", "bookmarklet.ts"), []byte(`const target: string = "bookmarklet"; console.log(target);`))
	writeFile(t, filepath.Join(root, "src", "public-bookmarklet.ts"), []byte(`const target: string = "public"; console.log(target);`))

	return root
}

func targets(root string, flags buildconfig.Flags) [2]buildconfig.BuildTarget {
	return buildconfig.Resolve(flags, testPackage, buildconfig.DefaultProject(root))
}

func pluginNames(opts api.BuildOptions) []string {
	names := make([]string, 0, len(opts.Plugins))
	for _, p := range opts.Plugins {
		names = append(names, p.Name)
	}
	return names
}

func TestBuildOptions_production(t *testing.T) {
	bundle := targets("/work", buildconfig.Flags{Production: true})[0]

	opts, err := BuildOptions(ConfigFor("/work", bundle))
	require.NoError(t, err)

	require.Equal(t, []api.EntryPoint{{
		InputPath:  filepath.Join("/work", "src", "index.tsx"),
		OutputPath: "kifu-for-js-4.2.0.min",
	}}, opts.EntryPointsAdvanced)
	require.Equal(t, "KifuForJS", opts.GlobalName)
	require.Equal(t, api.FormatIIFE, opts.Format)
	require.True(t, opts.MinifyWhitespace)
	require.True(t, opts.MinifyIdentifiers)
	require.True(t, opts.MinifySyntax)
	require.Equal(t, api.SourceMapNone, opts.Sourcemap)
	require.Equal(t, `"production"`, opts.Define["process.env.NODE_ENV"])
	require.Equal(t, "/bundle/", opts.PublicPath)
	require.Equal(t, api.LoaderTS, opts.Loader[".ts"])
	require.Equal(t, api.LoaderTSX, opts.Loader[".tsx"])
	require.NotContains(t, opts.Loader, ".js")
	require.Equal(t, []string{"style", "url", "progress"}, pluginNames(opts))
	require.True(t, opts.Metafile)
}

func TestBuildOptions_developmentBookmarklets(t *testing.T) {
	bookmarklets := targets("/work", buildconfig.Flags{})[1]

	cfg := ConfigFor("/work", bookmarklets)
	cfg.Banner = "/* reload */"
	opts, err := BuildOptions(cfg)
	require.NoError(t, err)

	require.Len(t, opts.EntryPointsAdvanced, 2)
	require.Equal(t, "bookmarklet.min", opts.EntryPointsAdvanced[0].OutputPath)
	require.Equal(t, "public-bookmarklet.min", opts.EntryPointsAdvanced[1].OutputPath)
	require.Equal(t, "[name].min", opts.ChunkNames)
	require.Empty(t, opts.GlobalName)
	require.False(t, opts.MinifyWhitespace)
	require.Equal(t, api.SourceMapInline, opts.Sourcemap)
	require.Equal(t, "http://localhost:8080/bundle/", opts.PublicPath)
	require.Equal(t, map[string]string{"js": "/* reload */"}, opts.Banner)
}

func TestBuildOptions_invalid(t *testing.T) {
	bundle := targets("/work", buildconfig.Flags{})[0]

	noEntries := bundle
	noEntries.EntryPoints = nil
	_, err := BuildOptions(ConfigFor("/work", noEntries))
	require.ErrorIs(t, err, buildconfig.ErrNoEntryPoints)

	badRule := bundle
	badRule.Rules = []buildconfig.Rule{{Test: `(`, Use: []buildconfig.Loader{{Name: "ts"}}}}
	_, err = BuildOptions(ConfigFor("/work", badRule))
	require.Error(t, err)

	unknown := bundle
	unknown.Rules = []buildconfig.Rule{{Test: `\.vue$`, Use: []buildconfig.Loader{{Name: "vue"}}}}
	_, err = BuildOptions(ConfigFor("/work", unknown))
	require.ErrorContains(t, err, "unsupported loader")
}

func TestPipeline_Build(t *testing.T) {
	root := newProject(t)
	bundle := targets(root, buildconfig.Flags{})[0]

	var ended []BuildEnd
	cfg := ConfigFor(root, bundle)
	cfg.OnEnd = func(end BuildEnd) { ended = append(ended, end) }

	p := New(cfg)
	result, err := p.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, "bundle", result.Target)

	out, err := os.ReadFile(filepath.Join(root, "bundle", "kifu-for-js.js"))
	require.NoError(t, err)
	require.Contains(t, string(out), "KifuForJS")
	require.Contains(t, string(out), `document.createElement("style")`)
	require.Contains(t, string(out), "data:image/png;base64,")
	require.Contains(t, string(out), "sourceMappingURL=data:")

	pngs, err := filepath.Glob(filepath.Join(root, "bundle", "board-*.png"))
	require.NoError(t, err)
	require.Len(t, pngs, 1)

	require.FileExists(t, filepath.Join(root, "bundle", "meta.json"))
	require.Len(t, ended, 1)
	require.Zero(t, ended[0].Errors)

	scripts, entrypoint, err := p.LoadScripts("src/index.tsx")
	require.NoError(t, err)
	require.Equal(t, "/bundle/kifu-for-js.js", entrypoint)
	require.Equal(t, []string{"/bundle/kifu-for-js.js"}, scripts)
}

func TestPipeline_BuildProductionBookmarklets(t *testing.T) {
	root := newProject(t)
	bookmarklets := targets(root, buildconfig.Flags{Production: true})[1]

	result, err := New(ConfigFor(root, bookmarklets)).Build(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Outputs, 2)

	require.FileExists(t, filepath.Join(root, "bookmarklets", "bookmarklet.min.js"))
	require.FileExists(t, filepath.Join(root, "bookmarklets", "public-bookmarklet.min.js"))
}

func TestPipeline_BuildStyleWithFont(t *testing.T) {
	root := newProject(t)
	writeFile(t, filepath.Join(root, "src", "kifu.css"), []byte(`@font-face { font-family: koma; src: url(./koma.woff2) format("woff2"); }
.kifu { font-family: koma; background: url(./grid.jpg); }
`))
	writeFile(t, filepath.Join(root, "src", "koma.woff2"), []byte("wOF2font"))
	writeFile(t, filepath.Join(root, "src", "grid.jpg"), []byte("\xff\xd8\xffjpeg"))
	bundle := targets(root, buildconfig.Flags{})[0]

	_, err := New(ConfigFor(root, bundle)).Build(context.Background())
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(root, "bundle", "kifu-for-js.js"))
	require.NoError(t, err)
	require.Contains(t, string(out), "data:font/woff2")
	require.Contains(t, string(out), "data:image/jpeg")
}

func TestPipeline_BuildFailure(t *testing.T) {
	root := t.TempDir()
	bundle := targets(root, buildconfig.Flags{})[0]

	_, err := New(ConfigFor(root, bundle)).Build(context.Background())
	require.ErrorIs(t, err, ErrBuildFailed)
}

func TestPipeline_LoadScriptsBeforeBuild(t *testing.T) {
	p := New(ConfigFor("/work", targets("/work", buildconfig.Flags{})[0]))

	_, _, err := p.LoadScripts("src/index.tsx")
	require.Error(t, err)
}

func TestPipeline_LoadAndHandler(t *testing.T) {
	root := t.TempDir()
	bundle := targets(root, buildconfig.Flags{})[0]

	fsys := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte(`{{define "index"}}{{.Title}}{{range .Scripts}} {{.}}{{end}}{{end}}`)},
	}
	p, err := NewWithTemplateFS(ConfigFor(root, bundle), fsys, "*.html")
	require.NoError(t, err)

	require.NoError(t, p.Load(`{"outputs": {
		"bundle/kifu-for-js.js": {"entryPoint": "src/index.tsx", "imports": [
			{"path": "bundle/board-22BFWFB6.png", "kind": "file-loader"},
			{"path": "bundle/chunk.js", "kind": "import-statement"},
			{"path": "bundle/lazy.js", "kind": "dynamic-import"}
		]},
		"bundle/chunk.js": {"imports": [{"path": "bundle/font-ABC.woff2", "kind": "url-token"}]},
		"bundle/lazy.js": {"imports": []},
		"bundle/board-22BFWFB6.png": {"imports": []}
	}}`))

	scripts, _, err := p.LoadScripts("src/index.tsx")
	require.NoError(t, err)
	require.Equal(t, []string{"/bundle/kifu-for-js.js", "/bundle/chunk.js", "/bundle/lazy.js"}, scripts)

	_, err = p.Handler("index", "Kifu", "src/index.tsx", nil)
	require.NoError(t, err)

	_, err = New(ConfigFor(root, bundle)).Handler("index", "Kifu", "src/index.tsx", nil)
	require.Error(t, err)
}
