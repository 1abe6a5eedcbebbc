package assets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// stylePlugin compiles matching stylesheets and turns them into a module
// that injects the result into the document head
func stylePlugin(r rule, minify bool) api.Plugin {
	return api.Plugin{
		Name: "style",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: r.test.String()}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				if !r.matches(args.Path) {
					return api.OnLoadResult{}, nil
				}

				css, err := compileCSS(args.Path, minify)
				if err != nil {
					return api.OnLoadResult{}, err
				}

				contents, err := injectStyle(css)
				if err != nil {
					return api.OnLoadResult{}, err
				}

				return api.OnLoadResult{
					Contents:   &contents,
					ResolveDir: filepath.Dir(args.Path),
					Loader:     api.LoaderJS,
				}, nil
			})
		},
	}
}

// compileCSS bundles a stylesheet so @import and url() references are inlined
func compileCSS(path string, minify bool) (string, error) {
	result := api.Build(api.BuildOptions{
		EntryPoints:      []string{path},
		Bundle:           true,
		Write:            false,
		MinifyWhitespace: minify,
		MinifySyntax:     minify,
		Loader:           cssAssetLoaders(),
		LogLevel: api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return "", fmt.Errorf("failed to compile %s: %s", path, result.Errors[0].Text)
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("failed to compile %s: no output", path)
	}

	return string(result.OutputFiles[0].Contents), nil
}

// cssAssetLoaders inlines everything a stylesheet may reference through url(),
// the nested build writes nothing so emitted files would never reach disk
func cssAssetLoaders() map[string]api.Loader {
	loaders := map[string]api.Loader{}
	for _, ext := range []string{
		".png", ".svg", ".gif", ".jpg", ".jpeg", ".webp",
		".woff", ".woff2", ".ttf", ".otf", ".eot",
	} {
		loaders[ext] = api.LoaderDataURL
	}
	return loaders
}

func injectStyle(css string) (string, error) {
	text, err := json.Marshal(css)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`var style = document.createElement("style");
style.textContent = %s;
document.head.appendChild(style);
export default style;
`, text), nil
}

// urlPlugin inlines matching files up to limit bytes as data URLs and emits
// larger files next to the bundle
func urlPlugin(r rule, limit int64) api.Plugin {
	return api.Plugin{
		Name: "url",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: r.test.String()}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				if !r.matches(args.Path) {
					return api.OnLoadResult{}, nil
				}

				data, err := os.ReadFile(args.Path)
				if err != nil {
					return api.OnLoadResult{}, err
				}
				contents := string(data)

				loader := api.LoaderFile
				if int64(len(data)) <= limit {
					loader = api.LoaderDataURL
				}

				return api.OnLoadResult{
					Contents: &contents,
					Loader:   loader,
				}, nil
			})
		},
	}
}

// progressPlugin reports build start and end, and forwards results to OnEnd
func progressPlugin(cfg Config) api.Plugin {
	name := cfg.Target.Name
	verbose := cfg.Target.DevServer != nil && cfg.Target.DevServer.Progress

	return api.Plugin{
		Name: "progress",
		Setup: func(build api.PluginBuild) {
			var started time.Time

			build.OnStart(func() (api.OnStartResult, error) {
				started = time.Now()
				evt := log.Debug()
				if verbose {
					evt = log.Info()
				}
				evt.Str("target", name).Msg("Build started")
				return api.OnStartResult{}, nil
			})

			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				evt := log.Debug()
				if verbose {
					evt = log.Info()
				}
				evt.Str("target", name).
					Int("errors", len(result.Errors)).
					Int("warnings", len(result.Warnings)).
					Dur("duration", time.Since(started)).
					Msg("Build finished")

				if cfg.OnEnd != nil {
					cfg.OnEnd(BuildEnd{
						Target:   name,
						Errors:   len(result.Errors),
						Warnings: len(result.Warnings),
						Metafile: result.Metafile,
					})
				}
				return api.OnEndResult{}, nil
			})
		},
	}
}
