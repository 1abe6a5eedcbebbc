package assets

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/na2hiro/kifubuild/internal/buildconfig"
)

// rule is a buildconfig.Rule with its patterns compiled
type rule struct {
	test    *regexp.Regexp
	exclude *regexp.Regexp
	use     []buildconfig.Loader
}

func (r rule) matches(path string) bool {
	if !r.test.MatchString(path) {
		return false
	}
	return r.exclude == nil || !r.exclude.MatchString(path)
}

// head is the loader that produces the module's final contents
func (r rule) head() buildconfig.Loader {
	return r.use[0]
}

func compileRules(rules []buildconfig.Rule) ([]rule, error) {
	compiled := make([]rule, 0, len(rules))
	for _, r := range rules {
		if len(r.Use) == 0 {
			return nil, fmt.Errorf("rule %q has no loaders", r.Test)
		}
		test, err := regexp.Compile(r.Test)
		if err != nil {
			return nil, fmt.Errorf("invalid rule test %q: %w", r.Test, err)
		}
		c := rule{test: test, use: r.Use}
		if r.Exclude != "" {
			if c.exclude, err = regexp.Compile(r.Exclude); err != nil {
				return nil, fmt.Errorf("invalid rule exclude %q: %w", r.Exclude, err)
			}
		}
		compiled = append(compiled, c)
	}
	return compiled, nil
}

// BuildOptions maps a resolved build target onto esbuild options
func BuildOptions(cfg Config) (api.BuildOptions, error) {
	t := cfg.Target
	if err := t.Validate(); err != nil {
		return api.BuildOptions{}, err
	}

	rules, err := compileRules(t.Rules)
	if err != nil {
		return api.BuildOptions{}, err
	}

	loaders, plugins, err := rulePlugins(t, rules)
	if err != nil {
		return api.BuildOptions{}, err
	}
	plugins = append(plugins, progressPlugin(cfg))

	entryPoints := make([]api.EntryPoint, 0, len(t.EntryPoints))
	for _, entry := range t.EntryPoints {
		entryPoints = append(entryPoints, api.EntryPoint{
			InputPath:  entry.Path,
			OutputPath: strings.TrimSuffix(t.OutputName(entry), ".js"),
		})
	}

	opts := api.BuildOptions{
		EntryPointsAdvanced: entryPoints,
		AbsWorkingDir:       cfg.Root,
		Bundle:              true,
		Write:               true,
		Outdir:              t.OutputDir,
		PublicPath:          t.PublicPath,
		Platform:            api.PlatformBrowser,
		Format:              api.FormatIIFE,
		GlobalName:          t.Library,
		MinifyWhitespace:    t.Minify,
		MinifyIdentifiers:   t.Minify,
		MinifySyntax:        t.Minify,
		TreeShaking:         api.TreeShakingTrue,
		Sourcemap:           cond(t.SourceMap == buildconfig.SourceMapEval, api.SourceMapInline, api.SourceMapNone),
		Define:              t.Define,
		ResolveExtensions:   t.ResolveExtensions,
		Loader:              loaders,
		Plugins:             plugins,
		Metafile:            true,
		LogLevel:            api.LogLevelSilent,
	}

	if t.ChunkFilename != "" {
		opts.ChunkNames = strings.TrimSuffix(t.ChunkFilename, ".js")
	}

	if cfg.Banner != "" {
		opts.Banner = map[string]string{"js": cfg.Banner}
	}

	return opts, nil
}

// rulePlugins turns the target's rules into esbuild loaders and plugins
func rulePlugins(t buildconfig.BuildTarget, rules []rule) (map[string]api.Loader, []api.Plugin, error) {
	loaders := map[string]api.Loader{}
	var plugins []api.Plugin

	for _, r := range rules {
		switch name := r.head().Name; name {
		case "ts":
			for _, ext := range t.ResolveExtensions {
				if !r.test.MatchString("module" + ext) {
					continue
				}
				loaders[ext] = cond(ext == ".tsx", api.LoaderTSX, api.LoaderTS)
			}
		case "style":
			plugins = append(plugins, stylePlugin(r, t.Minify))
		case "url":
			plugins = append(plugins, urlPlugin(r, inlineLimit(r.head())))
		default:
			return nil, nil, fmt.Errorf("unsupported loader %q for rule %s", name, r.test)
		}
	}

	return loaders, plugins, nil
}

func inlineLimit(loader buildconfig.Loader) int64 {
	switch limit := loader.Options["limit"].(type) {
	case int:
		return int64(limit)
	case int64:
		return limit
	case float64:
		return int64(limit)
	}
	return buildconfig.InlineImageLimit
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
