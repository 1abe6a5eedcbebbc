package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/na2hiro/kifubuild/internal/logger"
	"github.com/rs/zerolog"
)

var (
	ErrBuildFailed = errors.New("esbuild failed with errors")
	errNotBuilt    = errors.New("assets not built yet, call Build() first")
)

// Build runs esbuild for the target, writes the metafile and loads metadata
func (p *Pipeline) Build(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := zerolog.Ctx(ctx)

	opts, err := BuildOptions(p.config)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s target: %w", p.config.Target.Name, err)
	}

	log.Info().
		Str("target", p.config.Target.Name).
		Int("entrypoints", len(opts.EntryPointsAdvanced)).
		Str("outdir", opts.Outdir).
		Msg("Building assets")

	result := api.Build(opts)

	logger.BuildMessages(*log, p.config.Target.Name, result)
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%s: %w", p.config.Target.Name, ErrBuildFailed)
	}

	outputs := make([]string, 0, len(result.OutputFiles))
	for _, file := range result.OutputFiles {
		log.Info().Str("file", file.Path).Int("bytes", len(file.Contents)).Msg("Built file")
		outputs = append(outputs, file.Path)
	}

	if err := p.load(result.Metafile); err != nil {
		return nil, err
	}

	return &Result{
		Target:   p.config.Target.Name,
		Outputs:  outputs,
		Metafile: result.Metafile,
	}, nil
}

// Context creates an incremental esbuild context for watch mode
func (p *Pipeline) Context() (api.BuildContext, error) {
	opts, err := BuildOptions(p.config)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s target: %w", p.config.Target.Name, err)
	}

	buildCtx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		msgs := make([]string, 0, len(ctxErr.Errors))
		for _, msg := range ctxErr.Errors {
			msgs = append(msgs, msg.Text)
		}
		return nil, fmt.Errorf("failed to create %s build context: %s", p.config.Target.Name, strings.Join(msgs, "; "))
	}

	return buildCtx, nil
}

// Load records the metafile of a build made outside Build, e.g. a watch rebuild
func (p *Pipeline) Load(metafile string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.load(metafile)
}

func (p *Pipeline) load(metafile string) error {
	if err := os.MkdirAll(filepath.Dir(p.config.MetafilePath), 0o755); err != nil {
		return err
	}

	if err := os.WriteFile(p.config.MetafilePath, []byte(metafile), 0o600); err != nil {
		return err
	}

	var metadata BuildMetadata
	if err := json.Unmarshal([]byte(metafile), &metadata); err != nil {
		return err
	}

	p.metadata = &metadata
	return nil
}

// LoadScripts returns the ordered list of script URLs needed for the given
// entrypoint and the URL of the entrypoint itself
func (p *Pipeline) LoadScripts(entryPointPath string) ([]string, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.metadata == nil {
		return nil, "", errNotBuilt
	}

	scripts := []string{}
	visited := make(map[string]bool)

	for outputPath, info := range p.metadata.Outputs {
		if info.EntryPoint == entryPointPath {
			entrypoint := p.scriptURL(outputPath)
			scripts = append(scripts, entrypoint)
			visited[outputPath] = true
			p.addDependencies(info, &scripts, visited)
			return scripts, entrypoint, nil
		}
	}

	return nil, "", errors.New("entrypoint not found in metadata")
}

func (p *Pipeline) addDependencies(output OutputInfo, scripts *[]string, visited map[string]bool) {
	for _, imp := range output.Imports {
		if !imp.script() {
			continue
		}
		if !visited[imp.Path] {
			visited[imp.Path] = true
			*scripts = append(*scripts, p.scriptURL(imp.Path))

			if chunkInfo, exists := p.metadata.Outputs[imp.Path]; exists {
				p.addDependencies(chunkInfo, scripts, visited)
			}
		}
	}
}

// scriptURL converts a metafile output path into a URL under the public path
func (p *Pipeline) scriptURL(outputPath string) string {
	root := p.config.Root
	if root == "" {
		root, _ = os.Getwd()
	}

	name := outputPath
	if rel, err := filepath.Rel(root, p.config.Target.OutputDir); err == nil {
		name = strings.TrimPrefix(outputPath, filepath.ToSlash(rel)+"/")
	}

	return p.config.Target.PublicPath + name
}

// Handler returns an http.HandlerFunc that renders the given template and entrypoint with its scripts
func (p *Pipeline) Handler(templateName, title, entryPointPath string, contextFn func(ctx context.Context) any) (http.HandlerFunc, error) {
	if p.tmpl == nil {
		return nil, errors.New("template not loaded, use NewWithTemplateFS")
	}

	if contextFn == nil {
		contextFn = func(ctx context.Context) any {
			return nil
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		scripts, _, err := p.LoadScripts(entryPointPath)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to load scripts")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		data := map[string]any{
			"Title":   title,
			"Scripts": scripts,
			"Context": contextFn(r.Context()),
		}

		if err := p.tmpl.ExecuteTemplate(w, templateName, data); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to render template")
		}
	}, nil
}
