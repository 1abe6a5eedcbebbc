package assets

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"maps"
	"sync"
)

type BuildMetadata struct {
	Outputs map[string]OutputInfo `json:"outputs"`
}

type OutputInfo struct {
	Bytes      int64        `json:"bytes"`
	EntryPoint string       `json:"entryPoint"`
	Imports    []ImportInfo `json:"imports"`
}

type ImportInfo struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// script reports whether the import is another JavaScript chunk rather than
// an asset emitted by the file loader or referenced from CSS
func (i ImportInfo) script() bool {
	switch i.Kind {
	case "file-loader", "url-token", "import-rule", "composes-from":
		return false
	}
	return true
}

// Result describes the files written by one build
type Result struct {
	Target   string
	Outputs  []string
	Metafile string
}

// Pipeline manages the build of one target and script loading
type Pipeline struct {
	config   Config
	metadata *BuildMetadata
	tmpl     *template.Template
	mu       sync.RWMutex
}

// New creates a new asset pipeline with the given configuration
func New(config Config) *Pipeline {
	return &Pipeline{
		config: config,
	}
}

// NewWithTemplateFS creates a new asset pipeline and loads the templates
// matching pattern from fsys
func NewWithTemplateFS(config Config, fsys fs.FS, pattern string) (*Pipeline, error) {
	return NewWithTemplateFSAndFuncs(config, fsys, pattern, nil)
}

// NewWithTemplateFSAndFuncs is NewWithTemplateFS with custom template functions
func NewWithTemplateFSAndFuncs(config Config, fsys fs.FS, pattern string, customFuncs template.FuncMap) (*Pipeline, error) {
	p := &Pipeline{
		config: config,
	}

	funcs := template.FuncMap{
		"marshal": marshal,
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}

	maps.Copy(funcs, customFuncs)

	tmpl, err := template.New(pattern).Funcs(funcs).ParseFS(fsys, pattern)
	if err != nil {
		return nil, err
	}
	p.tmpl = tmpl
	return p, nil
}

// Target returns the name of the target this pipeline builds
func (p *Pipeline) Target() string {
	return p.config.Target.Name
}

func marshal(value any) string {
	buf := new(bytes.Buffer)

	if err := json.NewEncoder(buf).Encode(value); err != nil {
		panic(errors.New("context can only be json serializable"))
	}

	return buf.String()
}
