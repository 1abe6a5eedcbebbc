package buildconfig

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DevServerPort is the port the development server listens on
	DevServerPort = 8080
	// HostingURL is where the production bookmarklets are published
	HostingURL = "https://na2hiro.github.io/Kifu-for-JS/out/"
	// LibraryName is the global the browser bundle is exposed as
	LibraryName = "KifuForJS"

	// CompressionThreshold is the minimum asset size in bytes that gets compressed
	CompressionThreshold = 10240
	// CompressionMinRatio is the largest compressed/original ratio worth keeping
	CompressionMinRatio = 0.8
	// InlineImageLimit is the largest image in bytes inlined as a data URL
	InlineImageLimit = 8192
)

var (
	ErrNoEntryPoints = errors.New("build target has no entry points")
	ErrNoOutputDir   = errors.New("build target has no output directory")
	ErrNoFilename    = errors.New("build target has no output filename")
)

// Flags selects the build environment.
// The zero value is a development build without analysis.
type Flags struct {
	Production bool `json:"production" yaml:"production"`
	Analyze    bool `json:"analyze" yaml:"analyze"`
}

func (f Flags) String() string {
	mode := "development"
	if f.Production {
		mode = "production"
	}
	if f.Analyze {
		mode += "+analyze"
	}
	return mode
}

// Package is the subset of package.json the resolver needs
type Package struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

type SourceMapMode string

const (
	SourceMapNone SourceMapMode = "none"
	// SourceMapEval is the fast development source map, embedded in the output
	SourceMapEval SourceMapMode = "eval"
)

type Algorithm string

const (
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmBrotli Algorithm = "brotli"
	AlgorithmZstd   Algorithm = "zstd"
)

// EntryPoint maps an output name to a source path
type EntryPoint struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// Loader is one step of a rule's processing chain
type Loader struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Rule applies a chain of loaders to files whose path matches Test.
// Loaders run last to first, the same order webpack applies them.
type Rule struct {
	Test    string   `json:"test" yaml:"test"`
	Exclude string   `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Use     []Loader `json:"use" yaml:"use"`
}

// CompressionPass writes a compressed sibling next to each matching asset
type CompressionPass struct {
	Algorithm      Algorithm `json:"algorithm" yaml:"algorithm"`
	Filename       string    `json:"filename" yaml:"filename"`
	Test           string    `json:"test" yaml:"test"`
	Threshold      int64     `json:"threshold" yaml:"threshold"`
	MinRatio       float64   `json:"minRatio" yaml:"minRatio"`
	Level          int       `json:"level" yaml:"level"`
	DeleteOriginal bool      `json:"deleteOriginal" yaml:"deleteOriginal"`
}

type DevServer struct {
	Port       int  `json:"port" yaml:"port"`
	Progress   bool `json:"progress" yaml:"progress"`
	LiveReload bool `json:"liveReload" yaml:"liveReload"`
}

// Cleanup configures removal of previous output before a build
type Cleanup struct {
	Dry                 bool `json:"dry" yaml:"dry"`
	AllowOutsideProject bool `json:"allowOutsideProject" yaml:"allowOutsideProject"`
}

// Analyzer attaches a bundle-size report to a build
type Analyzer struct {
	ReportFilename string `json:"reportFilename" yaml:"reportFilename"`
}

// BuildTarget describes one compilation output
type BuildTarget struct {
	Name              string            `json:"name" yaml:"name"`
	EntryPoints       []EntryPoint      `json:"entryPoints" yaml:"entryPoints"`
	Filename          string            `json:"filename" yaml:"filename"`
	ChunkFilename     string            `json:"chunkFilename,omitempty" yaml:"chunkFilename,omitempty"`
	OutputDir         string            `json:"outputDir" yaml:"outputDir"`
	PublicPath        string            `json:"publicPath" yaml:"publicPath"`
	Library           string            `json:"library,omitempty" yaml:"library,omitempty"`
	Rules             []Rule            `json:"rules" yaml:"rules"`
	ResolveExtensions []string          `json:"resolveExtensions" yaml:"resolveExtensions"`
	Compression       []CompressionPass `json:"compression,omitempty" yaml:"compression,omitempty"`
	DevServer         *DevServer        `json:"devServer,omitempty" yaml:"devServer,omitempty"`
	SourceMap         SourceMapMode     `json:"sourceMap" yaml:"sourceMap"`
	Minify            bool              `json:"minify" yaml:"minify"`
	Define            map[string]string `json:"define,omitempty" yaml:"define,omitempty"`
	Cleanup           Cleanup           `json:"cleanup" yaml:"cleanup"`
	Analyze           *Analyzer         `json:"analyze,omitempty" yaml:"analyze,omitempty"`
}

// OutputName expands the filename template for the given entry point
func (t BuildTarget) OutputName(entry EntryPoint) string {
	return strings.ReplaceAll(t.Filename, "[name]", entry.Name)
}

// Validate checks the target can be handed to the asset builder
func (t BuildTarget) Validate() error {
	if len(t.EntryPoints) == 0 {
		return ErrNoEntryPoints
	}
	if t.OutputDir == "" {
		return ErrNoOutputDir
	}
	if t.Filename == "" {
		return ErrNoFilename
	}
	for _, pass := range t.Compression {
		if pass.MinRatio <= 0 || pass.MinRatio > 1 {
			return fmt.Errorf("compression pass %s: min ratio %v out of range", pass.Algorithm, pass.MinRatio)
		}
		if pass.Threshold < 0 {
			return fmt.Errorf("compression pass %s: negative threshold", pass.Algorithm)
		}
	}
	return nil
}
