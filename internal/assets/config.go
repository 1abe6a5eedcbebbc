package assets

import (
	"path/filepath"

	"github.com/na2hiro/kifubuild/internal/buildconfig"
)

type Config struct {
	// Target is the resolved build descriptor
	Target buildconfig.BuildTarget
	// Root is the absolute project root, esbuild paths are relative to it
	Root string
	// Path to metafile
	MetafilePath string
	// JavaScript prepended to every output, used for live reload
	Banner string
	// Called after every build, including rebuilds in watch mode
	OnEnd func(end BuildEnd)
}

// BuildEnd summarises one finished build for observers
type BuildEnd struct {
	Target   string
	Errors   int
	Warnings int
	Metafile string
}

// ConfigFor returns the default configuration for a target
func ConfigFor(root string, target buildconfig.BuildTarget) Config {
	return Config{
		Target:       target,
		Root:         root,
		MetafilePath: filepath.Join(target.OutputDir, "meta.json"),
	}
}
