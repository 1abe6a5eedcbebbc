package buildconfig

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
)

// Project holds the filesystem layout and endpoints targets are resolved against
type Project struct {
	Root            string
	SourceDir       string
	BundleDir       string
	BookmarkletsDir string
	DevPort         int
	HostingURL      string
	// Zstd adds a zstd pass to production compression
	Zstd bool
}

// DefaultProject returns the standard layout rooted at root
func DefaultProject(root string) Project {
	return Project{Root: root}.withDefaults()
}

func (p Project) withDefaults() Project {
	if p.SourceDir == "" {
		p.SourceDir = filepath.Join(p.Root, "src")
	}
	if p.BundleDir == "" {
		p.BundleDir = filepath.Join(p.Root, "bundle")
	}
	if p.BookmarkletsDir == "" {
		p.BookmarkletsDir = filepath.Join(p.Root, "bookmarklets")
	}
	if p.DevPort == 0 {
		p.DevPort = DevServerPort
	}
	if p.HostingURL == "" {
		p.HostingURL = HostingURL
	}
	return p
}

// With returns p with every non-zero field of override applied
func (p Project) With(override Project) Project {
	if err := mergo.Merge(&p, override, mergo.WithOverride); err != nil {
		panic(fmt.Sprintf("merge project: %v", err))
	}
	return p
}

// DevServerURL is the public path bookmarklets use while developing
func (p Project) DevServerURL() string {
	return fmt.Sprintf("http://localhost:%d/bundle/", p.withDefaults().DevPort)
}

// Resolve builds the library bundle and bookmarklet targets for flags.
// Every call constructs new descriptors, nothing is shared between calls.
func Resolve(flags Flags, pkg Package, proj Project) [2]BuildTarget {
	proj = proj.withDefaults()
	return [2]BuildTarget{
		bundleTarget(flags, pkg, proj),
		bookmarkletsTarget(flags, proj),
	}
}

func bundleTarget(flags Flags, pkg Package, proj Project) BuildTarget {
	filename := "kifu-for-js.js"
	if flags.Production {
		filename = fmt.Sprintf("kifu-for-js-%s.min.js", pkg.Version)
	}

	t := common(flags, proj)
	mustMerge(&t, BuildTarget{
		Name: "bundle",
		EntryPoints: []EntryPoint{
			{Name: "main", Path: filepath.Join(proj.SourceDir, "index.tsx")},
		},
		Filename:   filename,
		OutputDir:  proj.BundleDir,
		PublicPath: "/bundle/",
		Library:    LibraryName,
	})
	return t
}

func bookmarkletsTarget(flags Flags, proj Project) BuildTarget {
	publicPath := proj.DevServerURL()
	if flags.Production {
		publicPath = proj.HostingURL
	}

	t := common(flags, proj)
	mustMerge(&t, BuildTarget{
		Name: "bookmarklets",
		EntryPoints: []EntryPoint{
			{Name: "bookmarklet", Path: filepath.Join(proj.SourceDir, "bookmarklet.ts")},
			{Name: "public-bookmarklet", Path: filepath.Join(proj.SourceDir, "public-bookmarklet.ts")},
		},
		Filename:      "[name].min.js",
		ChunkFilename: "[name].min.js",
		OutputDir:     proj.BookmarkletsDir,
		PublicPath:    publicPath,
	})
	return t
}

// common is the configuration shared by both targets
func common(flags Flags, proj Project) BuildTarget {
	t := base()
	if flags.Production {
		mustMerge(&t, production(proj))
	} else {
		mustMerge(&t, development(proj))
	}
	if flags.Analyze {
		mustMerge(&t, BuildTarget{Analyze: &Analyzer{ReportFilename: "report.html"}})
	}
	return t
}

func base() BuildTarget {
	return BuildTarget{
		Rules: []Rule{
			{
				Test:    `\.tsx?$`,
				Exclude: `node_modules`,
				Use:     []Loader{{Name: "ts"}},
			},
			{
				Test: `\.css$`,
				Use:  []Loader{{Name: "style"}, {Name: "css"}},
			},
			{
				Test: `\.png$`,
				Use: []Loader{
					{Name: "url", Options: map[string]any{"limit": InlineImageLimit}},
					{Name: "img", Options: map[string]any{}},
				},
			},
		},
		ResolveExtensions: []string{".js", ".ts", ".tsx", ".png"},
		SourceMap:         SourceMapNone,
		Cleanup: Cleanup{
			Dry:                 true,
			AllowOutsideProject: true,
		},
	}
}

func production(proj Project) BuildTarget {
	t := BuildTarget{
		Compression: []CompressionPass{
			compressionPass(AlgorithmGzip, "[path].gz", 9),
			compressionPass(AlgorithmBrotli, "[path].brotli", 11),
		},
		Minify: true,
		Define: map[string]string{
			"process.env.NODE_ENV": strconv.Quote("production"),
		},
	}
	if proj.Zstd {
		t.Compression = append(t.Compression, compressionPass(AlgorithmZstd, "[path].zst", 19))
	}
	return t
}

func development(proj Project) BuildTarget {
	return BuildTarget{
		DevServer: &DevServer{
			Port:       proj.DevPort,
			Progress:   true,
			LiveReload: true,
		},
		SourceMap: SourceMapEval,
	}
}

func compressionPass(algorithm Algorithm, filename string, level int) CompressionPass {
	return CompressionPass{
		Algorithm: algorithm,
		Filename:  filename,
		Test:      `\.(css|html|js|json|map|svg)$`,
		Threshold: CompressionThreshold,
		MinRatio:  CompressionMinRatio,
		Level:     level,
	}
}

// mustMerge layers override onto dst. Merging two values of the same
// struct type cannot fail, so an error here is a programming mistake.
func mustMerge(dst *BuildTarget, override BuildTarget) {
	if err := mergo.Merge(dst, override, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		panic(fmt.Sprintf("merge build target: %v", err))
	}
}

// ParseEnv turns env tokens such as "production", "analyze=true" or
// "production=false" into Flags. Unknown or malformed tokens are ignored.
func ParseEnv(tokens []string) Flags {
	var flags Flags
	for _, token := range tokens {
		name, value, hasValue := strings.Cut(strings.TrimSpace(token), "=")
		enabled := true
		if hasValue {
			b, err := strconv.ParseBool(value)
			if err != nil {
				continue
			}
			enabled = b
		}
		switch strings.ToLower(name) {
		case "production":
			flags.Production = enabled
		case "analyze":
			flags.Analyze = enabled
		}
	}
	return flags
}
