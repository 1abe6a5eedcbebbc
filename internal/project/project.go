// Package project loads the package metadata and optional build settings
// for a KifuForJS checkout.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"gopkg.in/yaml.v3"
)

const (
	PackageFile  = "package.json"
	SettingsFile = "kifubuild.yaml"
)

var ErrNoVersion = errors.New("package.json has no version")

// Settings overrides the default project layout. All paths are relative to
// the project root unless absolute.
type Settings struct {
	SourceDir       string `yaml:"sourceDir"`
	BundleDir       string `yaml:"bundleDir"`
	BookmarkletsDir string `yaml:"bookmarkletsDir"`
	DevPort         int    `yaml:"devPort"`
	HostingURL      string `yaml:"hostingURL"`
	Zstd            bool   `yaml:"zstd"`
	// Clean turns the pre-build cleanup into a real deletion
	Clean bool `yaml:"clean"`
}

// LoadPackage reads name and version from package.json in root
func LoadPackage(root string) (buildconfig.Package, error) {
	data, err := os.ReadFile(filepath.Join(root, PackageFile))
	if err != nil {
		return buildconfig.Package{}, fmt.Errorf("failed to read package metadata: %w", err)
	}

	var pkg buildconfig.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return buildconfig.Package{}, fmt.Errorf("failed to parse %s: %w", PackageFile, err)
	}

	if pkg.Version == "" {
		return buildconfig.Package{}, ErrNoVersion
	}

	return pkg, nil
}

// LoadSettings reads the settings file at path. A missing file yields the
// zero Settings so the defaults apply.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	if settings.DevPort < 0 || settings.DevPort > 65535 {
		return Settings{}, fmt.Errorf("invalid dev port %d", settings.DevPort)
	}

	return settings, nil
}

// Project converts settings into the layout used by the resolver
func (s Settings) Project(root string) buildconfig.Project {
	return buildconfig.DefaultProject(root).With(buildconfig.Project{
		SourceDir:       resolvePath(root, s.SourceDir),
		BundleDir:       resolvePath(root, s.BundleDir),
		BookmarkletsDir: resolvePath(root, s.BookmarkletsDir),
		DevPort:         s.DevPort,
		HostingURL:      s.HostingURL,
		Zstd:            s.Zstd,
	})
}

func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// Load reads package metadata and settings for root. An empty settingsPath
// means the settings file in root.
func Load(root, settingsPath string) (buildconfig.Package, Settings, error) {
	pkg, err := LoadPackage(root)
	if err != nil {
		return buildconfig.Package{}, Settings{}, err
	}

	if settingsPath == "" {
		settingsPath = filepath.Join(root, SettingsFile)
	}

	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return buildconfig.Package{}, Settings{}, err
	}

	return pkg, settings, nil
}
