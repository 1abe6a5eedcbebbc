package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"github.com/na2hiro/kifubuild/internal/logger"
	"github.com/na2hiro/kifubuild/internal/project"
	"github.com/na2hiro/kifubuild/internal/telemetry"
	"github.com/rs/zerolog"
)

const serviceName = "kifubuild"

type Globals struct {
	Debug     bool
	Version   string
	Root      string
	Config    string
	Telemetry bool
}

// setupLogger attaches the process logger to ctx
func (g *Globals) setupLogger(ctx context.Context) (context.Context, zerolog.Logger) {
	log := logger.Setup(g.Debug)
	return log.WithContext(ctx), log
}

// root returns the absolute project root
func (g *Globals) root() (string, error) {
	root := g.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project root: %w", err)
	}
	return abs, nil
}

func (g *Globals) settingsPath(root string) string {
	if g.Config == "" {
		return filepath.Join(root, project.SettingsFile)
	}
	if filepath.IsAbs(g.Config) {
		return g.Config
	}
	return filepath.Join(root, g.Config)
}

// load reads package metadata and settings for the project root
func (g *Globals) load() (buildconfig.Package, project.Settings, buildconfig.Project, error) {
	root, err := g.root()
	if err != nil {
		return buildconfig.Package{}, project.Settings{}, buildconfig.Project{}, err
	}

	pkg, settings, err := project.Load(root, g.settingsPath(root))
	if err != nil {
		return buildconfig.Package{}, project.Settings{}, buildconfig.Project{}, err
	}

	return pkg, settings, settings.Project(root), nil
}

// startTelemetry initialises exporters when enabled. The returned function
// is always safe to call.
func (g *Globals) startTelemetry(ctx context.Context, command string, flags buildconfig.Flags, pkg buildconfig.Package) func() {
	if !g.Telemetry {
		return func() {}
	}

	log := zerolog.Ctx(ctx)
	log.Info().Msg("Telemetry is enabled")

	shutdown, err := telemetry.InitTelemetry(ctx, serviceName, telemetry.Build{
		Version:        g.Version,
		Command:        command,
		Mode:           flags.String(),
		PackageName:    pkg.Name,
		PackageVersion: pkg.Version,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}
