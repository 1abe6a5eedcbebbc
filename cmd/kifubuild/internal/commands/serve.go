package commands

import (
	"context"
	"path/filepath"

	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"github.com/na2hiro/kifubuild/internal/devserver"
	"github.com/na2hiro/kifubuild/internal/project"
)

// ServeCmd runs the development server with live reload
type ServeCmd struct {
	Env  []string `help:"build flags, e.g. production or analyze=true" short:"e" env:"KIFUBUILD_ENV"`
	Host string   `help:"host to listen on" default:"localhost" env:"KIFUBUILD_HOST"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log := globals.setupLogger(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting kifubuild")

	root, err := globals.root()
	if err != nil {
		return err
	}

	// the package version can change while serving, so only the mode is tagged
	flags := buildconfig.ParseEnv(c.Env)
	shutdown := globals.startTelemetry(ctx, "serve", flags, buildconfig.Package{})
	defer shutdown()

	srv := devserver.New(devserver.Config{
		Flags: flags,
		Load: func() (buildconfig.Package, buildconfig.Project, error) {
			pkg, _, proj, err := globals.load()
			return pkg, proj, err
		},
		Host: c.Host,
		WatchFiles: []string{
			filepath.Join(root, project.PackageFile),
			globals.settingsPath(root),
		},
	})

	return srv.Run(ctx)
}
