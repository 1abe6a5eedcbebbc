package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/na2hiro/kifubuild/cmd/kifubuild/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Resolve commands.ResolveCmd `cmd:"" help:"Print the resolved build targets"`
		Build   commands.BuildCmd   `cmd:"" help:"Build the library bundle and bookmarklets"`
		Serve   commands.ServeCmd   `cmd:"" help:"Run the development server"`

		Root      string `help:"project root" default:"." env:"KIFUBUILD_ROOT" type:"existingdir"`
		Config    string `help:"path to settings file (defaults to kifubuild.yaml in the project root)" env:"KIFUBUILD_CONFIG"`
		Telemetry bool   `help:"export build metrics and traces over OTLP" env:"KIFUBUILD_TELEMETRY"`
		Debug     bool   `help:"Enable debug mode."`
		Version   kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Description("Builds the KifuForJS browser bundle and bookmarklets."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:     cli.Debug,
		Version:   version,
		Root:      cli.Root,
		Config:    cli.Config,
		Telemetry: cli.Telemetry,
	})
	cmd.FatalIfErrorf(err)
}
