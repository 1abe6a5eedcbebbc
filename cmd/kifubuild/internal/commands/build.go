package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/na2hiro/kifubuild/internal/build"
	"github.com/na2hiro/kifubuild/internal/buildconfig"
)

// BuildCmd runs a one-shot build of both targets
type BuildCmd struct {
	Env   []string `help:"build flags, e.g. production or analyze=true" short:"e" env:"KIFUBUILD_ENV"`
	Clean bool     `help:"delete previous output instead of reporting it"`

	out io.Writer
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log := globals.setupLogger(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting kifubuild")

	pkg, settings, proj, err := globals.load()
	if err != nil {
		return err
	}

	flags := buildconfig.ParseEnv(c.Env)
	shutdown := globals.startTelemetry(ctx, "build", flags, pkg)
	defer shutdown()

	summaries, err := build.Run(ctx, build.Options{
		Flags:   flags,
		Package: pkg,
		Project: proj,
		Clean:   c.Clean || settings.Clean,
	})
	if err != nil {
		return err
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}
	return printSummaries(out, summaries)
}

func printSummaries(out io.Writer, summaries []*build.Summary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tOUTPUT\tBYTES")
	for _, s := range summaries {
		if s.Manifest == nil {
			continue
		}
		for _, a := range s.Manifest.Artifacts {
			fmt.Fprintf(w, "%s\t%s\t%d\n", s.Target, a.Path, a.Bytes)
		}
		if s.ReportPath != "" {
			fmt.Fprintf(w, "%s\t%s\t-\n", s.Target, s.ReportPath)
		}
	}
	return w.Flush()
}
