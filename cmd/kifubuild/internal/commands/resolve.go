package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"gopkg.in/yaml.v3"
)

// ResolveCmd prints the two resolved build targets
type ResolveCmd struct {
	Env    []string `help:"build flags, e.g. production or analyze=true" short:"e" env:"KIFUBUILD_ENV"`
	Format string   `help:"output format" enum:"json,yaml" default:"json"`

	out io.Writer
}

func (c *ResolveCmd) Run(ctx context.Context, globals *Globals) error {
	_, log := globals.setupLogger(ctx)

	pkg, _, proj, err := globals.load()
	if err != nil {
		return err
	}

	flags := buildconfig.ParseEnv(c.Env)
	targets := buildconfig.Resolve(flags, pkg, proj)
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			log.Warn().Err(err).Str("target", t.Name).Msg("Resolved target is incomplete")
		}
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}

	log.Debug().Str("mode", flags.String()).Str("format", c.Format).Msg("Resolved build targets")

	switch c.Format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(targets); err != nil {
			return fmt.Errorf("failed to encode targets: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(targets); err != nil {
			return fmt.Errorf("failed to encode targets: %w", err)
		}
	}

	return nil
}
