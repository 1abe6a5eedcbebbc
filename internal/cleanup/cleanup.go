// Package cleanup removes the output of a previous build.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"github.com/rs/zerolog"
)

var ErrOutsideProject = errors.New("refusing to clean outside the project root")

// Report lists what was, or in dry mode would have been, removed
type Report struct {
	Dry   bool
	Files []string
}

// Run removes every file below dirs. In dry mode nothing is deleted and the
// report lists what would have been.
func Run(ctx context.Context, root string, cfg buildconfig.Cleanup, dirs ...string) (Report, error) {
	log := zerolog.Ctx(ctx)
	report := Report{Dry: cfg.Dry}

	for _, dir := range dirs {
		if !cfg.AllowOutsideProject && !within(root, dir) {
			return report, fmt.Errorf("%s: %w", dir, ErrOutsideProject)
		}

		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				report.Files = append(report.Files, path)
			}
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("failed to scan %s: %w", dir, err)
		}

		if cfg.Dry {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			return report, fmt.Errorf("failed to clean %s: %w", dir, err)
		}
	}

	log.Info().
		Bool("dry", cfg.Dry).
		Int("files", len(report.Files)).
		Strs("dirs", dirs).
		Msg("Cleaned previous output")

	return report, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
