// Package analyze reports how much each input contributes to the bundle.
package analyze

import (
	"cmp"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"
)

//go:embed report.html
var reportTemplate string

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"kib": func(b int64) string { return fmt.Sprintf("%.1f KiB", float64(b)/1024) },
	"pct": func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
}).Parse(reportTemplate))

// Metafile is the subset of the esbuild metafile the analyzer reads
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

type MetafileInput struct {
	Bytes int64 `json:"bytes"`
}

type MetafileOutput struct {
	Bytes      int64                   `json:"bytes"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
	Inputs     map[string]InputContrib `json:"inputs"`
}

type InputContrib struct {
	BytesInOutput int64 `json:"bytesInOutput"`
}

type Report struct {
	Target  string
	Total   int64
	Outputs []Output
}

type Output struct {
	Path       string
	EntryPoint string
	Bytes      int64
	Inputs     []Input
}

type Input struct {
	Path          string
	Bytes         int64
	BytesInOutput int64
	// Percentage of the output's bytes this input accounts for
	Percentage float64
}

// Analyze builds a report from an esbuild metafile. Outputs and inputs are
// sorted largest first.
func Analyze(target, metafile string) (Report, error) {
	var meta Metafile
	if err := json.Unmarshal([]byte(metafile), &meta); err != nil {
		return Report{}, fmt.Errorf("failed to parse metafile: %w", err)
	}

	report := Report{Target: target}
	for path, out := range meta.Outputs {
		o := Output{Path: path, EntryPoint: out.EntryPoint, Bytes: out.Bytes}
		for inPath, contrib := range out.Inputs {
			in := Input{
				Path:          inPath,
				Bytes:         meta.Inputs[inPath].Bytes,
				BytesInOutput: contrib.BytesInOutput,
			}
			if out.Bytes > 0 {
				in.Percentage = float64(contrib.BytesInOutput) / float64(out.Bytes) * 100
			}
			o.Inputs = append(o.Inputs, in)
		}
		slices.SortFunc(o.Inputs, func(a, b Input) int {
			return cmp.Or(cmp.Compare(b.BytesInOutput, a.BytesInOutput), cmp.Compare(a.Path, b.Path))
		})

		report.Total += out.Bytes
		report.Outputs = append(report.Outputs, o)
	}

	slices.SortFunc(report.Outputs, func(a, b Output) int {
		return cmp.Or(cmp.Compare(b.Bytes, a.Bytes), cmp.Compare(a.Path, b.Path))
	})

	return report, nil
}

// WriteHTML renders reports as a standalone HTML page
func WriteHTML(w io.Writer, reports ...Report) error {
	return tmpl.Execute(w, reports)
}

// WriteFile renders reports into path
func WriteFile(path string, reports ...Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	if err := WriteHTML(f, reports...); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	return f.Close()
}

// Log prints the largest top inputs of every output
func Log(ctx context.Context, report Report, top int) {
	log := zerolog.Ctx(ctx)

	for _, out := range report.Outputs {
		log.Info().
			Str("target", report.Target).
			Str("output", out.Path).
			Int64("bytes", out.Bytes).
			Int("inputs", len(out.Inputs)).
			Msg("Bundle size")

		for _, in := range out.Inputs[:min(top, len(out.Inputs))] {
			log.Info().
				Str("input", in.Path).
				Int64("bytes_in_output", in.BytesInOutput).
				Float64("percent", in.Percentage).
				Msg("Bundle input")
		}
	}
}
