// Package build runs a complete build: cleanup, compilation of both
// targets, compression, analysis, and manifests.
package build

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/na2hiro/kifubuild/internal/analyze"
	"github.com/na2hiro/kifubuild/internal/assets"
	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"github.com/na2hiro/kifubuild/internal/cleanup"
	"github.com/na2hiro/kifubuild/internal/compress"
	"github.com/na2hiro/kifubuild/internal/manifest"
	"github.com/na2hiro/kifubuild/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/na2hiro/kifubuild/internal/build"

type Options struct {
	Flags   buildconfig.Flags
	Package buildconfig.Package
	Project buildconfig.Project
	// Clean deletes previous output even though targets resolve to a dry-run cleanup
	Clean bool
}

type Summary struct {
	Target     string
	Outputs    []string
	Compressed []compress.Result
	Report     *analyze.Report
	ReportPath string
	Manifest   *manifest.Manifest
}

// Run builds both targets concurrently and returns one summary per target in
// resolution order
func Run(ctx context.Context, opts Options) ([]*Summary, error) {
	targets := buildconfig.Resolve(opts.Flags, opts.Package, opts.Project)
	root := opts.Project.Root

	zerolog.Ctx(ctx).Info().
		Str("mode", opts.Flags.String()).
		Str("version", opts.Package.Version).
		Str("root", root).
		Msg("Starting build")

	for _, t := range targets {
		cfg := t.Cleanup
		if opts.Clean {
			cfg.Dry = false
		}
		if _, err := cleanup.Run(ctx, root, cfg, t.OutputDir); err != nil {
			return nil, err
		}
	}

	summaries := make([]*Summary, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			summary, err := runTarget(gctx, opts, t)
			if err != nil {
				return err
			}
			summaries[i] = summary
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func runTarget(ctx context.Context, opts Options, t buildconfig.BuildTarget) (summary *Summary, err error) {
	metrics := telemetry.GetMetrics()
	started := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "build "+t.Name, trace.WithAttributes(
		attribute.String("target", t.Name),
		attribute.String("mode", opts.Flags.String()),
	))
	defer func() {
		metrics.RecordBuild(ctx, t.Name, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := zerolog.Ctx(ctx).With().Str("target", t.Name).Logger()
	ctx = log.WithContext(ctx)

	result, err := assets.New(assets.ConfigFor(opts.Project.Root, t)).Build(ctx)
	if err != nil {
		return nil, err
	}

	summary = &Summary{Target: t.Name, Outputs: result.Outputs}

	if len(t.Compression) > 0 {
		summary.Compressed, err = compress.Apply(ctx, result.Outputs, t.Compression)
		if err != nil {
			return nil, fmt.Errorf("failed to compress %s: %w", t.Name, err)
		}
		recordCompression(ctx, metrics, summary.Compressed)
	}

	if t.Analyze != nil {
		report, err := analyze.Analyze(t.Name, result.Metafile)
		if err != nil {
			return nil, err
		}
		summary.Report = &report
		summary.ReportPath = ReportPath(opts.Project.Root, t)
		if err := analyze.WriteFile(summary.ReportPath, report); err != nil {
			return nil, err
		}
		analyze.Log(ctx, report, 5)
		log.Info().Str("report", summary.ReportPath).Msg("Bundle analysis written")
	}

	summary.Manifest, err = manifest.Build(t.OutputDir, t.Name, opts.Package.Version, opts.Flags.String())
	if err != nil {
		return nil, err
	}
	if err := summary.Manifest.Write(t.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	var total int64
	for _, artifact := range summary.Manifest.Artifacts {
		total += artifact.Bytes
	}
	metrics.BundleBytes.Record(ctx, total, metric.WithAttributes(attribute.String("target", t.Name)))

	log.Info().
		Int("outputs", len(summary.Outputs)).
		Int("artifacts", len(summary.Manifest.Artifacts)).
		Dur("duration", time.Since(started)).
		Msg("Target built")

	return summary, nil
}

// ReportPath is where the analysis report of a target is written. It sits
// outside the output directory so it is never published.
func ReportPath(root string, t buildconfig.BuildTarget) string {
	return filepath.Join(root, "analyze", t.Name+"-"+t.Analyze.ReportFilename)
}

func recordCompression(ctx context.Context, metrics *telemetry.Metrics, results []compress.Result) {
	for _, res := range results {
		attrs := metricAttrs(res)
		if res.Skipped != "" {
			metrics.CompressSkippedTotal.Add(ctx, 1, attrs)
			continue
		}
		metrics.CompressedBytesTotal.Add(ctx, res.CompressedBytes, attrs)
	}
}

func metricAttrs(res compress.Result) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("algorithm", string(res.Algorithm)))
}
