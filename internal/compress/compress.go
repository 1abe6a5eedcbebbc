// Package compress writes precompressed siblings of build artifacts.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/na2hiro/kifubuild/internal/buildconfig"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Result records the outcome of one compression pass over one file
type Result struct {
	Source          string
	Output          string
	Algorithm       buildconfig.Algorithm
	OriginalBytes   int64
	CompressedBytes int64
	Ratio           float64
	// Skipped is set when no output was written
	Skipped string
}

type pass struct {
	buildconfig.CompressionPass
	test *regexp.Regexp
}

// Apply runs every pass over files. Files are processed concurrently,
// results are returned in file then pass order.
func Apply(ctx context.Context, files []string, passes []buildconfig.CompressionPass) ([]Result, error) {
	compiled := make([]pass, 0, len(passes))
	for _, p := range passes {
		test, err := regexp.Compile(p.Test)
		if err != nil {
			return nil, fmt.Errorf("invalid compression test %q: %w", p.Test, err)
		}
		compiled = append(compiled, pass{CompressionPass: p, test: test})
	}

	results := make([][]Result, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := compressFile(ctx, file, compiled)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []Result
	for _, res := range results {
		flat = append(flat, res...)
	}
	return flat, nil
}

func compressFile(ctx context.Context, file string, passes []pass) ([]Result, error) {
	log := zerolog.Ctx(ctx)

	var (
		data       []byte
		results    []Result
		deleteFile bool
	)

	for _, p := range passes {
		if !p.test.MatchString(file) {
			continue
		}

		if data == nil {
			var err error
			if data, err = os.ReadFile(file); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", file, err)
			}
		}

		res := Result{
			Source:        file,
			Algorithm:     p.Algorithm,
			OriginalBytes: int64(len(data)),
		}

		if res.OriginalBytes < p.Threshold {
			res.Skipped = "below threshold"
			results = append(results, res)
			continue
		}

		compressed, err := encode(p.Algorithm, p.Level, data)
		if err != nil {
			return nil, fmt.Errorf("failed to %s %s: %w", p.Algorithm, file, err)
		}

		res.CompressedBytes = int64(len(compressed))
		res.Ratio = float64(res.CompressedBytes) / float64(res.OriginalBytes)

		if res.Ratio > p.MinRatio {
			res.Skipped = "ratio above minimum"
			results = append(results, res)
			continue
		}

		res.Output = OutputName(p.Filename, file)
		if err := os.WriteFile(res.Output, compressed, 0o644); err != nil { //nolint:gosec
			return nil, fmt.Errorf("failed to write %s: %w", res.Output, err)
		}

		log.Debug().
			Str("file", file).
			Str("algorithm", string(p.Algorithm)).
			Int64("original_bytes", res.OriginalBytes).
			Int64("compressed_bytes", res.CompressedBytes).
			Float64("ratio", res.Ratio).
			Msg("Compressed asset")

		deleteFile = deleteFile || p.DeleteOriginal
		results = append(results, res)
	}

	if deleteFile {
		if err := os.Remove(file); err != nil {
			return nil, fmt.Errorf("failed to delete original %s: %w", file, err)
		}
	}

	return results, nil
}

// OutputName expands a filename template such as "[path].gz" for file
func OutputName(template, file string) string {
	name := strings.ReplaceAll(template, "[path]", file)
	return strings.ReplaceAll(name, "[query]", "")
}

func encode(algorithm buildconfig.Algorithm, level int, data []byte) ([]byte, error) {
	buf := new(bytes.Buffer)

	var w io.WriteCloser
	switch algorithm {
	case buildconfig.AlgorithmGzip:
		if level == 0 {
			level = gzip.BestCompression
		}
		gz, err := gzip.NewWriterLevel(buf, level)
		if err != nil {
			return nil, err
		}
		w = gz
	case buildconfig.AlgorithmBrotli:
		if level == 0 {
			level = brotli.BestCompression
		}
		w = brotli.NewWriterLevel(buf, level)
	case buildconfig.AlgorithmZstd:
		encoderLevel := zstd.SpeedBestCompression
		if level != 0 {
			encoderLevel = zstd.EncoderLevelFromZstd(level)
		}
		enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return nil, err
		}
		w = enc
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
