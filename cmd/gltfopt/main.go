// gltfopt - GLB model optimizer
// Deduplicates, prunes, resamples, recompresses, welds, and compresses a
// binary glTF file, then writes the optimized GLB next to a JSON report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/optimize"
)

var (
	outputPath    = flag.String("o", "", "Output path (default: <input>.opt.glb)")
	maxTexture    = flag.Int("max-texture", 1024, "Maximum texture dimension")
	textureFormat = flag.String("texture-format", "webp", "Texture target format (webp, jpeg, png)")
	quality       = flag.Int("quality", 80, "Texture quality for lossy formats (1-100)")
	positionBits  = flag.Int("position-bits", 14, "Position quantization bits (2-24)")
	normalBits    = flag.Int("normal-bits", 10, "Normal quantization bits (2-24)")
	texcoordBits  = flag.Int("texcoord-bits", 12, "Texture coordinate quantization bits (2-24)")
	weldTolerance = flag.Float64("weld-tolerance", 1e-4, "Vertex weld distance")
	workers       = flag.Int("workers", 4, "Concurrent texture recompressions")
	showReport    = flag.Bool("report", false, "Print the optimization report as JSON")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gltfopt - GLB model optimizer\n\n")
		fmt.Fprintf(os.Stderr, "Usage: gltfopt [options] <model.glb>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(inputPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}

	opts := optimize.DefaultOptions()
	opts.MaxTextureSize = *maxTexture
	opts.TextureFormat = *textureFormat
	opts.TextureQuality = *quality
	opts.TextureWorkers = *workers
	opts.PositionBits = *positionBits
	opts.NormalBits = *normalBits
	opts.TexcoordBits = *texcoordBits
	opts.WeldTolerance = *weldTolerance

	out, report, err := optimize.Optimize(ctx, data, opts)
	if err != nil {
		return fmt.Errorf("optimize (%s): %w", optimize.KindOf(err), err)
	}

	dest := *outputPath
	if dest == "" {
		dest = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".opt.glb"
	}
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}

	fmt.Printf("Optimized: %s (%d -> %d bytes, %.1f%% smaller, level %s)\n",
		dest, report.FileSize.Original, report.FileSize.Optimized,
		report.FileSize.ReductionPercent, report.OptimizationLevel)
	for _, note := range report.Notes {
		fmt.Printf("  %s\n", note)
	}

	if *showReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	}
	return nil
}
