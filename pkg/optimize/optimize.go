// Package optimize is the top-level entry point: it decodes a GLB payload,
// runs the full optimization pipeline, and re-encodes the result together
// with a report of what each stage did.
package optimize

import (
	"context"
	"fmt"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/codec"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/meshcodec"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/pipeline"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/texture"
)

// Options tunes the pipeline. The zero value of every field selects the
// documented default, so Options{} behaves like DefaultOptions().
type Options struct {
	// MaxTextureSize bounds both texture axes. Default 1024.
	MaxTextureSize int `json:"maxTextureSize"`
	// TextureFormat is the recompression target: webp, jpeg, or png.
	// Default webp.
	TextureFormat string `json:"textureFormat"`
	// TextureQuality in [1, 100] for lossy targets. Default 80.
	TextureQuality int `json:"textureQuality"`
	// TextureWorkers bounds concurrent texture recompressions. Default 4.
	TextureWorkers int `json:"textureWorkers"`

	// PositionBits, NormalBits, and TexcoordBits set the geometry
	// quantization widths. Defaults 14, 10, and 12.
	PositionBits int `json:"positionBits"`
	NormalBits   int `json:"normalBits"`
	TexcoordBits int `json:"texcoordBits"`

	// WeldTolerance is the vertex merge distance. Default 1e-4.
	WeldTolerance float64 `json:"weldTolerance"`
}

// DefaultOptions returns the documented defaults spelled out.
func DefaultOptions() Options {
	q := meshcodec.DefaultParams()
	return Options{
		MaxTextureSize: 1024,
		TextureFormat:  string(texture.FormatWebP),
		TextureQuality: 80,
		TextureWorkers: 4,
		PositionBits:   q.PositionBits,
		NormalBits:     q.NormalBits,
		TexcoordBits:   q.TexcoordBits,
		WeldTolerance:  1e-4,
	}
}

// FileSize summarizes the size change of one optimization.
type FileSize struct {
	Original         int     `json:"original"`
	Optimized        int     `json:"optimized"`
	ReductionPercent float64 `json:"reductionPercent"`
}

// Report describes one optimization run. OptimizationLevel is the name of
// the deepest stage that applied; AppliedStages maps every stage name to
// whether it applied.
type Report struct {
	OptimizationLevel string          `json:"optimizationLevel"`
	FileSize          FileSize        `json:"fileSize"`
	AppliedStages     map[string]bool `json:"appliedStages"`
	Notes             []string        `json:"notes,omitempty"`
}

// Optimize runs the whole pipeline over one GLB payload. Stage failures
// degrade the result and show up in the report; the returned error is
// non-nil only when the input cannot be decoded, the output cannot be
// encoded, or the context is cancelled.
func Optimize(ctx context.Context, data []byte, opts Options) ([]byte, *Report, error) {
	format := texture.FormatWebP
	if opts.TextureFormat != "" {
		var err error
		if format, err = texture.ParseFormat(opts.TextureFormat); err != nil {
			return nil, nil, err
		}
	}

	params := meshcodec.DefaultParams()
	if opts.PositionBits != 0 {
		params.PositionBits = opts.PositionBits
	}
	if opts.NormalBits != 0 {
		params.NormalBits = opts.NormalBits
	}
	if opts.TexcoordBits != 0 {
		params.TexcoordBits = opts.TexcoordBits
	}

	doc, err := codec.Decode(data)
	if err != nil {
		return nil, nil, err
	}

	pl := pipeline.New(
		pipeline.DedupPass{},
		pipeline.PrunePass{},
		pipeline.ResamplePass{},
		pipeline.TexturePass{
			Transcoder: texture.ImageTranscoder{},
			Options: texture.Options{
				MaxDimension: opts.MaxTextureSize,
				Format:       format,
				Quality:      opts.TextureQuality,
			},
			Workers: opts.TextureWorkers,
		},
		pipeline.WeldPass{Tolerance: opts.WeldTolerance},
		pipeline.CompressPass{
			Codec:  meshcodec.QuantizedCodec{},
			Params: params,
		},
	)
	results, err := pl.Run(ctx, doc)
	if err != nil {
		return nil, nil, err
	}

	out, err := codec.Encode(doc)
	if err != nil {
		return nil, nil, err
	}

	return out, buildReport(results, len(data), len(out)), nil
}

func buildReport(results []pipeline.StageResult, original, optimized int) *Report {
	r := &Report{
		OptimizationLevel: pipeline.Level(results),
		FileSize: FileSize{
			Original:         original,
			Optimized:        optimized,
			ReductionPercent: reduction(original, optimized),
		},
		AppliedStages: make(map[string]bool, len(results)),
	}
	for _, s := range results {
		r.AppliedStages[s.Name] = s.Status == pipeline.StatusApplied
		switch {
		case s.Err != nil:
			r.Notes = append(r.Notes, fmt.Sprintf("%s failed: %v", s.Name, s.Err))
		case s.Reason != "":
			r.Notes = append(r.Notes, fmt.Sprintf("%s: %s", s.Name, s.Reason))
		}
	}
	return r
}

func reduction(original, optimized int) float64 {
	if original <= 0 {
		return 0
	}
	return 100 * float64(original-optimized) / float64(original)
}
