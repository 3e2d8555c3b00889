// Package texture re-encodes image payloads. It decodes PNG, JPEG, and
// WebP input, downscales to a bounded dimension with a quality-preserving
// filter, and re-encodes to a smaller target format. Resizing preserves
// aspect ratio and never upscales. When the target format has no alpha
// channel (JPEG), transparent pixels are composited over opaque white.
package texture

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg" // also registers the JPEG decoder
	"image/png"  // also registers the PNG decoder

	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/anthonynsimon/bild/transform"
	"github.com/chai2010/webp"
)

// Format is a target encoding for recompressed textures.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "webp":
		return FormatWebP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("unknown texture format %q", name)
}

// MIME returns the media type written into the image entity.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "image/webp"
	}
}

// Options controls one recompression.
type Options struct {
	// MaxDimension bounds both output axes. Zero means 1024.
	MaxDimension int
	// Format is the target encoding. Empty means WebP.
	Format Format
	// Quality in [1, 100] for lossy targets. Zero means 80.
	Quality int
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = 1024
	}
	if o.Format == "" {
		o.Format = FormatWebP
	}
	if o.Quality <= 0 {
		o.Quality = 80
	}
	return o
}

// Result is a recompressed payload.
type Result struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// RecompressionError reports a texture the transcoder could not convert.
// It is entity-scoped: one failing texture never fails the request.
type RecompressionError struct {
	Reason string
	Err    error
}

func (e *RecompressionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("texture recompression: %s: %v", e.Reason, e.Err)
	}
	return "texture recompression: " + e.Reason
}

func (e *RecompressionError) Unwrap() error { return e.Err }

// Transcoder converts image payloads. Availability is a runtime capability
// checked by the pipeline before the texture stage runs.
type Transcoder interface {
	Available() bool
	Recompress(data []byte, opts Options) (*Result, error)
}

// ImageTranscoder is the pure-Go Transcoder implementation.
type ImageTranscoder struct{}

// Available reports whether the transcoder can run in this process.
func (ImageTranscoder) Available() bool { return true }

// Recompress decodes, downscales, and re-encodes one image payload.
func (ImageTranscoder) Recompress(data []byte, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &RecompressionError{Reason: "decode source image", Err: err}
	}

	bounds := img.Bounds()
	w, h := fitDimensions(bounds.Dx(), bounds.Dy(), opts.MaxDimension)
	if w != bounds.Dx() || h != bounds.Dy() {
		img = transform.Resize(img, w, h, transform.Lanczos)
	}

	var out bytes.Buffer
	switch opts.Format {
	case FormatJPEG:
		err = jpeg.Encode(&out, flattenAlpha(img), &jpeg.Options{Quality: opts.Quality})
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&out, img)
	default:
		err = webp.Encode(&out, img, &webp.Options{Quality: float32(opts.Quality)})
	}
	if err != nil {
		return nil, &RecompressionError{Reason: fmt.Sprintf("encode %s", opts.Format), Err: err}
	}

	return &Result{
		Data:   out.Bytes(),
		MIME:   opts.Format.MIME(),
		Width:  w,
		Height: h,
	}, nil
}

// fitDimensions scales (w, h) down so both fit within limit, preserving
// aspect ratio. Images already within the limit keep their size: output
// dimensions never exceed min(input, limit) on either axis.
func fitDimensions(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		scaled := h * limit / w
		if scaled < 1 {
			scaled = 1
		}
		return limit, scaled
	}
	scaled := w * limit / h
	if scaled < 1 {
		scaled = 1
	}
	return scaled, limit
}

// flattenAlpha composites the image over opaque white for targets without
// an alpha channel.
func flattenAlpha(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Over)
	return out
}
