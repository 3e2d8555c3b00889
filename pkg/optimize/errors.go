package optimize

import (
	"errors"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/codec"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/meshcodec"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/pipeline"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/texture"
)

// ErrorKind buckets errors by the layer that produced them, so callers can
// pick a response (reject the upload, retry, report a degraded result)
// without matching on concrete types.
type ErrorKind string

const (
	// ErrDecode: the input is not a well-formed GLB document.
	ErrDecode ErrorKind = "decode"
	// ErrStage: a pipeline stage failed on valid input.
	ErrStage ErrorKind = "stage"
	// ErrCompression: the geometry codec rejected a primitive.
	ErrCompression ErrorKind = "compression"
	// ErrRecompression: a texture could not be converted.
	ErrRecompression ErrorKind = "recompression"
	// ErrEncode: the optimized document could not be serialized.
	ErrEncode ErrorKind = "encode"
	// ErrInternal: anything else, including context cancellation.
	ErrInternal ErrorKind = "internal"
)

// KindOf classifies an error from Optimize. Codec and texture errors are
// checked before the generic stage wrapper so a compression failure
// surfaced through a stage keeps its specific kind.
func KindOf(err error) ErrorKind {
	var de *codec.DecodeError
	if errors.As(err, &de) {
		return ErrDecode
	}
	var ee *codec.EncodeError
	if errors.As(err, &ee) {
		return ErrEncode
	}
	var ce *meshcodec.CompressionError
	if errors.As(err, &ce) {
		return ErrCompression
	}
	var re *texture.RecompressionError
	if errors.As(err, &re) {
		return ErrRecompression
	}
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return ErrStage
	}
	return ErrInternal
}
