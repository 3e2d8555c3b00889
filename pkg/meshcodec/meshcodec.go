// Package meshcodec implements a quantizing geometry codec. Vertex
// attribute streams are quantized to a requested bit width, delta-coded,
// and deflate-compressed together with a connectivity-aware index stream
// into a single self-describing blob. The transform is lossy with a
// bounded error: each reconstructed component differs from the original by
// at most half the quantization step, range/(2^bits - 1)/2 per component.
package meshcodec

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
)

// ExtensionName tags compressed primitives. The extension payload points at
// the buffer view holding the blob and records the quantization parameters.
const ExtensionName = "OPT_mesh_compression"

// The unmarshaler must be registered so decoded documents carry a typed
// *Extension instead of raw JSON; graph rewriting depends on reaching the
// blob's buffer view through it.
func init() {
	gltf.RegisterExtension(ExtensionName, func(data []byte) (any, error) {
		e := new(Extension)
		if err := json.Unmarshal(data, e); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// Params selects per-attribute quantization bit widths.
type Params struct {
	PositionBits int
	NormalBits   int
	TexcoordBits int
}

// DefaultParams returns the standard quantization widths: 14-bit positions,
// 10-bit normals, 12-bit texture coordinates.
func DefaultParams() Params {
	return Params{PositionBits: 14, NormalBits: 10, TexcoordBits: 12}
}

// Reduced returns a coarser parameter set for the retry after a failed
// compression attempt.
func (p Params) Reduced() Params {
	lower := func(bits int) int {
		if bits-4 < 8 {
			return 8
		}
		return bits - 4
	}
	return Params{
		PositionBits: lower(p.PositionBits),
		NormalBits:   lower(p.NormalBits),
		TexcoordBits: lower(p.TexcoordBits),
	}
}

func (p Params) validate() error {
	for _, bits := range []int{p.PositionBits, p.NormalBits, p.TexcoordBits} {
		if bits < 2 || bits > 24 {
			return &CompressionError{Reason: fmt.Sprintf("quantization width %d out of range [2, 24]", bits)}
		}
	}
	return nil
}

// Primitive holds one drawable's attribute and index streams in the shape
// the codec works on. Normals and TexCoords may be nil; Indices must
// address Positions.
type Primitive struct {
	Positions [][3]float32
	Normals   [][3]float32
	TexCoords [][2]float32
	Indices   []uint32
	Mode      uint8
}

// CompressionError reports a primitive the codec cannot represent.
type CompressionError struct {
	Reason string
	Err    error
}

func (e *CompressionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mesh compression: %s: %v", e.Reason, e.Err)
	}
	return "mesh compression: " + e.Reason
}

func (e *CompressionError) Unwrap() error { return e.Err }

// Codec compresses and decompresses primitives. Availability is a runtime
// capability: a pipeline stage checks it before attempting compression
// instead of treating absence as a failure.
type Codec interface {
	Available() bool
	Compress(prim *Primitive, params Params) ([]byte, error)
	Decompress(blob []byte) (*Primitive, error)
}

// Extension is the JSON payload attached to a compressed primitive.
type Extension struct {
	BufferView   *int `json:"bufferView"`
	VertexCount  int  `json:"vertexCount"`
	IndexCount   int  `json:"indexCount"`
	PositionBits int  `json:"positionBits"`
	NormalBits   int  `json:"normalBits,omitempty"`
	TexcoordBits int  `json:"texcoordBits,omitempty"`
}

// ViewIndex exposes the blob's buffer view reference for graph rewriting.
func (e *Extension) ViewIndex() *int { return e.BufferView }

// quantizer maps float components into [0, 2^bits-1] fixed point over the
// observed range of each component.
type quantizer struct {
	bits int
	min  []float32
	rng  []float32
}

func newQuantizer(bits, components int) *quantizer {
	return &quantizer{
		bits: bits,
		min:  make([]float32, components),
		rng:  make([]float32, components),
	}
}

func (q *quantizer) maxQ() float64 { return float64(uint32(1)<<q.bits - 1) }

// fit computes per-component bounds. data is flat component-major input.
func (q *quantizer) fit(data []float32, components int) error {
	for c := range q.min {
		q.min[c] = math.MaxFloat32
		q.rng[c] = -math.MaxFloat32
	}
	for i, v := range data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return &CompressionError{Reason: fmt.Sprintf("non-finite component at %d", i)}
		}
		c := i % components
		q.min[c] = min(q.min[c], v)
		q.rng[c] = max(q.rng[c], v)
	}
	for c := range q.rng {
		q.rng[c] -= q.min[c]
	}
	return nil
}

func (q *quantizer) quantize(v float32, c int) uint32 {
	if q.rng[c] <= 0 {
		return 0
	}
	t := float64(v-q.min[c]) / float64(q.rng[c])
	return uint32(math.Round(t * q.maxQ()))
}

func (q *quantizer) dequantize(u uint32, c int) float32 {
	if q.rng[c] <= 0 {
		return q.min[c]
	}
	return q.min[c] + float32(float64(u)/q.maxQ()*float64(q.rng[c]))
}

// Step returns the quantization step for a component, which bounds the
// reconstruction error at Step/2.
func (q *quantizer) Step(c int) float64 {
	if q.rng[c] <= 0 {
		return 0
	}
	return float64(q.rng[c]) / q.maxQ()
}
