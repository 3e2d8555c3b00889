package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/qmuntal/gltf"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/meshcodec"
)

// failingCodec reports availability but rejects every primitive.
type failingCodec struct{ available bool }

func (c failingCodec) Available() bool { return c.available }

func (failingCodec) Compress(*meshcodec.Primitive, meshcodec.Params) ([]byte, error) {
	return nil, &meshcodec.CompressionError{Reason: "rejected"}
}

func (failingCodec) Decompress([]byte) (*meshcodec.Primitive, error) {
	return nil, &meshcodec.CompressionError{Reason: "rejected"}
}

func TestCompressAttachesExtension(t *testing.T) {
	positions := [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}}
	doc := trianglePrimDoc(positions, nil, nil, []uint16{0, 1, 2, 1, 3, 2})

	res := CompressPass{Codec: meshcodec.QuantizedCodec{}}.Apply(context.Background(), doc)
	if res.Status != StatusApplied {
		t.Fatalf("status = %v (%v), want applied", res.Status, res.Err)
	}

	prim := doc.Meshes[0].Primitives[0]
	ext, ok := prim.Extensions[meshcodec.ExtensionName].(*meshcodec.Extension)
	if !ok {
		t.Fatalf("extension payload = %T, want *meshcodec.Extension", prim.Extensions[meshcodec.ExtensionName])
	}
	if ext.BufferView == nil {
		t.Fatal("extension has no buffer view")
	}
	if ext.VertexCount != 4 || ext.IndexCount != 6 {
		t.Errorf("counts = %d/%d, want 4/6", ext.VertexCount, ext.IndexCount)
	}

	// The raw streams were exclusively owned and should be detached.
	if bv := doc.Accessors[prim.Attributes[gltf.POSITION]].BufferView; bv != nil {
		t.Error("position accessor still references its buffer view")
	}

	found := false
	for _, name := range doc.ExtensionsUsed {
		if name == meshcodec.ExtensionName {
			found = true
		}
	}
	if !found {
		t.Error("extension not registered in extensionsUsed")
	}

	// The blob must round-trip through the codec.
	blob, err := document.ViewBytes(doc, doc.BufferViews[*ext.BufferView])
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	got, err := meshcodec.QuantizedCodec{}.Decompress(blob)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(got.Positions) != len(positions) {
		t.Fatalf("vertex count = %d, want %d", len(got.Positions), len(positions))
	}
	for i := range positions {
		for c := 0; c < 3; c++ {
			if d := math.Abs(float64(got.Positions[i][c] - positions[i][c])); d > 1e-3 {
				t.Errorf("position %d component %d off by %g", i, c, d)
			}
		}
	}
}

func TestCompressSkipsWithoutCodec(t *testing.T) {
	doc := trianglePrimDoc([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, nil, nil, nil)

	if res := (CompressPass{}).Apply(context.Background(), doc); res.Status != StatusSkipped {
		t.Errorf("nil codec: status = %v, want skipped", res.Status)
	}
	if res := (CompressPass{Codec: failingCodec{available: false}}).Apply(context.Background(), doc); res.Status != StatusSkipped {
		t.Errorf("unavailable codec: status = %v, want skipped", res.Status)
	}
}

func TestCompressFailsWhenEveryPrimitiveRejected(t *testing.T) {
	doc := trianglePrimDoc([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, nil, nil, nil)

	res := CompressPass{Codec: failingCodec{available: true}}.Apply(context.Background(), doc)
	if res.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	var ce *meshcodec.CompressionError
	if !errors.As(res.Err, &ce) {
		t.Errorf("err = %v, want CompressionError", res.Err)
	}
	if len(doc.ExtensionsUsed) != 0 {
		t.Error("extension registered despite total failure")
	}
}

func TestCompressSkipsIneligiblePrimitives(t *testing.T) {
	doc := trianglePrimDoc([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, nil, nil, nil)
	doc.Meshes[0].Primitives[0].Mode = gltf.PrimitiveLines

	res := CompressPass{Codec: meshcodec.QuantizedCodec{}}.Apply(context.Background(), doc)
	if res.Status != StatusSkipped {
		t.Errorf("status = %v, want skipped for non-triangle primitive", res.Status)
	}
}
