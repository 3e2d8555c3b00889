package optimize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/codec"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/meshcodec"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/pipeline"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/texture"
)

// testGLB builds a GLB with duplicated vertices, an embedded PNG texture,
// and a reducible animation, so every pipeline stage has work to do.
func testGLB(t *testing.T) []byte {
	t.Helper()
	doc := &gltf.Document{Asset: gltf.Asset{Version: "2.0"}}

	// A quad as two triangles with the shared edge duplicated.
	positions := [][3]float32{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0},
		{1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	}
	texcoords := [][2]float32{
		{0, 0}, {1, 0}, {0, 1},
		{1, 0}, {1, 1}, {0, 1},
	}
	pos := modeler.WritePosition(doc, positions)
	uv := modeler.WriteTextureCoord(doc, texcoords)
	idx := modeler.WriteIndices(doc, []uint16{0, 1, 2, 3, 4, 5})

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	rnd := rand.New(rand.NewSource(1))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rnd.Intn(256)), G: uint8(rnd.Intn(256)), B: uint8(rnd.Intn(256)), A: 255,
			})
		}
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("encode fixture png: %v", err)
	}
	view := document.AddView(doc, pngBuf.Bytes(), 0)
	doc.Images = []*gltf.Image{{BufferView: gltf.Index(view), MimeType: "image/png"}}
	doc.Samplers = []*gltf.Sampler{{}}
	doc.Textures = []*gltf.Texture{{Source: gltf.Index(0), Sampler: gltf.Index(0)}}
	doc.Materials = []*gltf.Material{{
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorTexture: &gltf.TextureInfo{Index: 0},
		},
	}}

	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: pos, gltf.TEXCOORD_0: uv},
		Indices:    gltf.Index(idx),
		Material:   gltf.Index(0),
		Mode:       gltf.PrimitiveTriangles,
	}}}}
	doc.Nodes = []*gltf.Node{{Mesh: gltf.Index(0)}}
	doc.Scenes = []*gltf.Scene{{Nodes: []int{0}}}
	doc.Scene = gltf.Index(0)

	// Co-linear translation track: resample can reduce it losslessly.
	input := document.WriteFloatAccessor(doc, gltf.AccessorScalar, []float32{0, 1, 2, 3, 4})
	output := document.WriteFloatAccessor(doc, gltf.AccessorVec3, []float32{
		0, 0, 0, 1, 0, 0, 2, 0, 0, 3, 0, 0, 4, 0, 0,
	})
	doc.Animations = []*gltf.Animation{{
		Channels: []*gltf.AnimationChannel{{
			Sampler: 0,
			Target:  gltf.AnimationChannelTarget{Node: gltf.Index(0), Path: gltf.TRSTranslation},
		}},
		Samplers: []*gltf.AnimationSampler{{
			Input:         input,
			Output:        output,
			Interpolation: gltf.InterpolationLinear,
		}},
	}}

	data, err := codec.Encode(doc)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return data
}

func TestOptimizeEndToEnd(t *testing.T) {
	input := testGLB(t)
	out, report, err := Optimize(context.Background(), input, Options{})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	if report.FileSize.Original != len(input) {
		t.Errorf("original size = %d, want %d", report.FileSize.Original, len(input))
	}
	if report.FileSize.Optimized != len(out) {
		t.Errorf("optimized size = %d, want %d", report.FileSize.Optimized, len(out))
	}
	wantReduction := 100 * float64(len(input)-len(out)) / float64(len(input))
	if report.FileSize.ReductionPercent != wantReduction {
		t.Errorf("reduction = %v, want %v", report.FileSize.ReductionPercent, wantReduction)
	}

	for _, stage := range []string{"dedup", "prune", "resample", "weld", "compress"} {
		if !report.AppliedStages[stage] {
			t.Errorf("stage %s not applied; notes: %v", stage, report.Notes)
		}
	}
	if report.OptimizationLevel != "compress" {
		t.Errorf("level = %q, want compress", report.OptimizationLevel)
	}

	doc, err := codec.Decode(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	found := false
	for _, name := range doc.ExtensionsRequired {
		if name == meshcodec.ExtensionName {
			found = true
		}
	}
	if !found {
		t.Error("output does not require the mesh compression extension")
	}
}

func TestOptimizeOutputSurvivesReoptimization(t *testing.T) {
	first, _, err := Optimize(context.Background(), testGLB(t), Options{})
	if err != nil {
		t.Fatalf("first Optimize: %v", err)
	}
	second, _, err := Optimize(context.Background(), first, Options{})
	if err != nil {
		t.Fatalf("second Optimize: %v", err)
	}

	doc, err := codec.Decode(second)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	for mi, m := range doc.Meshes {
		for pi, prim := range m.Primitives {
			ext, ok := prim.Extensions[meshcodec.ExtensionName].(*meshcodec.Extension)
			if !ok {
				t.Fatalf("mesh %d primitive %d: extension payload = %T, want *meshcodec.Extension",
					mi, pi, prim.Extensions[meshcodec.ExtensionName])
			}
			if ext.BufferView == nil || *ext.BufferView < 0 || *ext.BufferView >= len(doc.BufferViews) {
				t.Fatalf("mesh %d primitive %d: blob view = %v of %d views", mi, pi, ext.BufferView, len(doc.BufferViews))
			}
			blob, err := document.ViewBytes(doc, doc.BufferViews[*ext.BufferView])
			if err != nil {
				t.Fatalf("read blob: %v", err)
			}
			if _, err := (meshcodec.QuantizedCodec{}).Decompress(blob); err != nil {
				t.Errorf("mesh %d primitive %d: blob no longer decompresses: %v", mi, pi, err)
			}
		}
	}
}

// sharedMaterialGLB builds a GLB with two meshes carrying byte-identical
// materials over one oversized noise texture.
func sharedMaterialGLB(t *testing.T) []byte {
	t.Helper()
	doc := &gltf.Document{Asset: gltf.Asset{Version: "2.0"}}

	img := image.NewRGBA(image.Rect(0, 0, 1400, 700))
	rnd := rand.New(rand.NewSource(2))
	for y := 0; y < 700; y++ {
		for x := 0; x < 1400; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(rnd.Intn(256)), G: uint8(rnd.Intn(256)), B: uint8(rnd.Intn(256)), A: 255,
			})
		}
	}
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("encode fixture png: %v", err)
	}
	view := document.AddView(doc, pngBuf.Bytes(), 0)
	doc.Images = []*gltf.Image{{BufferView: gltf.Index(view), MimeType: "image/png"}}
	doc.Samplers = []*gltf.Sampler{{}}
	doc.Textures = []*gltf.Texture{{Source: gltf.Index(0), Sampler: gltf.Index(0)}}
	for i := 0; i < 2; i++ {
		doc.Materials = append(doc.Materials, &gltf.Material{
			PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
				BaseColorTexture: &gltf.TextureInfo{Index: 0},
			},
		})
	}

	positions := [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	texcoords := [][2]float32{{0, 0}, {1, 0}, {0, 1}}
	for i := 0; i < 2; i++ {
		pos := modeler.WritePosition(doc, positions)
		uv := modeler.WriteTextureCoord(doc, texcoords)
		doc.Meshes = append(doc.Meshes, &gltf.Mesh{Primitives: []*gltf.Primitive{{
			Attributes: map[string]int{gltf.POSITION: pos, gltf.TEXCOORD_0: uv},
			Material:   gltf.Index(i),
			Mode:       gltf.PrimitiveTriangles,
		}}})
		doc.Nodes = append(doc.Nodes, &gltf.Node{Mesh: gltf.Index(i)})
	}
	doc.Scenes = []*gltf.Scene{{Nodes: []int{0, 1}}}
	doc.Scene = gltf.Index(0)

	data, err := codec.Encode(doc)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return data
}

func TestOptimizeDedupsMaterialsAndShrinksTextures(t *testing.T) {
	input := sharedMaterialGLB(t)
	out, report, err := Optimize(context.Background(), input, Options{})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(out) >= len(input) {
		t.Errorf("output size = %d, want smaller than %d", len(out), len(input))
	}
	if !report.AppliedStages["textures"] {
		t.Errorf("textures stage not applied; notes: %v", report.Notes)
	}

	doc, err := codec.Decode(out)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(doc.Materials) != 1 {
		t.Errorf("material count = %d, want 1", len(doc.Materials))
	}
	if len(doc.Images) != 1 {
		t.Fatalf("image count = %d, want 1", len(doc.Images))
	}
	payload, err := document.ImageBytes(doc, doc.Images[0])
	if err != nil {
		t.Fatalf("ImageBytes: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("decode output image: %v", err)
	}
	if format != "webp" {
		t.Errorf("output image format = %q, want webp", format)
	}
	if cfg.Width > 1024 || cfg.Height > 1024 {
		t.Errorf("output image = %dx%d, want both axes <= 1024", cfg.Width, cfg.Height)
	}
}

func TestOptimizeRejectsGarbage(t *testing.T) {
	_, _, err := Optimize(context.Background(), []byte("not a model"), Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := KindOf(err); kind != ErrDecode {
		t.Errorf("kind = %v, want %v", kind, ErrDecode)
	}
}

func TestOptimizeRejectsUnknownTextureFormat(t *testing.T) {
	_, _, err := Optimize(context.Background(), testGLB(t), Options{TextureFormat: "tiff"})
	if err == nil {
		t.Error("expected error for unknown texture format")
	}
}

func TestOptimizeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Optimize(ctx, testGLB(t), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"decode", &codec.DecodeError{Reason: "x"}, ErrDecode},
		{"encode", &codec.EncodeError{Reason: "x"}, ErrEncode},
		{"compression via stage", &pipeline.StageError{
			Stage: "compress", Err: &meshcodec.CompressionError{Reason: "x"},
		}, ErrCompression},
		{"recompression via stage", &pipeline.StageError{
			Stage: "textures", Err: &texture.RecompressionError{Reason: "x"},
		}, ErrRecompression},
		{"bare stage", &pipeline.StageError{Stage: "weld", Err: errors.New("x")}, ErrStage},
		{"other", errors.New("x"), ErrInternal},
		{"nil", nil, ErrInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.MaxTextureSize != 1024 || opts.TextureFormat != "webp" || opts.TextureQuality != 80 {
		t.Errorf("texture defaults = %+v", opts)
	}
	if opts.PositionBits != 14 || opts.NormalBits != 10 || opts.TexcoordBits != 12 {
		t.Errorf("quantization defaults = %+v", opts)
	}
}
