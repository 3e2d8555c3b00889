package meshcodec

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// testPrimitive builds an indexed grid with positions, normals, and
// texture coordinates in known ranges.
func testPrimitive(nx, ny int) *Primitive {
	p := &Primitive{Mode: 4}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			fx := float32(x) / float32(nx-1)
			fy := float32(y) / float32(ny-1)
			p.Positions = append(p.Positions, [3]float32{fx*10 - 5, fy*4 - 2, fx * fy})
			p.Normals = append(p.Normals, [3]float32{0, 0, 1})
			p.TexCoords = append(p.TexCoords, [2]float32{fx, fy})
		}
	}
	for y := 0; y < ny-1; y++ {
		for x := 0; x < nx-1; x++ {
			a := uint32(y*nx + x)
			b := a + 1
			c := a + uint32(nx)
			d := c + 1
			p.Indices = append(p.Indices, a, b, c, b, d, c)
		}
	}
	return p
}

// attrBounds returns per-component min and range for a flat stream.
func attrBounds(data []float32, components int) (mins, rngs []float64) {
	mins = make([]float64, components)
	rngs = make([]float64, components)
	for c := range mins {
		mins[c] = math.Inf(1)
		rngs[c] = math.Inf(-1)
	}
	for i, v := range data {
		c := i % components
		mins[c] = math.Min(mins[c], float64(v))
		rngs[c] = math.Max(rngs[c], float64(v))
	}
	for c := range rngs {
		rngs[c] -= mins[c]
	}
	return mins, rngs
}

func TestCompressRoundTripErrorBound(t *testing.T) {
	codec := QuantizedCodec{}
	src := testPrimitive(17, 9)
	params := DefaultParams()

	blob, err := codec.Compress(src, params)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := codec.Decompress(blob)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	if got.Mode != src.Mode {
		t.Errorf("mode = %d, want %d", got.Mode, src.Mode)
	}
	if len(got.Positions) != len(src.Positions) {
		t.Fatalf("vertex count = %d, want %d", len(got.Positions), len(src.Positions))
	}
	if len(got.Indices) != len(src.Indices) {
		t.Fatalf("index count = %d, want %d", len(got.Indices), len(src.Indices))
	}
	for i := range src.Indices {
		if got.Indices[i] != src.Indices[i] {
			t.Fatalf("index %d = %d, want %d", i, got.Indices[i], src.Indices[i])
		}
	}

	checkBound := func(name string, srcFlat, gotFlat []float32, components, bits int) {
		t.Helper()
		_, rngs := attrBounds(srcFlat, components)
		maxQ := float64(uint32(1)<<bits - 1)
		for i := range srcFlat {
			c := i % components
			step := rngs[c] / maxQ
			d := math.Abs(float64(gotFlat[i] - srcFlat[i]))
			// Half a quantization step, with a little float32 slack.
			if d > step/2+1e-6 {
				t.Fatalf("%s component %d error %g exceeds step/2 = %g", name, i, d, step/2)
			}
		}
	}
	checkBound("position", flatten3(src.Positions), flatten3(got.Positions), 3, params.PositionBits)
	checkBound("normal", flatten3(src.Normals), flatten3(got.Normals), 3, params.NormalBits)
	checkBound("texcoord", flatten2(src.TexCoords), flatten2(got.TexCoords), 2, params.TexcoordBits)
}

func TestCompressRandomIndexOrder(t *testing.T) {
	codec := QuantizedCodec{}
	src := testPrimitive(8, 8)
	rnd := rand.New(rand.NewSource(7))
	for i := range src.Indices {
		src.Indices[i] = uint32(rnd.Intn(len(src.Positions)))
	}

	blob, err := codec.Compress(src, DefaultParams())
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := codec.Decompress(blob)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	for i := range src.Indices {
		if got.Indices[i] != src.Indices[i] {
			t.Fatalf("index %d = %d, want %d", i, got.Indices[i], src.Indices[i])
		}
	}
}

func TestCompressConstantAttribute(t *testing.T) {
	codec := QuantizedCodec{}
	src := &Primitive{
		Positions: [][3]float32{{1, 2, 3}, {1, 2, 3}, {1, 2, 3}},
		Indices:   []uint32{0, 1, 2},
		Mode:      4,
	}
	blob, err := codec.Compress(src, DefaultParams())
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := codec.Decompress(blob)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	for i, p := range got.Positions {
		if p != src.Positions[i] {
			t.Errorf("position %d = %v, want %v", i, p, src.Positions[i])
		}
	}
}

func TestCompressRejectsBadInput(t *testing.T) {
	codec := QuantizedCodec{}
	nan := float32(math.NaN())

	tests := []struct {
		name string
		prim *Primitive
	}{
		{"no positions", &Primitive{}},
		{"non-finite position", &Primitive{Positions: [][3]float32{{nan, 0, 0}}}},
		{"index out of range", &Primitive{Positions: [][3]float32{{0, 0, 0}}, Indices: []uint32{5}}},
		{"normal count mismatch", &Primitive{
			Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}},
			Normals:   [][3]float32{{0, 0, 1}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Compress(tc.prim, DefaultParams())
			var ce *CompressionError
			if !errors.As(err, &ce) {
				t.Errorf("err = %v, want CompressionError", err)
			}
		})
	}
}

func TestCompressRejectsBadParams(t *testing.T) {
	codec := QuantizedCodec{}
	src := testPrimitive(3, 3)
	_, err := codec.Compress(src, Params{PositionBits: 1, NormalBits: 10, TexcoordBits: 12})
	var ce *CompressionError
	if !errors.As(err, &ce) {
		t.Errorf("err = %v, want CompressionError", err)
	}
}

func TestDecompressGarbage(t *testing.T) {
	codec := QuantizedCodec{}
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"wrong magic", []byte("glTF blob here")},
		{"truncated header", []byte("OMC1")},
		{"truncated payload", append([]byte("OMC1"), 4, 0, 1, 0, 0, 0, 0, 0, 0, 0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Decompress(tc.blob)
			var ce *CompressionError
			if !errors.As(err, &ce) {
				t.Errorf("err = %v, want CompressionError", err)
			}
		})
	}
}

func TestParamsReduced(t *testing.T) {
	p := DefaultParams().Reduced()
	if p.PositionBits != 10 || p.NormalBits != 8 || p.TexcoordBits != 8 {
		t.Errorf("Reduced() = %+v, want 10/8/8", p)
	}
	again := p.Reduced()
	if again.PositionBits != 8 {
		t.Errorf("second reduction position bits = %d, want floor of 8", again.PositionBits)
	}
}

func TestZigzagRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 127, -128, 1 << 30, -(1 << 30)} {
		if got := unzigzag(zigzag(v)); got != v {
			t.Errorf("unzigzag(zigzag(%d)) = %d", v, got)
		}
	}
}
