package pipeline

import (
	"context"
	"testing"

	"github.com/qmuntal/gltf"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
)

// animDoc builds a document with one animation sampler over the given
// keyframes, targeting the scene root.
func animDoc(times, values []float32, outType gltf.AccessorType, interp gltf.Interpolation, path gltf.TRSProperty) *gltf.Document {
	doc := trianglePrimDoc([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, nil, nil, nil)
	input := document.WriteFloatAccessor(doc, gltf.AccessorScalar, times)
	output := document.WriteFloatAccessor(doc, outType, values)
	doc.Animations = []*gltf.Animation{{
		Channels: []*gltf.AnimationChannel{{
			Sampler: 0,
			Target:  gltf.AnimationChannelTarget{Node: gltf.Index(0), Path: path},
		}},
		Samplers: []*gltf.AnimationSampler{{
			Input:         input,
			Output:        output,
			Interpolation: interp,
		}},
	}}
	return doc
}

func samplerKeyframes(t *testing.T, doc *gltf.Document) ([]float32, []float32) {
	t.Helper()
	s := doc.Animations[0].Samplers[0]
	times, err := document.ReadFloats(doc, doc.Accessors[s.Input])
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	values, err := document.ReadFloats(doc, doc.Accessors[s.Output])
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return times, values
}

func TestResampleCollapsesColinearKeyframes(t *testing.T) {
	// Five keyframes on a straight line from (0,0,0) to (4,8,0).
	times := []float32{0, 1, 2, 3, 4}
	values := []float32{
		0, 0, 0,
		1, 2, 0,
		2, 4, 0,
		3, 6, 0,
		4, 8, 0,
	}
	doc := animDoc(times, values, gltf.AccessorVec3, gltf.InterpolationLinear, gltf.TRSTranslation)

	res := ResamplePass{}.Apply(context.Background(), doc)
	if res.Status != StatusApplied {
		t.Fatalf("status = %v (%v), want applied", res.Status, res.Err)
	}

	gotTimes, gotValues := samplerKeyframes(t, doc)
	if len(gotTimes) != 2 {
		t.Fatalf("keyframe count = %d, want 2", len(gotTimes))
	}
	if gotTimes[0] != 0 || gotTimes[1] != 4 {
		t.Errorf("times = %v, want [0 4]", gotTimes)
	}
	want := []float32{0, 0, 0, 4, 8, 0}
	for i := range want {
		if gotValues[i] != want[i] {
			t.Errorf("value %d = %v, want %v", i, gotValues[i], want[i])
		}
	}
}

func TestResampleKeepsCurvedKeyframes(t *testing.T) {
	times := []float32{0, 1, 2}
	values := []float32{
		0, 0, 0,
		1, 5, 0, // far off the straight line between neighbors
		2, 0, 0,
	}
	doc := animDoc(times, values, gltf.AccessorVec3, gltf.InterpolationLinear, gltf.TRSTranslation)

	res := ResamplePass{}.Apply(context.Background(), doc)
	if res.Status != StatusApplied {
		t.Fatalf("status = %v (%v), want applied", res.Status, res.Err)
	}
	gotTimes, _ := samplerKeyframes(t, doc)
	if len(gotTimes) != 3 {
		t.Errorf("keyframe count = %d, want all 3 kept", len(gotTimes))
	}
}

func TestResampleStepRuns(t *testing.T) {
	times := []float32{0, 1, 2, 3, 4}
	values := []float32{1, 1, 1, 5, 5}
	doc := animDoc(times, values, gltf.AccessorScalar, gltf.InterpolationStep, gltf.TRSWeights)

	res := ResamplePass{}.Apply(context.Background(), doc)
	if res.Status != StatusApplied {
		t.Fatalf("status = %v (%v), want applied", res.Status, res.Err)
	}
	gotTimes, gotValues := samplerKeyframes(t, doc)
	// The run of 1s collapses, the transition keyframe and tail survive.
	if len(gotTimes) != 3 {
		t.Fatalf("keyframe count = %d, want 3, values %v", len(gotTimes), gotValues)
	}
	if gotTimes[1] != 3 {
		t.Errorf("transition time = %v, want 3", gotTimes[1])
	}
}

func TestResampleSkipsCubicSpline(t *testing.T) {
	// Cubic output holds in-tangent, value, out-tangent per keyframe.
	times := []float32{0, 1, 2, 3, 4}
	values := make([]float32, len(times)*9)
	doc := animDoc(times, values, gltf.AccessorVec3, gltf.InterpolationCubicSpline, gltf.TRSTranslation)

	before := doc.Animations[0].Samplers[0].Input
	res := ResamplePass{}.Apply(context.Background(), doc)
	if res.Status != StatusApplied {
		t.Fatalf("status = %v (%v), want applied", res.Status, res.Err)
	}
	if got := doc.Animations[0].Samplers[0].Input; got != before {
		t.Errorf("cubic-spline sampler was rewritten: input %d -> %d", before, got)
	}
}

func TestResampleRotationIdentityRun(t *testing.T) {
	times := []float32{0, 1, 2, 3}
	// Constant identity quaternion (x, y, z, w).
	values := []float32{
		0, 0, 0, 1,
		0, 0, 0, 1,
		0, 0, 0, 1,
		0, 0, 0, 1,
	}
	doc := animDoc(times, values, gltf.AccessorVec4, gltf.InterpolationLinear, gltf.TRSRotation)

	res := ResamplePass{}.Apply(context.Background(), doc)
	if res.Status != StatusApplied {
		t.Fatalf("status = %v (%v), want applied", res.Status, res.Err)
	}
	gotTimes, _ := samplerKeyframes(t, doc)
	if len(gotTimes) != 2 {
		t.Errorf("keyframe count = %d, want 2", len(gotTimes))
	}
}

func TestResampleSkipsWithoutAnimations(t *testing.T) {
	doc := trianglePrimDoc([][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, nil, nil, nil)
	res := ResamplePass{}.Apply(context.Background(), doc)
	if res.Status != StatusSkipped {
		t.Errorf("status = %v, want skipped", res.Status)
	}
}
