package pipeline

import (
	"context"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
)

// ResamplePass reduces animation keyframes to a minimal set that
// reproduces the sampled curve within a tolerance. Runs of co-linear
// keyframes reduce losslessly. Rotation channels are compared by
// quaternion dot product after slerp, everything else componentwise.
// Cubic-spline samplers are left untouched.
type ResamplePass struct {
	// Tolerance is the maximum reconstruction deviation. Zero means 1e-4.
	Tolerance float64
}

func (ResamplePass) Name() string { return "resample" }

func (p ResamplePass) Apply(ctx context.Context, doc *gltf.Document) Result {
	if len(doc.Animations) == 0 {
		return Skipped("no animations")
	}
	tol := p.Tolerance
	if tol <= 0 {
		tol = 1e-4
	}

	changed := false
	for _, an := range doc.Animations {
		rotation := make(map[int]bool)
		for _, c := range an.Channels {
			if c.Target.Path == gltf.TRSRotation {
				rotation[c.Sampler] = true
			}
		}
		for si, s := range an.Samplers {
			if resampleSampler(doc, s, rotation[si], tol) {
				changed = true
			}
		}
	}

	if !changed {
		return Applied()
	}
	if err := document.SweepData(doc); err != nil {
		return Failed(fmt.Errorf("sweep orphaned keyframes: %w", err))
	}
	return Applied()
}

// resampleSampler rewrites one animation sampler in place when its
// keyframe set can shrink. Unreadable or unusual samplers are skipped,
// never failed: resampling is an optimization, not a requirement.
func resampleSampler(doc *gltf.Document, s *gltf.AnimationSampler, rotation bool, tol float64) bool {
	if s.Interpolation == gltf.InterpolationCubicSpline {
		return false
	}
	if s.Input < 0 || s.Input >= len(doc.Accessors) || s.Output < 0 || s.Output >= len(doc.Accessors) {
		return false
	}
	in, out := doc.Accessors[s.Input], doc.Accessors[s.Output]
	if in.Type != gltf.AccessorScalar || in.ComponentType != gltf.ComponentFloat {
		return false
	}
	if out.ComponentType != gltf.ComponentFloat {
		return false
	}

	times, err := document.ReadFloats(doc, in)
	if err != nil || len(times) < 3 {
		return false
	}
	values, err := document.ReadFloats(doc, out)
	if err != nil || len(values)%len(times) != 0 {
		return false
	}
	comps := len(values) / len(times)
	if comps == 0 {
		return false
	}

	keep := reduceKeyframes(times, values, comps, s.Interpolation, rotation && comps == 4, tol)
	if len(keep) >= len(times) {
		return false
	}

	newTimes := make([]float32, 0, len(keep))
	newValues := make([]float32, 0, len(keep)*comps)
	for _, i := range keep {
		newTimes = append(newTimes, times[i])
		newValues = append(newValues, values[i*comps:(i+1)*comps]...)
	}
	s.Input = document.WriteFloatAccessor(doc, gltf.AccessorScalar, newTimes)
	s.Output = document.WriteFloatAccessor(doc, out.Type, newValues)
	return true
}

// reduceKeyframes greedily extends each kept window as long as every
// interior keyframe is reproducible from the window endpoints.
func reduceKeyframes(times, values []float32, comps int, interp gltf.Interpolation, rotation bool, tol float64) []int {
	n := len(times)
	keep := []int{0}
	k := 0
	for k < n-1 {
		j := k + 1
		for j+1 <= n-1 && windowReproducible(times, values, comps, k, j+1, interp, rotation, tol) {
			j++
		}
		keep = append(keep, j)
		k = j
	}
	return keep
}

// windowReproducible reports whether every keyframe strictly between a and
// b is reconstructed within tol by interpolating the endpoint values.
func windowReproducible(times, values []float32, comps, a, b int, interp gltf.Interpolation, rotation bool, tol float64) bool {
	for i := a + 1; i < b; i++ {
		var ok bool
		switch {
		case interp == gltf.InterpolationStep:
			ok = componentsClose(values, comps, a, i, tol)
		case rotation:
			ok = rotationClose(times, values, a, b, i, tol)
		default:
			ok = lerpClose(times, values, comps, a, b, i, tol)
		}
		if !ok {
			return false
		}
	}
	return true
}

func componentsClose(values []float32, comps, a, i int, tol float64) bool {
	for c := 0; c < comps; c++ {
		d := float64(values[i*comps+c] - values[a*comps+c])
		if d < -tol || d > tol {
			return false
		}
	}
	return true
}

func lerpClose(times, values []float32, comps, a, b, i int, tol float64) bool {
	u := interpFactor(times, a, b, i)
	for c := 0; c < comps; c++ {
		va, vb := values[a*comps+c], values[b*comps+c]
		pred := float64(va) + float64(vb-va)*u
		if d := pred - float64(values[i*comps+c]); d < -tol || d > tol {
			return false
		}
	}
	return true
}

// rotationClose compares the keyframe against the slerp of the endpoint
// quaternions. Negated quaternions encode the same rotation, so the dot
// product is compared by magnitude.
func rotationClose(times, values []float32, a, b, i int, tol float64) bool {
	u := interpFactor(times, a, b, i)
	qa := quatAt(values, a).Normalize()
	qb := quatAt(values, b).Normalize()
	qi := quatAt(values, i).Normalize()
	pred := mgl32.QuatSlerp(qa, qb, float32(u))
	dot := float64(pred.Dot(qi))
	if dot < 0 {
		dot = -dot
	}
	return dot >= 1-tol
}

func interpFactor(times []float32, a, b, i int) float64 {
	span := float64(times[b] - times[a])
	if span <= 0 {
		return 0
	}
	return float64(times[i]-times[a]) / span
}

// quatAt reads a glTF rotation keyframe, stored as (x, y, z, w).
func quatAt(values []float32, i int) mgl32.Quat {
	return mgl32.Quat{
		W: values[i*4+3],
		V: mgl32.Vec3{values[i*4], values[i*4+1], values[i*4+2]},
	}
}
