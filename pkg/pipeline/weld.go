package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
)

// WeldPass merges vertices whose attributes agree within a tolerance and
// rebuilds the index stream, dropping triangles that collapse. Only
// triangle primitives carrying position, normal, and texcoord attributes
// (and no morph targets) are welded; anything else is left alone. When
// welding fails the pass falls back to snapping vertex components onto a
// tolerance grid, which keeps downstream delta coding effective without
// touching connectivity.
type WeldPass struct {
	// Tolerance is the merge distance. Zero means 1e-4.
	Tolerance float64
}

func (WeldPass) Name() string { return "weld" }

func (p WeldPass) Apply(ctx context.Context, doc *gltf.Document) Result {
	if len(doc.Meshes) == 0 {
		return Skipped("no meshes")
	}
	tol := p.Tolerance
	if tol <= 0 {
		tol = 1e-4
	}

	chosen, err := TryChain(
		Attempt{Name: "weld", Run: func() error { return weldDocument(doc, tol) }},
		Attempt{Name: "snap", Run: func() error { return snapDocument(doc, tol) }},
	)
	if err != nil {
		return Failed(err)
	}
	if err := document.SweepData(doc); err != nil {
		return Failed(fmt.Errorf("sweep replaced geometry: %w", err))
	}
	if chosen == "snap" {
		return AppliedNote("vertex snap fallback")
	}
	return Applied()
}

// weldDocument welds all eligible primitives, or none: every rewrite is
// staged first, and the document is only touched once the whole mesh set has
// welded cleanly, so a failure part-way leaves the input for the fallback.
func weldDocument(doc *gltf.Document, tol float64) error {
	var staged []*weldedPrimitive
	for mi, m := range doc.Meshes {
		for pi := range m.Primitives {
			prim := m.Primitives[pi]
			if !weldable(prim) {
				continue
			}
			w, err := weldPrimitive(doc, prim, tol)
			if err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
			if w != nil {
				staged = append(staged, w)
			}
		}
	}
	for _, w := range staged {
		w.commit(doc)
	}
	return nil
}

// weldedPrimitive holds one primitive's rewritten streams until the whole
// document has welded successfully.
type weldedPrimitive struct {
	prim      *gltf.Primitive
	positions [][3]float32
	normals   [][3]float32
	texcoords [][2]float32
	indices   []uint32
}

func (w *weldedPrimitive) commit(doc *gltf.Document) {
	w.prim.Attributes[gltf.POSITION] = modeler.WritePosition(doc, w.positions)
	if w.normals != nil {
		w.prim.Attributes[gltf.NORMAL] = modeler.WriteNormal(doc, w.normals)
	}
	if w.texcoords != nil {
		w.prim.Attributes[gltf.TEXCOORD_0] = modeler.WriteTextureCoord(doc, w.texcoords)
	}
	if len(w.positions) <= math.MaxUint16 {
		small := make([]uint16, len(w.indices))
		for i, v := range w.indices {
			small[i] = uint16(v)
		}
		w.prim.Indices = gltf.Index(modeler.WriteIndices(doc, small))
	} else {
		w.prim.Indices = gltf.Index(modeler.WriteIndices(doc, w.indices))
	}
}

// weldable restricts welding to plain triangle geometry. Primitives with
// morph targets or attributes beyond position, normal, and texcoord would
// need those streams rebuilt too, so they pass through untouched.
func weldable(p *gltf.Primitive) bool {
	if p.Mode != gltf.PrimitiveTriangles || len(p.Targets) > 0 {
		return false
	}
	if _, ok := p.Attributes[gltf.POSITION]; !ok {
		return false
	}
	for name := range p.Attributes {
		switch name {
		case gltf.POSITION, gltf.NORMAL, gltf.TEXCOORD_0:
		default:
			return false
		}
	}
	return true
}

// weldPrimitive stages one primitive's weld. It never mutates the document;
// a nil result with nil error means the primitive had nothing to merge.
func weldPrimitive(doc *gltf.Document, prim *gltf.Primitive, tol float64) (*weldedPrimitive, error) {
	positions, err := modeler.ReadPosition(doc, doc.Accessors[prim.Attributes[gltf.POSITION]], nil)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	var normals [][3]float32
	if ai, ok := prim.Attributes[gltf.NORMAL]; ok {
		if normals, err = modeler.ReadNormal(doc, doc.Accessors[ai], nil); err != nil {
			return nil, fmt.Errorf("read normals: %w", err)
		}
		if len(normals) != len(positions) {
			return nil, fmt.Errorf("normal count %d does not match position count %d", len(normals), len(positions))
		}
	}
	var texcoords [][2]float32
	if ai, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		if texcoords, err = modeler.ReadTextureCoord(doc, doc.Accessors[ai], nil); err != nil {
			return nil, fmt.Errorf("read texcoords: %w", err)
		}
		if len(texcoords) != len(positions) {
			return nil, fmt.Errorf("texcoord count %d does not match position count %d", len(texcoords), len(positions))
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil); err != nil {
			return nil, fmt.Errorf("read indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("index count %d not a multiple of 3", len(indices))
	}

	w := welder{tol: tol, cells: make(map[[3]int32][]int)}
	remap := make([]int, len(positions))
	for i := range positions {
		remap[i] = w.place(positions[i], attrAt(normals, i), uvAt(texcoords, i))
	}
	if len(w.positions) == len(positions) {
		return nil, nil
	}

	newIndices := make([]uint32, 0, len(indices))
	for i := 0; i+2 < len(indices); i += 3 {
		a := uint32(remap[indices[i]])
		b := uint32(remap[indices[i+1]])
		c := uint32(remap[indices[i+2]])
		if a == b || b == c || a == c {
			continue
		}
		newIndices = append(newIndices, a, b, c)
	}

	out := &weldedPrimitive{prim: prim, positions: w.positions, indices: newIndices}
	if normals != nil {
		out.normals = w.normals
	}
	if texcoords != nil {
		out.texcoords = w.texcoords
	}
	return out, nil
}

// welder deduplicates vertices through a uniform grid with cell size equal
// to the tolerance, so every match candidate lies in the 27 cells around a
// query point.
type welder struct {
	tol       float64
	cells     map[[3]int32][]int
	positions [][3]float32
	normals   [][3]float32
	texcoords [][2]float32
}

func (w *welder) place(pos [3]float32, normal [3]float32, uv [2]float32) int {
	cell := w.cellOf(pos)
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				key := [3]int32{cell[0] + dx, cell[1] + dy, cell[2] + dz}
				for _, j := range w.cells[key] {
					if w.matches(j, pos, normal, uv) {
						return j
					}
				}
			}
		}
	}
	j := len(w.positions)
	w.positions = append(w.positions, pos)
	w.normals = append(w.normals, normal)
	w.texcoords = append(w.texcoords, uv)
	w.cells[cell] = append(w.cells[cell], j)
	return j
}

func (w *welder) cellOf(p [3]float32) [3]int32 {
	return [3]int32{
		int32(math.Floor(float64(p[0]) / w.tol)),
		int32(math.Floor(float64(p[1]) / w.tol)),
		int32(math.Floor(float64(p[2]) / w.tol)),
	}
}

func (w *welder) matches(j int, pos [3]float32, normal [3]float32, uv [2]float32) bool {
	d := mgl32.Vec3(pos).Sub(mgl32.Vec3(w.positions[j]))
	if float64(d.Len()) > w.tol {
		return false
	}
	for c := 0; c < 3; c++ {
		if math.Abs(float64(normal[c]-w.normals[j][c])) > w.tol {
			return false
		}
	}
	for c := 0; c < 2; c++ {
		if math.Abs(float64(uv[c]-w.texcoords[j][c])) > w.tol {
			return false
		}
	}
	return true
}

func attrAt(vals [][3]float32, i int) [3]float32 {
	if vals == nil {
		return [3]float32{}
	}
	return vals[i]
}

func uvAt(vals [][2]float32, i int) [2]float32 {
	if vals == nil {
		return [2]float32{}
	}
	return vals[i]
}

// snapDocument is the weld fallback: vertex positions are rounded onto the
// tolerance grid without changing vertex count or connectivity. Like the
// weld itself it stages every rewrite before committing any.
func snapDocument(doc *gltf.Document, tol float64) error {
	type snapped struct {
		prim      *gltf.Primitive
		positions [][3]float32
	}
	var staged []snapped
	for mi, m := range doc.Meshes {
		for pi, prim := range m.Primitives {
			ai, ok := prim.Attributes[gltf.POSITION]
			if !ok {
				continue
			}
			positions, err := modeler.ReadPosition(doc, doc.Accessors[ai], nil)
			if err != nil {
				return fmt.Errorf("mesh %d primitive %d: read positions: %w", mi, pi, err)
			}
			for i := range positions {
				for c := 0; c < 3; c++ {
					positions[i][c] = float32(math.Round(float64(positions[i][c])/tol) * tol)
				}
			}
			staged = append(staged, snapped{prim: prim, positions: positions})
		}
	}
	for _, s := range staged {
		s.prim.Attributes[gltf.POSITION] = modeler.WritePosition(doc, s.positions)
	}
	return nil
}
