package document

import (
	"github.com/qmuntal/gltf"
)

// Set records, per table, which entries are marked.
type Set struct {
	tables [kindCount]map[int]bool
}

// Has reports whether the entry is marked.
func (s *Set) Has(k Kind, i int) bool { return s.tables[k][i] }

// Add marks an entry, reporting whether it was newly added.
func (s *Set) Add(k Kind, i int) bool {
	if s.tables[k] == nil {
		s.tables[k] = make(map[int]bool)
	}
	if s.tables[k][i] {
		return false
	}
	s.tables[k][i] = true
	return true
}

// Remove unmarks an entry.
func (s *Set) Remove(k Kind, i int) { delete(s.tables[k], i) }

// Len returns the number of marked entries of the given kind.
func (s *Set) Len(k Kind) int { return len(s.tables[k]) }

// Reachable computes the set of entities reachable from the document's scene
// roots. Traversal follows node children and mesh, material, texture, image,
// sampler, skin, camera, accessor, buffer view, and buffer references.
//
// Two deliberate extensions of plain scene reachability:
//   - All animations are retained as roots; their sampler accessors are
//     marked, but their channel target nodes are not, so nodes kept alive
//     only by an animation channel still get pruned.
//   - A reachable skin keeps its joints and skeleton root alive even when
//     those nodes hang outside the visible node hierarchy, matching the
//     glTF requirement that joints be scene nodes.
func Reachable(doc *gltf.Document) *Set {
	s := &Set{}

	var markNode func(i int)
	var markSkin func(i int)
	var markMesh func(i int)
	var markMaterial func(i int)
	var markAccessor func(i int)
	var markView func(i int)

	markView = func(i int) {
		if i < 0 || i >= len(doc.BufferViews) || !s.Add(KindBufferView, i) {
			return
		}
		s.Add(KindBuffer, doc.BufferViews[i].Buffer)
	}
	markAccessor = func(i int) {
		if i < 0 || i >= len(doc.Accessors) || !s.Add(KindAccessor, i) {
			return
		}
		a := doc.Accessors[i]
		if a.BufferView != nil {
			markView(*a.BufferView)
		}
		if a.Sparse != nil {
			markView(a.Sparse.Indices.BufferView)
			markView(a.Sparse.Values.BufferView)
		}
	}
	markTexture := func(i int) {
		if i < 0 || i >= len(doc.Textures) || !s.Add(KindTexture, i) {
			return
		}
		t := doc.Textures[i]
		if t.Sampler != nil {
			s.Add(KindSampler, *t.Sampler)
		}
		if t.Source == nil {
			return
		}
		src := *t.Source
		if src >= 0 && src < len(doc.Images) && s.Add(KindImage, src) {
			if bv := doc.Images[src].BufferView; bv != nil {
				markView(*bv)
			}
		}
	}
	markMaterial = func(i int) {
		if i < 0 || i >= len(doc.Materials) || !s.Add(KindMaterial, i) {
			return
		}
		for _, ref := range materialTextureRefs(doc.Materials[i]) {
			markTexture(*ref)
		}
	}
	markMesh = func(i int) {
		if i < 0 || i >= len(doc.Meshes) || !s.Add(KindMesh, i) {
			return
		}
		for _, p := range doc.Meshes[i].Primitives {
			for _, a := range p.Attributes {
				markAccessor(a)
			}
			for _, t := range p.Targets {
				for _, a := range t {
					markAccessor(a)
				}
			}
			if p.Indices != nil {
				markAccessor(*p.Indices)
			}
			if p.Material != nil {
				markMaterial(*p.Material)
			}
			eachExtensionViewRef(p.Extensions, func(ref *int) {
				if ref != nil {
					markView(*ref)
				}
			})
		}
	}
	markSkin = func(i int) {
		if i < 0 || i >= len(doc.Skins) || !s.Add(KindSkin, i) {
			return
		}
		sk := doc.Skins[i]
		for _, j := range sk.Joints {
			markNode(j)
		}
		if sk.Skeleton != nil {
			markNode(*sk.Skeleton)
		}
		if sk.InverseBindMatrices != nil {
			markAccessor(*sk.InverseBindMatrices)
		}
	}
	markNode = func(i int) {
		if i < 0 || i >= len(doc.Nodes) || !s.Add(KindNode, i) {
			return
		}
		n := doc.Nodes[i]
		for _, c := range n.Children {
			markNode(c)
		}
		if n.Mesh != nil {
			markMesh(*n.Mesh)
		}
		if n.Skin != nil {
			markSkin(*n.Skin)
		}
		if n.Camera != nil {
			s.Add(KindCamera, *n.Camera)
		}
	}

	for i, sc := range doc.Scenes {
		s.Add(KindScene, i)
		for _, n := range sc.Nodes {
			markNode(n)
		}
	}
	for i, an := range doc.Animations {
		s.Add(KindAnimation, i)
		for _, sm := range an.Samplers {
			markAccessor(sm.Input)
			markAccessor(sm.Output)
		}
	}
	return s
}

// ReachableNodes marks only the nodes reachable from scene roots, following
// children and the joints and skeleton of any skin those nodes reference.
// Node liveness never depends on animations, so callers can filter animation
// channels against this set before computing full reachability.
func ReachableNodes(doc *gltf.Document) *Set {
	s := &Set{}
	var mark func(i int)
	mark = func(i int) {
		if i < 0 || i >= len(doc.Nodes) || !s.Add(KindNode, i) {
			return
		}
		n := doc.Nodes[i]
		for _, c := range n.Children {
			mark(c)
		}
		if n.Skin != nil && *n.Skin >= 0 && *n.Skin < len(doc.Skins) {
			sk := doc.Skins[*n.Skin]
			for _, j := range sk.Joints {
				mark(j)
			}
			if sk.Skeleton != nil {
				mark(*sk.Skeleton)
			}
		}
	}
	for _, sc := range doc.Scenes {
		for _, n := range sc.Nodes {
			mark(n)
		}
	}
	return s
}

// SweepData drops accessors, buffer views, and buffers that nothing in the
// document references anymore. Passes that replace geometry or image
// payloads call this to release the byte ranges they orphaned; entities
// other than raw data storage are never touched.
func SweepData(doc *gltf.Document) error {
	accessors := make([]bool, len(doc.Accessors))
	views := make([]bool, len(doc.BufferViews))
	buffers := make([]bool, len(doc.Buffers))

	EachRef(doc, func(k Kind, i int) {
		if k == KindAccessor && i >= 0 && i < len(accessors) {
			accessors[i] = true
		}
	})
	// Views are live only through live accessors, images, or extension
	// payloads; an accessor about to be dropped keeps nothing alive.
	markView := func(i int) {
		if i >= 0 && i < len(views) {
			views[i] = true
		}
	}
	for i, a := range doc.Accessors {
		if !accessors[i] {
			continue
		}
		if a.BufferView != nil {
			markView(*a.BufferView)
		}
		if a.Sparse != nil {
			markView(a.Sparse.Indices.BufferView)
			markView(a.Sparse.Values.BufferView)
		}
	}
	for _, img := range doc.Images {
		if img.BufferView != nil {
			markView(*img.BufferView)
		}
	}
	for _, m := range doc.Meshes {
		for _, p := range m.Primitives {
			eachExtensionViewRef(p.Extensions, func(ref *int) {
				if ref != nil {
					markView(*ref)
				}
			})
		}
	}
	for i, v := range doc.BufferViews {
		if views[i] && v.Buffer >= 0 && v.Buffer < len(buffers) {
			buffers[v.Buffer] = true
		}
	}

	return Compact(doc, func(k Kind, i int) bool {
		switch k {
		case KindAccessor:
			return accessors[i]
		case KindBufferView:
			return views[i]
		case KindBuffer:
			return buffers[i]
		}
		return true
	})
}
