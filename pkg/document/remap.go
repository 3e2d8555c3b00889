package document

import (
	"fmt"

	"github.com/qmuntal/gltf"
)

// Compact drops every entity for which keep returns false and renumbers the
// surviving entries, rewriting all references in the document. Optional
// references to dropped entities become nil and list entries are removed;
// a required reference (buffer of a view, sparse storage, material texture
// slot) to a dropped entity is reported as an error and the document is
// left partially rewritten, so callers should pass a keep set that is
// closed under referencing.
func Compact(doc *gltf.Document, keep func(Kind, int) bool) error {
	remap := make([][]int, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		n := TableLen(doc, k)
		remap[k] = make([]int, n)
		next := 0
		for i := 0; i < n; i++ {
			if keep(k, i) {
				remap[k][i] = next
				next++
			} else {
				remap[k][i] = -1
			}
		}
	}
	if err := applyRemap(doc, remap); err != nil {
		return err
	}
	rebuildTables(doc, remap)
	return nil
}

// Merge rewrites every reference of the given kind through the alias map
// (duplicate index -> canonical index) and drops the aliased entries.
func Merge(doc *gltf.Document, kind Kind, alias map[int]int) error {
	if len(alias) == 0 {
		return nil
	}
	n := TableLen(doc, kind)
	remap := make([][]int, kindCount)
	remap[kind] = make([]int, n)

	// Number the canonical entries first, then point aliases at them.
	next := 0
	for i := 0; i < n; i++ {
		if _, dup := alias[i]; dup {
			remap[kind][i] = -1
		} else {
			remap[kind][i] = next
			next++
		}
	}
	for dup, canonical := range alias {
		remap[kind][dup] = remap[kind][canonical]
	}
	if err := applyRemap(doc, remap); err != nil {
		return err
	}

	// Only the aliased entries are dropped; applyRemap already redirected
	// every reference to them, so no dangling refs remain.
	for dup := range alias {
		remap[kind][dup] = -1
	}
	rebuildTables(doc, remap)
	return nil
}

// mapRef translates an index through the remap table for its kind. Returns
// the new index, or -1 when the target was dropped. Unmapped kinds are
// identity.
func mapRef(remap [][]int, k Kind, i int) int {
	t := remap[k]
	if t == nil {
		return i
	}
	if i < 0 || i >= len(t) {
		return -1
	}
	return t[i]
}

// mapOpt rewrites an optional reference in place, clearing it when the
// target was dropped.
func mapOpt(remap [][]int, k Kind, ref **int) {
	if *ref == nil {
		return
	}
	n := mapRef(remap, k, **ref)
	if n < 0 {
		*ref = nil
		return
	}
	**ref = n
}

// mapList rewrites an index list in place, dropping removed entries.
func mapList(remap [][]int, k Kind, list []int) []int {
	out := list[:0]
	for _, i := range list {
		if n := mapRef(remap, k, i); n >= 0 {
			out = append(out, n)
		}
	}
	return out
}

func applyRemap(doc *gltf.Document, remap [][]int) error {
	mapOpt(remap, KindScene, &doc.Scene)
	for _, s := range doc.Scenes {
		s.Nodes = mapList(remap, KindNode, s.Nodes)
	}
	for _, n := range doc.Nodes {
		n.Children = mapList(remap, KindNode, n.Children)
		mapOpt(remap, KindMesh, &n.Mesh)
		mapOpt(remap, KindSkin, &n.Skin)
		mapOpt(remap, KindCamera, &n.Camera)
	}
	for _, s := range doc.Skins {
		s.Joints = mapList(remap, KindNode, s.Joints)
		mapOpt(remap, KindNode, &s.Skeleton)
		mapOpt(remap, KindAccessor, &s.InverseBindMatrices)
	}
	for _, m := range doc.Meshes {
		for _, p := range m.Primitives {
			remapAttributes(remap, p.Attributes)
			for _, t := range p.Targets {
				remapAttributes(remap, t)
			}
			mapOpt(remap, KindAccessor, &p.Indices)
			mapOpt(remap, KindMaterial, &p.Material)
			for name, v := range p.Extensions {
				vr, ok := v.(ViewRef)
				if !ok {
					continue
				}
				ref := vr.ViewIndex()
				if ref == nil {
					continue
				}
				n := mapRef(remap, KindBufferView, *ref)
				if n < 0 {
					return fmt.Errorf("extension %q references dropped buffer view %d", name, *ref)
				}
				*ref = n
			}
		}
	}
	for mi, m := range doc.Materials {
		if err := remapMaterialTextures(remap, mi, m); err != nil {
			return err
		}
	}
	for _, t := range doc.Textures {
		mapOpt(remap, KindImage, &t.Source)
		mapOpt(remap, KindSampler, &t.Sampler)
	}
	for _, img := range doc.Images {
		mapOpt(remap, KindBufferView, &img.BufferView)
	}
	for ai, a := range doc.Accessors {
		mapOpt(remap, KindBufferView, &a.BufferView)
		if a.Sparse != nil {
			in := mapRef(remap, KindBufferView, a.Sparse.Indices.BufferView)
			vn := mapRef(remap, KindBufferView, a.Sparse.Values.BufferView)
			if in < 0 || vn < 0 {
				return fmt.Errorf("accessor %d: sparse storage references dropped buffer view", ai)
			}
			a.Sparse.Indices.BufferView = in
			a.Sparse.Values.BufferView = vn
		}
	}
	for vi, v := range doc.BufferViews {
		n := mapRef(remap, KindBuffer, v.Buffer)
		if n < 0 {
			return fmt.Errorf("buffer view %d references dropped buffer %d", vi, v.Buffer)
		}
		v.Buffer = n
	}
	for ai, an := range doc.Animations {
		for _, c := range an.Channels {
			mapOpt(remap, KindNode, &c.Target.Node)
		}
		for si, s := range an.Samplers {
			in := mapRef(remap, KindAccessor, s.Input)
			out := mapRef(remap, KindAccessor, s.Output)
			if in < 0 || out < 0 {
				return fmt.Errorf("animation %d sampler %d references dropped accessor", ai, si)
			}
			s.Input = in
			s.Output = out
		}
	}
	return nil
}

func remapAttributes(remap [][]int, attrs map[string]int) {
	for name, a := range attrs {
		if n := mapRef(remap, KindAccessor, a); n >= 0 {
			attrs[name] = n
		} else {
			delete(attrs, name)
		}
	}
}

// remapMaterialTextures rewrites a material's texture slots. A slot whose
// texture was dropped is cleared entirely rather than left with a dangling
// required index.
func remapMaterialTextures(remap [][]int, mi int, m *gltf.Material) error {
	if pbr := m.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorTexture != nil {
			if n := mapRef(remap, KindTexture, pbr.BaseColorTexture.Index); n >= 0 {
				pbr.BaseColorTexture.Index = n
			} else {
				pbr.BaseColorTexture = nil
			}
		}
		if pbr.MetallicRoughnessTexture != nil {
			if n := mapRef(remap, KindTexture, pbr.MetallicRoughnessTexture.Index); n >= 0 {
				pbr.MetallicRoughnessTexture.Index = n
			} else {
				pbr.MetallicRoughnessTexture = nil
			}
		}
	}
	if m.NormalTexture != nil {
		if m.NormalTexture.Index == nil {
			return fmt.Errorf("material %d: normal texture without index", mi)
		}
		if n := mapRef(remap, KindTexture, *m.NormalTexture.Index); n >= 0 {
			*m.NormalTexture.Index = n
		} else {
			m.NormalTexture = nil
		}
	}
	if m.OcclusionTexture != nil {
		if m.OcclusionTexture.Index == nil {
			return fmt.Errorf("material %d: occlusion texture without index", mi)
		}
		if n := mapRef(remap, KindTexture, *m.OcclusionTexture.Index); n >= 0 {
			*m.OcclusionTexture.Index = n
		} else {
			m.OcclusionTexture = nil
		}
	}
	if m.EmissiveTexture != nil {
		if n := mapRef(remap, KindTexture, m.EmissiveTexture.Index); n >= 0 {
			m.EmissiveTexture.Index = n
		} else {
			m.EmissiveTexture = nil
		}
	}
	return nil
}

func rebuildTables(doc *gltf.Document, remap [][]int) {
	doc.Accessors = filterTable(doc.Accessors, remap[KindAccessor])
	doc.Animations = filterTable(doc.Animations, remap[KindAnimation])
	doc.Buffers = filterTable(doc.Buffers, remap[KindBuffer])
	doc.BufferViews = filterTable(doc.BufferViews, remap[KindBufferView])
	doc.Cameras = filterTable(doc.Cameras, remap[KindCamera])
	doc.Images = filterTable(doc.Images, remap[KindImage])
	doc.Materials = filterTable(doc.Materials, remap[KindMaterial])
	doc.Meshes = filterTable(doc.Meshes, remap[KindMesh])
	doc.Nodes = filterTable(doc.Nodes, remap[KindNode])
	doc.Samplers = filterTable(doc.Samplers, remap[KindSampler])
	doc.Scenes = filterTable(doc.Scenes, remap[KindScene])
	doc.Skins = filterTable(doc.Skins, remap[KindSkin])
	doc.Textures = filterTable(doc.Textures, remap[KindTexture])
}

func filterTable[T any](table []T, remap []int) []T {
	if remap == nil {
		return table
	}
	out := table[:0]
	for i, e := range table {
		if remap[i] >= 0 {
			out = append(out, e)
		}
	}
	return out
}
