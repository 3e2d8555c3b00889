package document

import (
	"github.com/qmuntal/gltf"
)

// EachRef visits every cross-table reference held by the document, calling
// visit with the referenced table and index. Animation channel samplers are
// not visited: they index the animation's own sampler list, not a document
// table. Reference order is unspecified.
func EachRef(doc *gltf.Document, visit func(kind Kind, index int)) {
	opt := func(kind Kind, ref *int) {
		if ref != nil {
			visit(kind, *ref)
		}
	}

	opt(KindScene, doc.Scene)
	for _, s := range doc.Scenes {
		for _, n := range s.Nodes {
			visit(KindNode, n)
		}
	}
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			visit(KindNode, c)
		}
		opt(KindMesh, n.Mesh)
		opt(KindSkin, n.Skin)
		opt(KindCamera, n.Camera)
	}
	for _, s := range doc.Skins {
		for _, j := range s.Joints {
			visit(KindNode, j)
		}
		opt(KindNode, s.Skeleton)
		opt(KindAccessor, s.InverseBindMatrices)
	}
	for _, m := range doc.Meshes {
		for _, p := range m.Primitives {
			for _, a := range p.Attributes {
				visit(KindAccessor, a)
			}
			for _, t := range p.Targets {
				for _, a := range t {
					visit(KindAccessor, a)
				}
			}
			opt(KindAccessor, p.Indices)
			opt(KindMaterial, p.Material)
			eachExtensionViewRef(p.Extensions, func(ref *int) { opt(KindBufferView, ref) })
		}
	}
	for _, m := range doc.Materials {
		for _, ti := range materialTextureRefs(m) {
			opt(KindTexture, ti)
		}
	}
	for _, t := range doc.Textures {
		opt(KindImage, t.Source)
		opt(KindSampler, t.Sampler)
	}
	for _, img := range doc.Images {
		opt(KindBufferView, img.BufferView)
	}
	for _, a := range doc.Accessors {
		opt(KindBufferView, a.BufferView)
		if a.Sparse != nil {
			visit(KindBufferView, a.Sparse.Indices.BufferView)
			visit(KindBufferView, a.Sparse.Values.BufferView)
		}
	}
	for _, v := range doc.BufferViews {
		visit(KindBuffer, v.Buffer)
	}
	for _, an := range doc.Animations {
		for _, c := range an.Channels {
			opt(KindNode, c.Target.Node)
		}
		for _, s := range an.Samplers {
			visit(KindAccessor, s.Input)
			visit(KindAccessor, s.Output)
		}
	}
}

// materialTextureRefs collects the texture index slots of a material, one
// per channel that is set. The returned pointers alias the material so
// callers may rewrite them.
func materialTextureRefs(m *gltf.Material) []*int {
	var refs []*int
	if pbr := m.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorTexture != nil {
			refs = append(refs, &pbr.BaseColorTexture.Index)
		}
		if pbr.MetallicRoughnessTexture != nil {
			refs = append(refs, &pbr.MetallicRoughnessTexture.Index)
		}
	}
	if m.NormalTexture != nil && m.NormalTexture.Index != nil {
		refs = append(refs, m.NormalTexture.Index)
	}
	if m.OcclusionTexture != nil && m.OcclusionTexture.Index != nil {
		refs = append(refs, m.OcclusionTexture.Index)
	}
	if m.EmissiveTexture != nil {
		refs = append(refs, &m.EmissiveTexture.Index)
	}
	return refs
}

// eachExtensionViewRef visits buffer-view references held by known extension
// payloads attached to an entity.
func eachExtensionViewRef(ext gltf.Extensions, visit func(ref *int)) {
	for _, v := range ext {
		if vr, ok := v.(ViewRef); ok {
			visit(vr.ViewIndex())
		}
	}
}
