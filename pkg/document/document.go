// Package document provides graph utilities over a glTF document: reference
// walking, reachability analysis, table compaction with index remapping, and
// raw accessor data access. All cross-entity references in glTF are integer
// indices into per-type tables, so rewriting the graph means rewriting
// indices consistently everywhere they appear.
package document

import (
	"github.com/qmuntal/gltf"
)

// Kind identifies one of the document's entity tables.
type Kind int

const (
	KindAccessor Kind = iota
	KindAnimation
	KindBuffer
	KindBufferView
	KindCamera
	KindImage
	KindMaterial
	KindMesh
	KindNode
	KindSampler
	KindScene
	KindSkin
	KindTexture
	kindCount
)

var kindNames = [...]string{
	"accessor", "animation", "buffer", "bufferView", "camera", "image",
	"material", "mesh", "node", "sampler", "scene", "skin", "texture",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// TableLen returns the number of entries in the table for the given kind.
func TableLen(doc *gltf.Document, k Kind) int {
	switch k {
	case KindAccessor:
		return len(doc.Accessors)
	case KindAnimation:
		return len(doc.Animations)
	case KindBuffer:
		return len(doc.Buffers)
	case KindBufferView:
		return len(doc.BufferViews)
	case KindCamera:
		return len(doc.Cameras)
	case KindImage:
		return len(doc.Images)
	case KindMaterial:
		return len(doc.Materials)
	case KindMesh:
		return len(doc.Meshes)
	case KindNode:
		return len(doc.Nodes)
	case KindSampler:
		return len(doc.Samplers)
	case KindScene:
		return len(doc.Scenes)
	case KindSkin:
		return len(doc.Skins)
	case KindTexture:
		return len(doc.Textures)
	}
	return 0
}

// ViewRef is implemented by extension payloads that reference a buffer view,
// so that compaction can rewrite the reference like any other.
type ViewRef interface {
	ViewIndex() *int
}

// ComponentSize returns the byte size of one component.
func ComponentSize(c gltf.ComponentType) int {
	switch c {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	case gltf.ComponentUint, gltf.ComponentFloat:
		return 4
	}
	return 0
}

// TypeComponents returns the number of components per element.
func TypeComponents(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	}
	return 0
}

// ElementSize returns the tightly-packed byte size of one accessor element.
func ElementSize(a *gltf.Accessor) int {
	return ComponentSize(a.ComponentType) * TypeComponents(a.Type)
}
