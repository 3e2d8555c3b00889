package pipeline

import (
	"context"
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/meshcodec"
)

// CompressPass runs the geometry codec over every eligible primitive and
// attaches the compressed blob through the mesh-compression extension. A
// primitive that fails at the requested precision is retried at reduced
// precision; one that fails both stays uncompressed. The pass fails only
// when no primitive could be compressed at all.
//
// Accessors referenced solely by a compressed primitive are detached from
// their buffer views so the raw streams are reclaimed on encode; shared
// accessors keep their backing data for the primitives that still need it.
type CompressPass struct {
	Codec  meshcodec.Codec
	Params meshcodec.Params
}

func (CompressPass) Name() string { return "compress" }

func (p CompressPass) Apply(ctx context.Context, doc *gltf.Document) Result {
	if p.Codec == nil || !p.Codec.Available() {
		return Skipped("no codec available")
	}
	params := p.Params
	if params == (meshcodec.Params{}) {
		params = meshcodec.DefaultParams()
	}

	var candidates []*gltf.Primitive
	for _, m := range doc.Meshes {
		for _, prim := range m.Primitives {
			if compressible(prim) {
				candidates = append(candidates, prim)
			}
		}
	}
	if len(candidates) == 0 {
		return Skipped("no compressible primitives")
	}

	accessorUses := countAccessorUses(doc)
	compressed, reduced := 0, 0
	var firstErr error
	for _, prim := range candidates {
		chosen, err := p.compressPrimitive(doc, prim, params, accessorUses)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		compressed++
		if chosen == "reduced" {
			reduced++
		}
	}

	if compressed == 0 {
		return Failed(firstErr)
	}
	registerExtension(doc)
	if err := document.SweepData(doc); err != nil {
		return Failed(fmt.Errorf("sweep raw streams: %w", err))
	}
	switch {
	case firstErr != nil:
		return AppliedNote(fmt.Sprintf("%d of %d primitives left uncompressed", len(candidates)-compressed, len(candidates)))
	case reduced > 0:
		return AppliedNote(fmt.Sprintf("reduced precision on %d of %d primitives", reduced, compressed))
	}
	return Applied()
}

// compressible mirrors the codec's input shape: indexed-or-sequential
// triangles with at most position, normal, and texcoord streams.
func compressible(p *gltf.Primitive) bool {
	if p.Extensions[meshcodec.ExtensionName] != nil {
		return false
	}
	return weldable(p)
}

func (p CompressPass) compressPrimitive(doc *gltf.Document, prim *gltf.Primitive, params meshcodec.Params, accessorUses map[int]int) (string, error) {
	positions, err := modeler.ReadPosition(doc, doc.Accessors[prim.Attributes[gltf.POSITION]], nil)
	if err != nil {
		return "", fmt.Errorf("read positions: %w", err)
	}
	var normals [][3]float32
	if ai, ok := prim.Attributes[gltf.NORMAL]; ok {
		if normals, err = modeler.ReadNormal(doc, doc.Accessors[ai], nil); err != nil {
			return "", fmt.Errorf("read normals: %w", err)
		}
	}
	var texcoords [][2]float32
	if ai, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		if texcoords, err = modeler.ReadTextureCoord(doc, doc.Accessors[ai], nil); err != nil {
			return "", fmt.Errorf("read texcoords: %w", err)
		}
	}
	var indices []uint32
	if prim.Indices != nil {
		if indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil); err != nil {
			return "", fmt.Errorf("read indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	src := &meshcodec.Primitive{
		Positions: positions,
		Normals:   normals,
		TexCoords: texcoords,
		Indices:   indices,
		Mode:      uint8(prim.Mode),
	}

	var blob []byte
	var used meshcodec.Params
	chosen, err := TryChain(
		Attempt{Name: "default", Run: func() error {
			used = params
			blob, err = p.Codec.Compress(src, used)
			return err
		}},
		Attempt{Name: "reduced", Run: func() error {
			used = params.Reduced()
			blob, err = p.Codec.Compress(src, used)
			return err
		}},
	)
	if err != nil {
		return "", err
	}

	view := document.AddView(doc, blob, 0)
	if prim.Extensions == nil {
		prim.Extensions = gltf.Extensions{}
	}
	prim.Extensions[meshcodec.ExtensionName] = &meshcodec.Extension{
		BufferView:   gltf.Index(view),
		VertexCount:  len(positions),
		IndexCount:   len(indices),
		PositionBits: used.PositionBits,
		NormalBits:   used.NormalBits,
		TexcoordBits: used.TexcoordBits,
	}

	for _, ai := range prim.Attributes {
		detachExclusive(doc, ai, accessorUses)
	}
	if prim.Indices != nil {
		detachExclusive(doc, *prim.Indices, accessorUses)
	}
	return chosen, nil
}

// detachExclusive drops an accessor's buffer view when this primitive is
// its only user, leaving a data-less accessor that still carries count,
// type, and bounds for loaders that size buffers before decompressing.
func detachExclusive(doc *gltf.Document, i int, uses map[int]int) {
	if uses[i] == 1 {
		doc.Accessors[i].BufferView = nil
	}
}

func countAccessorUses(doc *gltf.Document) map[int]int {
	uses := make(map[int]int)
	document.EachRef(doc, func(k document.Kind, i int) {
		if k == document.KindAccessor {
			uses[i]++
		}
	})
	return uses
}

func registerExtension(doc *gltf.Document) {
	for _, name := range doc.ExtensionsUsed {
		if name == meshcodec.ExtensionName {
			return
		}
	}
	doc.ExtensionsUsed = append(doc.ExtensionsUsed, meshcodec.ExtensionName)
	doc.ExtensionsRequired = append(doc.ExtensionsRequired, meshcodec.ExtensionName)
}
