package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
)

// DedupPass merges structurally identical entities into one canonical
// instance and rewrites all references to it. Accessors are compared by
// content hash but only within the same semantic role: two byte-identical
// streams used as positions and as texture coordinates stay separate.
type DedupPass struct{}

func (DedupPass) Name() string { return "dedup" }

func (DedupPass) Apply(ctx context.Context, doc *gltf.Document) Result {
	steps := []struct {
		name string
		run  func(*gltf.Document) error
	}{
		{"buffer views", dedupViews},
		{"images", dedupImages},
		{"samplers", dedupSamplers},
		{"textures", dedupTextures},
		{"materials", dedupMaterials},
		{"accessors", dedupAccessors},
	}
	for _, s := range steps {
		if err := s.run(doc); err != nil {
			return Failed(fmt.Errorf("dedup %s: %w", s.name, err))
		}
	}
	if err := document.SweepData(doc); err != nil {
		return Failed(fmt.Errorf("sweep orphaned data: %w", err))
	}
	return Applied()
}

// mergeByKey merges all table entries sharing a key into the first one
// seen. Entries keyed "" are left alone.
func mergeByKey(doc *gltf.Document, kind document.Kind, key func(i int) string) error {
	canonical := make(map[string]int)
	alias := make(map[int]int)
	for i := 0; i < document.TableLen(doc, kind); i++ {
		k := key(i)
		if k == "" {
			continue
		}
		if first, ok := canonical[k]; ok {
			alias[i] = first
		} else {
			canonical[k] = i
		}
	}
	return document.Merge(doc, kind, alias)
}

func dedupViews(doc *gltf.Document) error {
	return mergeByKey(doc, document.KindBufferView, func(i int) string {
		v := doc.BufferViews[i]
		return fmt.Sprintf("%d/%d/%d/%d/%v", v.Buffer, v.ByteOffset, v.ByteLength, v.ByteStride, v.Target)
	})
}

func dedupImages(doc *gltf.Document) error {
	return mergeByKey(doc, document.KindImage, func(i int) string {
		img := doc.Images[i]
		data, err := document.ImageBytes(doc, img)
		if err != nil {
			// Unresolvable payloads are left alone rather than failing
			// the whole pass.
			return ""
		}
		sum := sha256.Sum256(data)
		return fmt.Sprintf("%s/%x", img.MimeType, sum)
	})
}

func dedupSamplers(doc *gltf.Document) error {
	return mergeByKey(doc, document.KindSampler, func(i int) string {
		return jsonKey(doc.Samplers[i])
	})
}

func dedupTextures(doc *gltf.Document) error {
	return mergeByKey(doc, document.KindTexture, func(i int) string {
		t := doc.Textures[i]
		return fmt.Sprintf("%s/%s", optKey(t.Source), optKey(t.Sampler))
	})
}

func dedupMaterials(doc *gltf.Document) error {
	return mergeByKey(doc, document.KindMaterial, func(i int) string {
		return jsonKey(doc.Materials[i])
	})
}

// dedupAccessors hashes packed accessor content together with layout and
// semantic role. Accessors without backing data (including compression
// placeholders) and sparse accessors are left alone.
func dedupAccessors(doc *gltf.Document) error {
	roles := accessorRoles(doc)
	return mergeByKey(doc, document.KindAccessor, func(i int) string {
		a := doc.Accessors[i]
		if a.BufferView == nil || a.Sparse != nil {
			return ""
		}
		data, err := document.ReadBytes(doc, a)
		if err != nil {
			return ""
		}
		sum := sha256.Sum256(data)
		return fmt.Sprintf("%s|%v/%v/%v/%d|%x", roles[i], a.Type, a.ComponentType, a.Normalized, a.Count, sum)
	})
}

// accessorRoles maps each accessor to the set of semantic roles it serves,
// rendered as a stable string.
func accessorRoles(doc *gltf.Document) map[int]string {
	roles := make(map[int]map[string]bool)
	add := func(i int, role string) {
		if roles[i] == nil {
			roles[i] = make(map[string]bool)
		}
		roles[i][role] = true
	}
	for _, m := range doc.Meshes {
		for _, p := range m.Primitives {
			for name, a := range p.Attributes {
				add(a, name)
			}
			for _, t := range p.Targets {
				for name, a := range t {
					add(a, "target:"+name)
				}
			}
			if p.Indices != nil {
				add(*p.Indices, "indices")
			}
		}
	}
	for _, s := range doc.Skins {
		if s.InverseBindMatrices != nil {
			add(*s.InverseBindMatrices, "ibm")
		}
	}
	for _, an := range doc.Animations {
		for _, s := range an.Samplers {
			add(s.Input, "anim-input")
			add(s.Output, "anim-output")
		}
	}

	out := make(map[int]string, len(roles))
	for i, set := range roles {
		names := make([]string, 0, len(set))
		for n := range set {
			names = append(names, n)
		}
		sort.Strings(names)
		out[i] = strings.Join(names, ",")
	}
	return out
}

func jsonKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func optKey(ref *int) string {
	if ref == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *ref)
}
