package codec

import (
	"fmt"

	"github.com/qmuntal/gltf"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
)

// Validate checks the structural invariants every transform relies on:
// all cross-table references resolve, the node hierarchy is a forest, and
// no accessor's byte range escapes its buffer view. It does not attempt
// full glTF conformance checking.
func Validate(doc *gltf.Document) error {
	if err := validateRefs(doc); err != nil {
		return err
	}
	if err := validateNodeTree(doc); err != nil {
		return err
	}
	return validateRanges(doc)
}

func validateRefs(doc *gltf.Document) error {
	var bad error
	document.EachRef(doc, func(kind document.Kind, index int) {
		if bad != nil {
			return
		}
		if n := document.TableLen(doc, kind); index < 0 || index >= n {
			bad = fmt.Errorf("malformed reference: %s index %d out of range [0, %d)", kind, index, n)
		}
	})
	return bad
}

// validateNodeTree rejects cyclic or diamond-shaped node hierarchies. glTF
// requires nodes to form a forest; a cycle would make reachability
// traversal and pruning diverge.
func validateNodeTree(doc *gltf.Document) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(doc.Nodes))
	parentSeen := make([]bool, len(doc.Nodes))

	var walk func(i int) error
	walk = func(i int) error {
		switch state[i] {
		case visiting:
			return fmt.Errorf("node %d is part of a cycle", i)
		case done:
			return nil
		}
		state[i] = visiting
		for _, c := range doc.Nodes[i].Children {
			if parentSeen[c] {
				return fmt.Errorf("node %d has multiple parents", c)
			}
			parentSeen[c] = true
			if err := walk(c); err != nil {
				return err
			}
		}
		state[i] = done
		return nil
	}
	for i := range doc.Nodes {
		if state[i] == unvisited {
			if err := walk(i); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRanges(doc *gltf.Document) error {
	for i, v := range doc.BufferViews {
		buf := doc.Buffers[v.Buffer]
		size := len(buf.Data)
		if size == 0 {
			size = buf.ByteLength
		}
		if v.ByteOffset+v.ByteLength > size {
			return fmt.Errorf("buffer view %d range [%d, %d) exceeds buffer size %d",
				i, v.ByteOffset, v.ByteOffset+v.ByteLength, size)
		}
	}
	for i, a := range doc.Accessors {
		if a.BufferView == nil {
			continue
		}
		elemSize := document.ElementSize(a)
		if elemSize == 0 {
			return fmt.Errorf("accessor %d has unsupported layout %v/%v", i, a.Type, a.ComponentType)
		}
		view := doc.BufferViews[*a.BufferView]
		stride := view.ByteStride
		if stride == 0 {
			stride = elemSize
		}
		if a.Count == 0 {
			continue
		}
		if end := a.ByteOffset + (a.Count-1)*stride + elemSize; end > view.ByteLength {
			return fmt.Errorf("accessor %d range %d exceeds buffer view %d length %d",
				i, end, *a.BufferView, view.ByteLength)
		}
	}
	return nil
}
