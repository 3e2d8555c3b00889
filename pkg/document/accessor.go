package document

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/qmuntal/gltf"
)

// ViewBytes returns the byte range of a buffer view within its buffer.
func ViewBytes(doc *gltf.Document, v *gltf.BufferView) ([]byte, error) {
	if v.Buffer < 0 || v.Buffer >= len(doc.Buffers) {
		return nil, fmt.Errorf("buffer view references buffer %d of %d", v.Buffer, len(doc.Buffers))
	}
	data := doc.Buffers[v.Buffer].Data
	if v.ByteOffset+v.ByteLength > len(data) {
		return nil, fmt.Errorf("buffer view range [%d, %d) exceeds buffer size %d",
			v.ByteOffset, v.ByteOffset+v.ByteLength, len(data))
	}
	return data[v.ByteOffset : v.ByteOffset+v.ByteLength], nil
}

// ReadBytes copies an accessor's elements into a tightly-packed byte slice,
// collapsing any interleaving stride.
func ReadBytes(doc *gltf.Document, a *gltf.Accessor) ([]byte, error) {
	if a.BufferView == nil {
		return nil, fmt.Errorf("accessor has no buffer view")
	}
	if *a.BufferView < 0 || *a.BufferView >= len(doc.BufferViews) {
		return nil, fmt.Errorf("accessor references buffer view %d of %d", *a.BufferView, len(doc.BufferViews))
	}
	view := doc.BufferViews[*a.BufferView]
	data, err := ViewBytes(doc, view)
	if err != nil {
		return nil, err
	}

	elemSize := ElementSize(a)
	if elemSize == 0 {
		return nil, fmt.Errorf("unsupported accessor layout: %v/%v", a.Type, a.ComponentType)
	}
	stride := view.ByteStride
	if stride == 0 {
		stride = elemSize
	}
	if a.Count > 0 {
		last := a.ByteOffset + (a.Count-1)*stride + elemSize
		if last > len(data) {
			return nil, fmt.Errorf("accessor range %d exceeds view size %d", last, len(data))
		}
	}

	out := make([]byte, a.Count*elemSize)
	for i := 0; i < a.Count; i++ {
		src := a.ByteOffset + i*stride
		copy(out[i*elemSize:(i+1)*elemSize], data[src:src+elemSize])
	}
	return out, nil
}

// ReadFloats reads an accessor as flat float32 component data, applying the
// glTF normalization rules for normalized integer storage. The result holds
// Count*TypeComponents values.
func ReadFloats(doc *gltf.Document, a *gltf.Accessor) ([]float32, error) {
	raw, err := ReadBytes(doc, a)
	if err != nil {
		return nil, err
	}
	n := a.Count * TypeComponents(a.Type)
	out := make([]float32, n)
	switch a.ComponentType {
	case gltf.ComponentFloat:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case gltf.ComponentUbyte:
		for i := 0; i < n; i++ {
			v := float32(raw[i])
			if a.Normalized {
				v /= 255
			}
			out[i] = v
		}
	case gltf.ComponentByte:
		for i := 0; i < n; i++ {
			v := float32(int8(raw[i]))
			if a.Normalized {
				v = max(v/127, -1)
			}
			out[i] = v
		}
	case gltf.ComponentUshort:
		for i := 0; i < n; i++ {
			v := float32(binary.LittleEndian.Uint16(raw[i*2:]))
			if a.Normalized {
				v /= 65535
			}
			out[i] = v
		}
	case gltf.ComponentShort:
		for i := 0; i < n; i++ {
			v := float32(int16(binary.LittleEndian.Uint16(raw[i*2:])))
			if a.Normalized {
				v = max(v/32767, -1)
			}
			out[i] = v
		}
	case gltf.ComponentUint:
		for i := 0; i < n; i++ {
			out[i] = float32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	default:
		return nil, fmt.Errorf("unsupported component type: %v", a.ComponentType)
	}
	return out, nil
}

// AddView appends raw bytes to the document's backing buffer and returns the
// index of a new buffer view covering them. The view is aligned to a 4-byte
// boundary so any component type can be read from offset arithmetic.
func AddView(doc *gltf.Document, data []byte, target gltf.Target) int {
	if len(doc.Buffers) == 0 {
		doc.Buffers = append(doc.Buffers, &gltf.Buffer{})
	}
	buf := doc.Buffers[0]
	for len(buf.Data)%4 != 0 {
		buf.Data = append(buf.Data, 0)
	}
	offset := len(buf.Data)
	buf.Data = append(buf.Data, data...)
	buf.ByteLength = len(buf.Data)

	doc.BufferViews = append(doc.BufferViews, &gltf.BufferView{
		Buffer:     0,
		ByteOffset: offset,
		ByteLength: len(data),
		Target:     target,
	})
	return len(doc.BufferViews) - 1
}

// WriteFloatAccessor stores float32 component data as a new accessor backed
// by a fresh buffer view. Min and max bounds are recorded for scalar data,
// as required for animation inputs.
func WriteFloatAccessor(doc *gltf.Document, t gltf.AccessorType, data []float32) int {
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	view := AddView(doc, raw, 0)
	acc := &gltf.Accessor{
		BufferView:    gltf.Index(view),
		ComponentType: gltf.ComponentFloat,
		Type:          t,
		Count:         len(data) / TypeComponents(t),
	}
	if t == gltf.AccessorScalar && len(data) > 0 {
		lo, hi := data[0], data[0]
		for _, v := range data[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		acc.Min = []float64{float64(lo)}
		acc.Max = []float64{float64(hi)}
	}
	doc.Accessors = append(doc.Accessors, acc)
	return len(doc.Accessors) - 1
}

// ImageBytes returns an image's payload, resolving either its buffer view
// or an embedded base64 data URI. Images stored as external files are not
// resolvable at this layer.
func ImageBytes(doc *gltf.Document, img *gltf.Image) ([]byte, error) {
	if img.BufferView != nil {
		if *img.BufferView < 0 || *img.BufferView >= len(doc.BufferViews) {
			return nil, fmt.Errorf("image references buffer view %d of %d", *img.BufferView, len(doc.BufferViews))
		}
		return ViewBytes(doc, doc.BufferViews[*img.BufferView])
	}
	if strings.HasPrefix(img.URI, "data:") {
		return decodeDataURI(img.URI)
	}
	if img.URI != "" {
		return nil, fmt.Errorf("image %q is stored externally", img.URI)
	}
	return nil, fmt.Errorf("image has no payload")
}

// SetImageBytes replaces an image's payload with new bytes stored in a fresh
// buffer view, updating the MIME type. The previous storage is left for
// SweepData to reclaim.
func SetImageBytes(doc *gltf.Document, img *gltf.Image, data []byte, mimeType string) {
	img.BufferView = gltf.Index(AddView(doc, data, 0))
	img.MimeType = mimeType
	img.URI = ""
}

// decodeDataURI decodes a base64 data URI of the form
// data:[<mediatype>][;base64],<data>.
func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.Index(uri, ",")
	if comma < 0 {
		return nil, fmt.Errorf("malformed data URI")
	}
	header := uri[5:comma]
	if !strings.Contains(header, "base64") {
		return nil, fmt.Errorf("unsupported data URI encoding: %s", header)
	}
	data, err := base64.StdEncoding.DecodeString(uri[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}
