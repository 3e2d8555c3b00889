// Package codec serializes glTF documents to and from bytes. Decoding
// accepts GLB containers and JSON glTF with embedded buffers and validates
// the reference graph before handing the document to any transform;
// encoding always emits GLB, repacking live byte ranges into a single
// contiguous binary chunk.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/meshcodec"
)

const (
	glbMagic   = 0x46546C67 // "glTF" little-endian
	glbVersion = 2
)

// supportedExtensions lists the extensions this module can honor. An asset
// requiring anything else cannot be processed faithfully and is rejected.
var supportedExtensions = map[string]bool{
	meshcodec.ExtensionName: true,
}

// DecodeError reports malformed or unsupported input. It is fatal: no
// transform runs on a document that failed to decode.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a failed final serialization, typically inconsistent
// byte-offset bookkeeping left behind by a transform. It is fatal: no
// output bytes exist.
type EncodeError struct {
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode: %s: %v", e.Reason, e.Err)
	}
	return "encode: " + e.Reason
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Decode parses a GLB or JSON glTF asset and validates its reference graph.
// Buffers must be embedded (GLB binary chunk or base64 data URI); assets
// referencing external buffer files are rejected at this boundary.
func Decode(data []byte) (*gltf.Document, error) {
	if len(data) >= 4 && binary.LittleEndian.Uint32(data[:4]) == glbMagic {
		if err := checkGLBHeader(data); err != nil {
			return nil, &DecodeError{Reason: "invalid GLB container", Err: err}
		}
	}

	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, &DecodeError{Reason: "malformed asset", Err: err}
	}

	for _, name := range doc.ExtensionsRequired {
		if !supportedExtensions[name] {
			return nil, &DecodeError{Reason: fmt.Sprintf("unsupported required extension %q", name)}
		}
	}

	for i, buf := range doc.Buffers {
		if len(buf.Data) == 0 && buf.URI != "" && !strings.HasPrefix(buf.URI, "data:") {
			return nil, &DecodeError{Reason: fmt.Sprintf("buffer %d references external file %q", i, buf.URI)}
		}
	}
	if err := Validate(doc); err != nil {
		return nil, &DecodeError{Reason: "invalid document", Err: err}
	}
	return doc, nil
}

// Encode serializes the document as GLB. All live buffer views are merged
// into one contiguous binary chunk with recomputed offsets, which is also
// what reclaims byte ranges orphaned by pruning. The document is validated
// first so bookkeeping errors surface here rather than as a corrupt file.
// Encode rewrites the document's buffer tables in place.
func Encode(doc *gltf.Document) ([]byte, error) {
	if err := Validate(doc); err != nil {
		return nil, &EncodeError{Reason: "inconsistent document", Err: err}
	}
	if err := repack(doc); err != nil {
		return nil, &EncodeError{Reason: "buffer repack", Err: err}
	}

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, &EncodeError{Reason: "serialization", Err: err}
	}
	return buf.Bytes(), nil
}

// checkGLBHeader validates the 12-byte GLB header: magic, version 2, and a
// declared total length that fits the input.
func checkGLBHeader(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("container truncated: %d bytes", len(data))
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != glbVersion {
		return fmt.Errorf("unsupported container version %d", v)
	}
	if l := binary.LittleEndian.Uint32(data[8:12]); int(l) > len(data) {
		return fmt.Errorf("declared length %d exceeds input size %d", l, len(data))
	}
	return nil
}

// repack merges every buffer view's bytes into a single buffer, aligned to
// 4-byte boundaries, and rewrites view origins. Byte ranges not covered by
// any view are dropped.
func repack(doc *gltf.Document) error {
	if len(doc.BufferViews) == 0 {
		doc.Buffers = nil
		return nil
	}

	var merged []byte
	for i, v := range doc.BufferViews {
		data, err := document.ViewBytes(doc, v)
		if err != nil {
			return fmt.Errorf("buffer view %d: %w", i, err)
		}
		for len(merged)%4 != 0 {
			merged = append(merged, 0)
		}
		v.Buffer = 0
		v.ByteOffset = len(merged)
		merged = append(merged, data...)
	}
	doc.Buffers = []*gltf.Buffer{{
		ByteLength: len(merged),
		Data:       merged,
	}}
	return nil
}
