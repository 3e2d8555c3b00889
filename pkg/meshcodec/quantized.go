package meshcodec

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

var blobMagic = [4]byte{'O', 'M', 'C', '1'}

const (
	flagNormals   = 1 << 0
	flagTexCoords = 1 << 1
)

// QuantizedCodec is the pure-Go Codec implementation. It is always
// available; a native binding could replace it behind the same interface.
type QuantizedCodec struct{}

// Available reports whether the codec can run in this process.
func (QuantizedCodec) Available() bool { return true }

// Compress packs the primitive into a self-describing blob: a header with
// the quantization parameters, followed by a deflate stream holding
// delta-coded quantized attributes and the high-watermark-coded index
// buffer. Index coding exploits triangle adjacency: meshes with good
// vertex locality produce small deltas that deflate squeezes further.
func (QuantizedCodec) Compress(prim *Primitive, params Params) ([]byte, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(prim.Positions) == 0 {
		return nil, &CompressionError{Reason: "primitive has no positions"}
	}
	if len(prim.Normals) > 0 && len(prim.Normals) != len(prim.Positions) {
		return nil, &CompressionError{Reason: "normal count does not match vertex count"}
	}
	if len(prim.TexCoords) > 0 && len(prim.TexCoords) != len(prim.Positions) {
		return nil, &CompressionError{Reason: "texcoord count does not match vertex count"}
	}
	for i, idx := range prim.Indices {
		if int(idx) >= len(prim.Positions) {
			return nil, &CompressionError{Reason: fmt.Sprintf("index %d at %d exceeds vertex count %d", idx, i, len(prim.Positions))}
		}
	}

	var flags uint8
	if len(prim.Normals) > 0 {
		flags |= flagNormals
	}
	if len(prim.TexCoords) > 0 {
		flags |= flagTexCoords
	}

	var head bytes.Buffer
	head.Write(blobMagic[:])
	head.WriteByte(prim.Mode)
	head.WriteByte(flags)
	writeU32(&head, uint32(len(prim.Positions)))
	writeU32(&head, uint32(len(prim.Indices)))

	var payload bytes.Buffer
	pos := flatten3(prim.Positions)
	if err := encodeStream(&head, &payload, pos, 3, params.PositionBits); err != nil {
		return nil, err
	}
	if flags&flagNormals != 0 {
		if err := encodeStream(&head, &payload, flatten3(prim.Normals), 3, params.NormalBits); err != nil {
			return nil, err
		}
	}
	if flags&flagTexCoords != 0 {
		if err := encodeStream(&head, &payload, flatten2(prim.TexCoords), 2, params.TexcoordBits); err != nil {
			return nil, err
		}
	}
	encodeIndices(&payload, prim.Indices)

	out := bytes.NewBuffer(head.Bytes())
	fw, err := flate.NewWriter(out, flate.BestCompression)
	if err != nil {
		return nil, &CompressionError{Reason: "deflate init", Err: err}
	}
	if _, err := fw.Write(payload.Bytes()); err != nil {
		return nil, &CompressionError{Reason: "deflate write", Err: err}
	}
	if err := fw.Close(); err != nil {
		return nil, &CompressionError{Reason: "deflate close", Err: err}
	}
	return out.Bytes(), nil
}

// Decompress reconstructs attribute and index streams from a blob. Values
// carry the quantization error of the widths recorded in the header,
// bounded by half a quantization step per component.
func (QuantizedCodec) Decompress(blob []byte) (*Primitive, error) {
	r := bytes.NewReader(blob)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != blobMagic {
		return nil, &CompressionError{Reason: "not a compressed mesh blob"}
	}
	mode, err := r.ReadByte()
	if err != nil {
		return nil, &CompressionError{Reason: "truncated header", Err: err}
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, &CompressionError{Reason: "truncated header", Err: err}
	}
	vertexCount, err := readU32(r)
	if err != nil {
		return nil, &CompressionError{Reason: "truncated header", Err: err}
	}
	indexCount, err := readU32(r)
	if err != nil {
		return nil, &CompressionError{Reason: "truncated header", Err: err}
	}
	const maxStreamLen = 1 << 28 // cap reconstruction size for corrupt headers
	if vertexCount == 0 || vertexCount > maxStreamLen || indexCount > maxStreamLen {
		return nil, &CompressionError{Reason: "implausible stream sizes in header"}
	}

	posQ, err := readQuantizerHeader(r, 3)
	if err != nil {
		return nil, err
	}
	var normQ, uvQ *quantizer
	if flags&flagNormals != 0 {
		if normQ, err = readQuantizerHeader(r, 3); err != nil {
			return nil, err
		}
	}
	if flags&flagTexCoords != 0 {
		if uvQ, err = readQuantizerHeader(r, 2); err != nil {
			return nil, err
		}
	}

	payload, err := io.ReadAll(flate.NewReader(r))
	if err != nil {
		return nil, &CompressionError{Reason: "inflate", Err: err}
	}
	pr := bytes.NewReader(payload)

	prim := &Primitive{Mode: mode}
	pos, err := decodeStream(pr, posQ, int(vertexCount))
	if err != nil {
		return nil, err
	}
	prim.Positions = unflatten3(pos)
	if normQ != nil {
		norm, err := decodeStream(pr, normQ, int(vertexCount))
		if err != nil {
			return nil, err
		}
		prim.Normals = unflatten3(norm)
	}
	if uvQ != nil {
		uv, err := decodeStream(pr, uvQ, int(vertexCount))
		if err != nil {
			return nil, err
		}
		prim.TexCoords = unflatten2(uv)
	}
	prim.Indices, err = decodeIndices(pr, int(indexCount), int(vertexCount))
	if err != nil {
		return nil, err
	}
	return prim, nil
}

// encodeStream writes the quantizer header for one attribute and appends
// the per-component delta-coded quantized values to the payload.
func encodeStream(head, payload *bytes.Buffer, data []float32, components, bits int) error {
	q := newQuantizer(bits, components)
	if err := q.fit(data, components); err != nil {
		return err
	}
	head.WriteByte(uint8(bits))
	for c := 0; c < components; c++ {
		writeF32(head, q.min[c])
		writeF32(head, q.rng[c])
	}
	count := len(data) / components
	for c := 0; c < components; c++ {
		prev := int64(0)
		for i := 0; i < count; i++ {
			v := int64(q.quantize(data[i*components+c], c))
			writeVarint(payload, zigzag(v-prev))
			prev = v
		}
	}
	return nil
}

func decodeStream(r *bytes.Reader, q *quantizer, count int) ([]float32, error) {
	components := len(q.min)
	out := make([]float32, count*components)
	for c := 0; c < components; c++ {
		prev := int64(0)
		for i := 0; i < count; i++ {
			d, err := readVarint(r)
			if err != nil {
				return nil, &CompressionError{Reason: "truncated attribute stream", Err: err}
			}
			prev += unzigzag(d)
			if prev < 0 || prev > int64(q.maxQ()) {
				return nil, &CompressionError{Reason: "attribute value out of quantized range"}
			}
			out[i*components+c] = q.dequantize(uint32(prev), c)
		}
	}
	return out, nil
}

// encodeIndices writes indices relative to a high-water mark. Locality in
// triangle strips keeps the deltas near zero, and a vertex referenced for
// the first time in first-use order encodes as exactly zero.
func encodeIndices(payload *bytes.Buffer, indices []uint32) {
	hwm := int64(0)
	for _, idx := range indices {
		writeVarint(payload, zigzag(hwm-int64(idx)))
		if int64(idx) >= hwm {
			hwm = int64(idx) + 1
		}
	}
}

func decodeIndices(r *bytes.Reader, count, vertexCount int) ([]uint32, error) {
	out := make([]uint32, count)
	hwm := int64(0)
	for i := range out {
		d, err := readVarint(r)
		if err != nil {
			return nil, &CompressionError{Reason: "truncated index stream", Err: err}
		}
		idx := hwm - unzigzag(d)
		if idx < 0 || idx >= int64(vertexCount) {
			return nil, &CompressionError{Reason: fmt.Sprintf("decoded index %d outside vertex count %d", idx, vertexCount)}
		}
		if idx >= hwm {
			hwm = idx + 1
		}
		out[i] = uint32(idx)
	}
	return out, nil
}

func readQuantizerHeader(r *bytes.Reader, components int) (*quantizer, error) {
	bits, err := r.ReadByte()
	if err != nil {
		return nil, &CompressionError{Reason: "truncated quantizer header", Err: err}
	}
	if bits < 2 || bits > 24 {
		return nil, &CompressionError{Reason: fmt.Sprintf("quantization width %d out of range", bits)}
	}
	q := newQuantizer(int(bits), components)
	for c := 0; c < components; c++ {
		if q.min[c], err = readF32(r); err != nil {
			return nil, &CompressionError{Reason: "truncated quantizer header", Err: err}
		}
		if q.rng[c], err = readF32(r); err != nil {
			return nil, &CompressionError{Reason: "truncated quantizer header", Err: err}
		}
	}
	return q, nil
}

func flatten3(v [][3]float32) []float32 {
	out := make([]float32, 0, len(v)*3)
	for _, e := range v {
		out = append(out, e[0], e[1], e[2])
	}
	return out
}

func flatten2(v [][2]float32) []float32 {
	out := make([]float32, 0, len(v)*2)
	for _, e := range v {
		out = append(out, e[0], e[1])
	}
	return out
}

func unflatten3(f []float32) [][3]float32 {
	out := make([][3]float32, len(f)/3)
	for i := range out {
		out[i] = [3]float32{f[i*3], f[i*3+1], f[i*3+2]}
	}
	return out
}

func unflatten2(f []float32) [][2]float32 {
	out := make([][2]float32, len(f)/2)
	for i := range out {
		out[i] = [2]float32{f[i*2], f[i*2+1]}
	}
	return out
}

func zigzag(v int64) uint64   { return uint64((v << 1) ^ (v >> 63)) }
func unzigzag(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

func writeVarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readVarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func writeF32(buf *bytes.Buffer, v float32) {
	writeU32(buf, math.Float32bits(v))
}

func readF32(r *bytes.Reader) (float32, error) {
	u, err := readU32(r)
	return math.Float32frombits(u), err
}
