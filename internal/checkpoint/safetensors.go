package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

const (
	metadataKey   = "__metadata__"
	maxHeaderSize = 100 << 20
)

var dtypeSizes = map[string]int64{
	"F64": 8, "F32": 4, "F16": 2, "BF16": 2,
	"I64": 8, "I32": 4, "I16": 2, "I8": 1, "U8": 1, "BOOL": 1,
}

// Tensor is one named array in a checkpoint. Data is raw little-endian.
type Tensor struct {
	DType string
	Shape []int64
	Data  []byte
}

// NumElements returns the product of the shape.
func (t Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// File is a decoded safetensors container.
type File struct {
	Tensors  map[string]Tensor
	Metadata map[string]string
}

// Names returns tensor names in sorted order.
func (f *File) Names() []string {
	out := make([]string, 0, len(f.Tensors))
	for k := range f.Tensors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type tensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Header is the parsed JSON header without tensor payloads.
type Header struct {
	Tensors  map[string]tensorHeader
	Metadata map[string]string
	size     int64
}

func parseHeader(raw []byte) (*Header, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("header json: %w", err)
	}
	h := &Header{Tensors: make(map[string]tensorHeader, len(top))}
	for name, msg := range top {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &h.Metadata); err != nil {
				return nil, fmt.Errorf("header metadata: %w", err)
			}
			continue
		}
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		size, ok := dtypeSizes[th.DType]
		if !ok {
			return nil, fmt.Errorf("tensor %s: unknown dtype %q", name, th.DType)
		}
		want := size
		for _, d := range th.Shape {
			if d < 0 {
				return nil, fmt.Errorf("tensor %s: negative dimension", name)
			}
			want *= d
		}
		if th.DataOffsets[1]-th.DataOffsets[0] != want || th.DataOffsets[0] < 0 {
			return nil, fmt.Errorf("tensor %s: offsets %v do not match shape %v", name, th.DataOffsets, th.Shape)
		}
		h.Tensors[name] = th
	}
	return h, nil
}

func readHeader(r io.Reader) (*Header, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("header length: %w", err)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("header length %d out of range", n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	h, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	h.size = int64(n)
	return h, nil
}

// ReadHeader reads only the header of the safetensors file at path.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := readHeader(f)
	if err != nil {
		return nil, ErrUnsupportedCheckpointFormat(path, err.Error())
	}
	return h, nil
}

// Decode parses a complete safetensors container.
func Decode(data []byte) (*File, error) {
	r := bytes.NewReader(data)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	payload := data[8+h.size:]
	f := &File{Tensors: make(map[string]Tensor, len(h.Tensors)), Metadata: h.Metadata}
	for name, th := range h.Tensors {
		if th.DataOffsets[1] > int64(len(payload)) {
			return nil, fmt.Errorf("tensor %s: data out of range", name)
		}
		f.Tensors[name] = Tensor{
			DType: th.DType,
			Shape: append([]int64(nil), th.Shape...),
			Data:  payload[th.DataOffsets[0]:th.DataOffsets[1]:th.DataOffsets[1]],
		}
	}
	return f, nil
}

// ReadFile reads and decodes the safetensors file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Decode(data)
	if err != nil {
		return nil, ErrUnsupportedCheckpointFormat(path, err.Error())
	}
	return f, nil
}

// Encode serializes f. Tensors are laid out in sorted name order and the
// header is space-padded to an 8-byte boundary, so equal inputs produce
// byte-identical output.
func (f *File) Encode() ([]byte, error) {
	names := f.Names()
	top := make(map[string]any, len(names)+1)
	if len(f.Metadata) > 0 {
		top[metadataKey] = f.Metadata
	}
	var off int64
	for _, name := range names {
		t := f.Tensors[name]
		size, ok := dtypeSizes[t.DType]
		if !ok {
			return nil, fmt.Errorf("tensor %s: unknown dtype %q", name, t.DType)
		}
		if int64(len(t.Data)) != size*t.NumElements() {
			return nil, fmt.Errorf("tensor %s: %d bytes for shape %v", name, len(t.Data), t.Shape)
		}
		shape := t.Shape
		if shape == nil {
			shape = []int64{}
		}
		top[name] = tensorHeader{DType: t.DType, Shape: shape, DataOffsets: [2]int64{off, off + int64(len(t.Data))}}
		off += int64(len(t.Data))
	}
	hdr, err := json.Marshal(top)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if pad := len(hdr) % 8; pad != 0 {
		hdr = append(hdr, bytes.Repeat([]byte{' '}, 8-pad)...)
	}
	out := make([]byte, 8, 8+int64(len(hdr))+off)
	binary.LittleEndian.PutUint64(out, uint64(len(hdr)))
	out = append(out, hdr...)
	for _, name := range names {
		out = append(out, f.Tensors[name].Data...)
	}
	return out, nil
}
