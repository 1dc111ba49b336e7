// Package checkpointtest writes small PyTorch checkpoints for tests.
package checkpointtest

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"strconv"
)

// Param is one float32 tensor of a state dict.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
}

// WriteTorch writes params as a torch.save zip archive holding an
// OrderedDict state dict. A non-empty wrap nests the state dict under that
// key, the way training checkpoints store params_ema.
func WriteTorch(path, wrap string, params []Param) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := addFile(zw, "archive/data.pkl", statePickle(wrap, params)); err != nil {
		return err
	}
	for i, p := range params {
		raw := make([]byte, 4*len(p.Data))
		for j, v := range p.Data {
			binary.LittleEndian.PutUint32(raw[4*j:], math.Float32bits(v))
		}
		if err := addFile(zw, "archive/data/"+strconv.Itoa(i), raw); err != nil {
			return err
		}
	}
	if err := addFile(zw, "archive/version", []byte("3\n")); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func addFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// pickle protocol 2 opcodes
const (
	opProto      = 0x80
	opGlobal     = 'c'
	opMark       = '('
	opTuple      = 't'
	opEmptyTuple = ')'
	opReduce     = 'R'
	opBinPersID  = 'Q'
	opBinInt     = 'J'
	opBinUnicode = 'X'
	opNewFalse   = 0x89
	opSetItems   = 'u'
	opStop       = '.'
)

type pickler struct{ bytes.Buffer }

func (p *pickler) global(module, name string) {
	p.WriteByte(opGlobal)
	p.WriteString(module + "\n" + name + "\n")
}

func (p *pickler) str(s string) {
	p.WriteByte(opBinUnicode)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	p.Write(n[:])
	p.WriteString(s)
}

func (p *pickler) num(v int) {
	p.WriteByte(opBinInt)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(int32(v)))
	p.Write(n[:])
}

func (p *pickler) ints(vs []int) {
	p.WriteByte(opMark)
	for _, v := range vs {
		p.num(v)
	}
	p.WriteByte(opTuple)
}

func (p *pickler) orderedDict() {
	p.global("collections", "OrderedDict")
	p.WriteByte(opEmptyTuple)
	p.WriteByte(opReduce)
}

func (p *pickler) tensor(key string, shape []int, numel int) {
	p.global("torch._utils", "_rebuild_tensor_v2")
	p.WriteByte(opMark)

	p.WriteByte(opMark)
	p.str("storage")
	p.global("torch", "FloatStorage")
	p.str(key)
	p.str("cpu")
	p.num(numel)
	p.WriteByte(opTuple)
	p.WriteByte(opBinPersID)

	p.num(0)
	p.ints(shape)
	p.ints(contiguousStride(shape))
	p.WriteByte(opNewFalse)
	p.orderedDict()
	p.WriteByte(opTuple)
	p.WriteByte(opReduce)
}

func statePickle(wrap string, params []Param) []byte {
	var p pickler
	p.WriteByte(opProto)
	p.WriteByte(2)
	if wrap != "" {
		p.orderedDict()
		p.WriteByte(opMark)
		p.str(wrap)
	}
	p.orderedDict()
	p.WriteByte(opMark)
	for i, prm := range params {
		p.str(prm.Name)
		p.tensor(strconv.Itoa(i), prm.Shape, len(prm.Data))
	}
	p.WriteByte(opSetItems)
	if wrap != "" {
		p.WriteByte(opSetItems)
	}
	p.WriteByte(opStop)
	return p.Bytes()
}

func contiguousStride(shape []int) []int {
	stride := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		stride[i] = acc
		acc *= shape[i]
	}
	return stride
}
