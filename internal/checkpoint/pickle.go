package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

// stateDictKeys are the wrapper entries training frameworks nest the
// parameters under, in lookup order.
var stateDictKeys = []string{"params_ema", "params", "state_dict", "model"}

// IsPickle reports whether path names a PyTorch serialized checkpoint.
func IsPickle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pth", ".pt", ".ckpt", ".bin":
		return true
	}
	return false
}

// ReadPickle loads a PyTorch state dict and returns its tensors as float32.
// Half precision storages are widened; the adapted file records F32.
func ReadPickle(path string) (*File, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, ErrUnsupportedCheckpointFormat(path, err.Error())
	}
	dict, err := stateDict(obj)
	if err != nil {
		return nil, ErrUnsupportedCheckpointFormat(path, err.Error())
	}
	f := &File{Tensors: make(map[string]Tensor, len(dict.Map))}
	for k, entry := range dict.Map {
		name, ok := k.(string)
		if !ok {
			return nil, ErrUnsupportedCheckpointFormat(path, fmt.Sprintf("non-string key %v", k))
		}
		pt, ok := entry.Value.(*pytorch.Tensor)
		if !ok {
			// optimizer state, step counters and the like
			continue
		}
		t, err := fromTorch(pt)
		if err != nil {
			return nil, ErrUnsupportedCheckpointFormat(path, fmt.Sprintf("tensor %s: %v", name, err))
		}
		f.Tensors[name] = t
	}
	if len(f.Tensors) == 0 {
		return nil, ErrUnsupportedCheckpointFormat(path, "no tensors in state dict")
	}
	return f, nil
}

// stateDict unwraps obj down to the ordered dict holding tensors.
func stateDict(obj any) (*types.OrderedDict, error) {
	for depth := 0; depth < 3; depth++ {
		od, ok := obj.(*types.OrderedDict)
		if ok && hasTensor(od) {
			return od, nil
		}
		var next any
		for _, k := range stateDictKeys {
			if v, found := lookup(obj, k); found {
				next = v
				break
			}
		}
		if next == nil {
			break
		}
		obj = next
	}
	return nil, fmt.Errorf("no state dict found (top level %T)", obj)
}

func lookup(obj any, key string) (any, bool) {
	switch d := obj.(type) {
	case *types.OrderedDict:
		if e, ok := d.Map[key]; ok {
			return e.Value, true
		}
		return nil, false
	case interface{ Get(any) (any, bool) }:
		return d.Get(key)
	}
	return nil, false
}

func hasTensor(od *types.OrderedDict) bool {
	for _, e := range od.Map {
		if _, ok := e.Value.(*pytorch.Tensor); ok {
			return true
		}
	}
	return false
}

// fromTorch gathers a possibly strided tensor into contiguous F32 bytes.
func fromTorch(pt *pytorch.Tensor) (Tensor, error) {
	var at func(i int) float32
	var n int
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		n, at = len(s.Data), func(i int) float32 { return s.Data[i] }
	case *pytorch.HalfStorage:
		n, at = len(s.Data), func(i int) float32 { return s.Data[i] }
	case *pytorch.DoubleStorage:
		n, at = len(s.Data), func(i int) float32 { return float32(s.Data[i]) }
	default:
		return Tensor{}, fmt.Errorf("unsupported storage %T", pt.Source)
	}
	if len(pt.Stride) != len(pt.Size) {
		return Tensor{}, fmt.Errorf("stride rank %d does not match size rank %d", len(pt.Stride), len(pt.Size))
	}
	shape := make([]int64, len(pt.Size))
	count := 1
	for i, d := range pt.Size {
		if d < 0 {
			return Tensor{}, fmt.Errorf("negative dimension %d", d)
		}
		shape[i] = int64(d)
		count *= d
	}
	data := make([]byte, 4*count)
	idx := make([]int, len(pt.Size))
	for out := 0; out < count; out++ {
		off := pt.StorageOffset
		for d, v := range idx {
			off += v * pt.Stride[d]
		}
		if off < 0 || off >= n {
			return Tensor{}, fmt.Errorf("element %d outside storage of %d", off, n)
		}
		binary.LittleEndian.PutUint32(data[4*out:], math.Float32bits(at(off)))
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < pt.Size[d] {
				break
			}
			idx[d] = 0
		}
	}
	return Tensor{DType: "F32", Shape: shape, Data: data}, nil
}
