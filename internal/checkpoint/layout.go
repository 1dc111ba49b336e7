package checkpoint

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Layout identifies the parameter naming scheme of an RRDB checkpoint.
type Layout int

const (
	// CanonicalLayout uses conv_first / body.<i>.rdb<k> / conv_up1 ... names.
	CanonicalLayout Layout = iota
	// LegacyLayout uses the sequential model.<n> names of older ESRGAN exports.
	LegacyLayout
)

func (l Layout) String() string {
	if l == LegacyLayout {
		return "legacy"
	}
	return "canonical"
}

var (
	legacyKey  = regexp.MustCompile(`^model\.(\d+)\.(.+)$`)
	legacySub  = regexp.MustCompile(`^model\.1\.sub\.(\d+)\.(.+)$`)
	legacyRDB  = regexp.MustCompile(`^RDB(\d+)\.conv(\d+)\.(?:0\.)?(weight|bias)$`)
	canonBody  = regexp.MustCompile(`^body\.(\d+)\.`)
	paramAlias = []string{"params_ema.", "params."}
)

// DetectLayout reports LegacyLayout when any name looks like model.<n>.*.
func DetectLayout(names []string) Layout {
	for _, n := range names {
		if legacyKey.MatchString(stripPrefix(n)) {
			return LegacyLayout
		}
	}
	return CanonicalLayout
}

func stripPrefix(name string) string {
	for _, p := range paramAlias {
		if strings.HasPrefix(name, p) {
			return strings.TrimPrefix(name, p)
		}
	}
	return name
}

// CanonicalBlocks returns the RRDB block count of canonical names
// (max body.<i> index + 1).
func CanonicalBlocks(names []string) int {
	n := 0
	for _, name := range names {
		if m := canonBody.FindStringSubmatch(name); m != nil {
			i, _ := strconv.Atoi(m[1])
			if i+1 > n {
				n = i + 1
			}
		}
	}
	return n
}

// legacyBlocks returns max sub.<i> carrying RDB keys, plus one.
func legacyBlocks(names []string) int {
	n := 0
	for _, name := range names {
		m := legacySub.FindStringSubmatch(name)
		if m == nil || !strings.HasPrefix(m[2], "RDB") {
			continue
		}
		i, _ := strconv.Atoi(m[1])
		if i+1 > n {
			n = i + 1
		}
	}
	return n
}

// ToCanonical returns f with every tensor under its canonical name and the
// RRDB block count. Tensor payloads are shared, not copied. Canonical input
// only has parameter prefixes stripped.
func ToCanonical(f *File) (*File, int, error) {
	stripped := make(map[string]Tensor, len(f.Tensors))
	for name, t := range f.Tensors {
		stripped[stripPrefix(name)] = t
	}
	names := make([]string, 0, len(stripped))
	for n := range stripped {
		names = append(names, n)
	}
	if DetectLayout(names) == CanonicalLayout {
		return &File{Tensors: stripped, Metadata: f.Metadata}, CanonicalBlocks(names), nil
	}

	blocks := legacyBlocks(names)
	if blocks == 0 {
		return nil, 0, fmt.Errorf("legacy checkpoint without RRDB blocks")
	}
	post := map[int]bool{}
	for _, name := range names {
		m := legacyKey.FindStringSubmatch(name)
		if m == nil {
			return nil, 0, fmt.Errorf("unrecognized tensor %q", name)
		}
		if idx, _ := strconv.Atoi(m[1]); idx >= 2 {
			post[idx] = true
		}
	}
	order := make([]int, 0, len(post))
	for i := range post {
		order = append(order, i)
	}
	sort.Ints(order)
	tail := map[int]string{}
	switch len(order) {
	case 3:
		tail[order[0]], tail[order[1]], tail[order[2]] = "conv_up1", "conv_up2", "conv_last"
	case 4:
		tail[order[0]], tail[order[1]], tail[order[2]], tail[order[3]] = "conv_up1", "conv_up2", "conv_hr", "conv_last"
	default:
		return nil, 0, fmt.Errorf("expected 3 or 4 convolutions after the RRDB trunk, found %d", len(order))
	}

	out := &File{Tensors: make(map[string]Tensor, len(stripped)), Metadata: f.Metadata}
	for _, name := range names {
		t := stripped[name]
		m := legacyKey.FindStringSubmatch(name)
		idx, _ := strconv.Atoi(m[1])
		rest := m[2]
		var canon string
		switch {
		case idx == 0:
			canon = "conv_first." + rest
		case idx == 1:
			sm := legacySub.FindStringSubmatch(name)
			if sm == nil {
				return nil, 0, fmt.Errorf("unrecognized trunk tensor %q", name)
			}
			i, _ := strconv.Atoi(sm[1])
			switch {
			case i < blocks:
				rm := legacyRDB.FindStringSubmatch(sm[2])
				if rm == nil {
					return nil, 0, fmt.Errorf("unrecognized block tensor %q", name)
				}
				canon = fmt.Sprintf("body.%d.rdb%s.conv%s.%s", i, rm[1], rm[2], rm[3])
			case i == blocks:
				canon = "conv_body." + sm[2]
			default:
				return nil, 0, fmt.Errorf("unexpected trunk index %d in %q", i, name)
			}
		default:
			canon = tail[idx] + "." + rest
		}
		if _, dup := out.Tensors[canon]; dup {
			return nil, 0, fmt.Errorf("duplicate canonical name %q", canon)
		}
		out.Tensors[canon] = t
	}
	return out, blocks, nil
}

// EnsureConvHR synthesizes conv_hr from the nearest upstream convolution
// (conv_up2, then conv_up1, then conv_body) with a zero bias when it is
// missing. It reports whether a tensor was added.
func EnsureConvHR(f *File) (bool, error) {
	if _, ok := f.Tensors["conv_hr.weight"]; ok {
		return false, nil
	}
	for _, src := range []string{"conv_up2", "conv_up1", "conv_body"} {
		w, ok := f.Tensors[src+".weight"]
		if !ok {
			continue
		}
		if len(w.Shape) == 0 {
			return false, fmt.Errorf("%s.weight has no shape", src)
		}
		outCh := w.Shape[0]
		f.Tensors["conv_hr.weight"] = Tensor{DType: w.DType, Shape: append([]int64(nil), w.Shape...), Data: append([]byte(nil), w.Data...)}
		dtype := w.DType
		if b, ok := f.Tensors[src+".bias"]; ok {
			dtype = b.DType
		}
		f.Tensors["conv_hr.bias"] = Tensor{DType: dtype, Shape: []int64{outCh}, Data: make([]byte, outCh*dtypeSizes[dtype])}
		return true, nil
	}
	return false, fmt.Errorf("no convolution to derive conv_hr from")
}
