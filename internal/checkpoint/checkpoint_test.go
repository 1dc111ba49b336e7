package checkpoint

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muhost/internal/checkpoint/checkpointtest"
)

func f32(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func conv(outCh int64, seed float32) (Tensor, Tensor) {
	w := make([]float32, outCh*2)
	for i := range w {
		w[i] = seed + float32(i)
	}
	bias := make([]float32, outCh)
	for i := range bias {
		bias[i] = seed
	}
	return Tensor{DType: "F32", Shape: []int64{outCh, 2, 1, 1}, Data: f32(w...)},
		Tensor{DType: "F32", Shape: []int64{outCh}, Data: f32(bias...)}
}

func addConv(f *File, prefix string, outCh int64, seed float32) {
	w, b := conv(outCh, seed)
	f.Tensors[prefix+".weight"] = w
	f.Tensors[prefix+".bias"] = b
}

// legacyFile builds a two-block legacy export with the given post-trunk indices.
func legacyFile(post []int, keyPrefix string) *File {
	f := &File{Tensors: map[string]Tensor{}}
	addConv(f, keyPrefix+"model.0", 2, 1)
	for i := 0; i < 2; i++ {
		for k := 1; k <= 3; k++ {
			for j := 1; j <= 5; j++ {
				addConv(f, keyPrefix+"model.1.sub."+strconv.Itoa(i)+".RDB"+strconv.Itoa(k)+".conv"+strconv.Itoa(j)+".0", 2, float32(i*100+k*10+j))
			}
		}
	}
	addConv(f, keyPrefix+"model.1.sub.2", 2, 7)
	for n, idx := range post {
		addConv(f, keyPrefix+"model."+strconv.Itoa(idx), 2, float32(50+n))
	}
	return f
}

func canonicalFile(withHR bool) *File {
	f := &File{Tensors: map[string]Tensor{}}
	addConv(f, "conv_first", 2, 1)
	for i := 0; i < 3; i++ {
		addConv(f, "body."+strconv.Itoa(i)+".rdb1.conv1", 2, float32(i))
	}
	addConv(f, "conv_body", 2, 3)
	addConv(f, "conv_up1", 2, 4)
	addConv(f, "conv_up2", 2, 5)
	if withHR {
		addConv(f, "conv_hr", 2, 6)
	}
	addConv(f, "conv_last", 2, 8)
	return f
}

func writeST(t *testing.T, dir, name string, f *File) string {
	t.Helper()
	data, err := f.Encode()
	require.NoError(t, err)
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestEncodeDecodeDeterministic(t *testing.T) {
	f := canonicalFile(true)
	f.Metadata = map[string]string{"a": "b"}
	a, err := f.Encode()
	require.NoError(t, err)
	b, err := f.Encode()
	require.NoError(t, err)
	require.Equal(t, a, b)
	hlen := binary.LittleEndian.Uint64(a[:8])
	assert.Zero(t, hlen%8, "header padded to 8 bytes")

	back, err := Decode(a)
	require.NoError(t, err)
	assert.Equal(t, f.Names(), back.Names())
	assert.Equal(t, "b", back.Metadata["a"])
	assert.Equal(t, f.Tensors["conv_hr.weight"].Data, back.Tensors["conv_hr.weight"].Data)

	_, err = Decode([]byte{1, 2, 3})
	assert.Error(t, err)
	bad := &File{Tensors: map[string]Tensor{"x": {DType: "F32", Shape: []int64{3}, Data: []byte{1}}}}
	_, err = bad.Encode()
	assert.Error(t, err)
}

func TestDetectLayout(t *testing.T) {
	assert.Equal(t, LegacyLayout, DetectLayout(legacyFile([]int{3, 6, 8, 10}, "").Names()))
	assert.Equal(t, LegacyLayout, DetectLayout([]string{"params_ema.model.0.weight"}))
	assert.Equal(t, CanonicalLayout, DetectLayout(canonicalFile(true).Names()))
	assert.Equal(t, "legacy", LegacyLayout.String())
}

func TestToCanonical_LegacyFourTail(t *testing.T) {
	src := legacyFile([]int{3, 6, 8, 10}, "")
	out, blocks, err := ToCanonical(src)
	require.NoError(t, err)
	assert.Equal(t, 2, blocks)
	for _, name := range []string{
		"conv_first.weight", "body.0.rdb1.conv1.weight", "body.1.rdb3.conv5.bias",
		"conv_body.weight", "conv_up1.weight", "conv_up2.bias", "conv_hr.weight", "conv_last.bias",
	} {
		assert.Contains(t, out.Tensors, name)
	}
	assert.Equal(t, src.Tensors["model.8.weight"].Data, out.Tensors["conv_hr.weight"].Data)
	assert.Len(t, out.Tensors, len(src.Tensors))
	assert.Equal(t, 2, CanonicalBlocks(out.Names()))
}

func TestToCanonical_LegacyThreeTailSynthesizesHR(t *testing.T) {
	src := legacyFile([]int{3, 6, 8}, "params_ema.")
	out, blocks, err := ToCanonical(src)
	require.NoError(t, err)
	assert.Equal(t, 2, blocks)
	assert.NotContains(t, out.Tensors, "conv_hr.weight")
	assert.Equal(t, src.Tensors["params_ema.model.8.weight"].Data, out.Tensors["conv_last.weight"].Data)

	added, err := EnsureConvHR(out)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, out.Tensors["conv_up2.weight"].Data, out.Tensors["conv_hr.weight"].Data)
	bias := out.Tensors["conv_hr.bias"]
	assert.Equal(t, []int64{2}, bias.Shape)
	assert.Equal(t, make([]byte, 8), bias.Data)

	added, err = EnsureConvHR(out)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestToCanonical_Rejects(t *testing.T) {
	_, _, err := ToCanonical(legacyFile([]int{3, 6}, ""))
	assert.Error(t, err)
	f := legacyFile([]int{3, 6, 8}, "")
	f.Tensors["model.1.sub.0.weird.weight"] = f.Tensors["model.0.weight"]
	_, _, err = ToCanonical(f)
	assert.Error(t, err)
	_, err = EnsureConvHR(&File{Tensors: map[string]Tensor{}})
	assert.Error(t, err)
}

func TestAdapter_CanonicalWithHRIsNoop(t *testing.T) {
	d := t.TempDir()
	p := writeST(t, d, "canon.safetensors", canonicalFile(true))
	a := NewAdapter(filepath.Join(d, "cache"))
	ad, err := a.Adapt(p)
	require.NoError(t, err)
	assert.Equal(t, Adapted{Path: p, Blocks: 3}, ad)
	assert.Zero(t, a.Conversions())
}

func TestAdapter_LegacyConvertsOnceAndIsIdempotent(t *testing.T) {
	d := t.TempDir()
	p := writeST(t, d, "4x_MangaJaNai_1600p_V1_ESRGAN_70k.safetensors", legacyFile([]int{3, 6, 8}, ""))
	cache := filepath.Join(d, "cache")
	a := NewAdapter(cache)

	first, err := a.Adapt(p)
	require.NoError(t, err)
	assert.True(t, first.Converted)
	assert.Equal(t, 2, first.Blocks)
	assert.Equal(t, filepath.Join(cache, WrappedDir), filepath.Dir(first.Path))

	second, err := a.Adapt(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, a.SourceReads())
	assert.EqualValues(t, 1, a.Conversions())

	// adapting the output is a no-op
	again, err := a.Adapt(first.Path)
	require.NoError(t, err)
	assert.Equal(t, first.Path, again.Path)
	assert.False(t, again.Converted)

	// a fresh adapter finds the file on disk without reading the source
	b := NewAdapter(cache)
	fromDisk, err := b.Adapt(p)
	require.NoError(t, err)
	assert.Equal(t, first, fromDisk)
	assert.Zero(t, b.SourceReads())

	out, err := ReadFile(first.Path)
	require.NoError(t, err)
	assert.Contains(t, out.Tensors, "conv_hr.weight")
	assert.Equal(t, "2", out.Metadata["muhost.blocks"])
}

func TestAdapter_ByteIdenticalAcrossCaches(t *testing.T) {
	d := t.TempDir()
	p := writeST(t, d, "legacy.safetensors", legacyFile([]int{3, 6, 8, 10}, ""))
	a1, err := NewAdapter(filepath.Join(d, "c1")).Adapt(p)
	require.NoError(t, err)
	a2, err := NewAdapter(filepath.Join(d, "c2")).Adapt(p)
	require.NoError(t, err)
	b1, err := os.ReadFile(a1.Path)
	require.NoError(t, err)
	b2, err := os.ReadFile(a2.Path)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestAdapter_ConcurrentSameSignature(t *testing.T) {
	d := t.TempDir()
	p := writeST(t, d, "legacy.safetensors", legacyFile([]int{3, 6, 8}, ""))
	a := NewAdapter(filepath.Join(d, "cache"))
	var wg sync.WaitGroup
	results := make([]Adapted, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ad, err := a.Adapt(p)
			assert.NoError(t, err)
			results[i] = ad
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.EqualValues(t, 1, a.Conversions())
}

// writePTH stores f as a torch.save archive.
func writePTH(t *testing.T, dir, name, wrap string, f *File) string {
	t.Helper()
	params := make([]checkpointtest.Param, 0, len(f.Tensors))
	for _, n := range f.Names() {
		tn := f.Tensors[n]
		vals := make([]float32, len(tn.Data)/4)
		for i := range vals {
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(tn.Data[4*i:]))
		}
		shape := make([]int, len(tn.Shape))
		for i, d := range tn.Shape {
			shape[i] = int(d)
		}
		params = append(params, checkpointtest.Param{Name: n, Shape: shape, Data: vals})
	}
	p := filepath.Join(dir, name)
	require.NoError(t, checkpointtest.WriteTorch(p, wrap, params))
	return p
}

func TestReadPickle(t *testing.T) {
	d := t.TempDir()
	src := legacyFile([]int{3, 6, 8}, "")
	p := writePTH(t, d, "legacy.pth", "", src)
	f, err := ReadPickle(p)
	require.NoError(t, err)
	assert.Equal(t, src.Names(), f.Names())
	for _, n := range src.Names() {
		assert.Equal(t, src.Tensors[n], f.Tensors[n], n)
	}

	wrapped := writePTH(t, d, "wrapped.pth", "params_ema", canonicalFile(false))
	f, err = ReadPickle(wrapped)
	require.NoError(t, err)
	assert.Contains(t, f.Tensors, "conv_up2.weight")
	assert.Equal(t, []int64{2, 2, 1, 1}, f.Tensors["conv_first.weight"].Shape)
}

func TestAdapter_LegacyPickleConverts(t *testing.T) {
	d := t.TempDir()
	src := legacyFile([]int{3, 6, 8}, "")
	p := writePTH(t, d, "2x_MangaJaNai_1600p_V1_ESRGAN_90k.pth", "", src)
	cache := filepath.Join(d, "cache")
	a := NewAdapter(cache)

	ad, err := a.Adapt(p)
	require.NoError(t, err)
	assert.True(t, ad.Converted)
	assert.Equal(t, 2, ad.Blocks)
	assert.Equal(t, filepath.Join(cache, WrappedDir), filepath.Dir(ad.Path))

	out, err := ReadFile(ad.Path)
	require.NoError(t, err)
	assert.Equal(t, src.Tensors["model.0.weight"].Data, out.Tensors["conv_first.weight"].Data)
	assert.Equal(t, out.Tensors["conv_up2.weight"].Data, out.Tensors["conv_hr.weight"].Data)
	assert.Equal(t, "2x_MangaJaNai_1600p_V1_ESRGAN_90k.pth", out.Metadata["muhost.source"])
}

func TestAdapter_CanonicalPickleIsRewritten(t *testing.T) {
	d := t.TempDir()
	p := writePTH(t, d, "canon.pth", "params", canonicalFile(true))
	ad, err := NewAdapter(filepath.Join(d, "cache")).Adapt(p)
	require.NoError(t, err)
	assert.True(t, ad.Converted)
	assert.NotEqual(t, p, ad.Path)
	assert.Equal(t, 3, ad.Blocks)
	_, err = ReadHeader(ad.Path)
	require.NoError(t, err)
}

func TestAdapter_ReconvertsAfterWrappedDirRemoved(t *testing.T) {
	d := t.TempDir()
	p := writeST(t, d, "legacy.safetensors", legacyFile([]int{3, 6, 8}, ""))
	a := NewAdapter(filepath.Join(d, "cache"))
	first, err := a.Adapt(p)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(a.Dir()))
	second, err := a.Adapt(p)
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)
	assert.FileExists(t, second.Path)
	assert.EqualValues(t, 2, a.Conversions())

	// Forget drops remembered results even when the file survived
	a.Forget()
	third, err := a.Adapt(p)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.EqualValues(t, 2, a.SourceReads(), "found on disk, source not re-read")
}

func TestAdapter_Errors(t *testing.T) {
	d := t.TempDir()
	pth := filepath.Join(d, "old.pth")
	require.NoError(t, os.WriteFile(pth, []byte("PK"), 0o644))
	a := NewAdapter(filepath.Join(d, "cache"))
	_, err := a.Adapt(pth)
	require.Error(t, err)
	assert.True(t, IsUnsupportedCheckpointFormat(err))

	garbage := filepath.Join(d, "garbage.safetensors")
	require.NoError(t, os.WriteFile(garbage, []byte("not a container"), 0o644))
	_, err = a.Adapt(garbage)
	assert.True(t, IsUnsupportedCheckpointFormat(err))

	_, err = a.Adapt(filepath.Join(d, "missing.safetensors"))
	require.Error(t, err)
	assert.False(t, IsUnsupportedCheckpointFormat(err))
}

func TestSignatureChangesWithContent(t *testing.T) {
	d := t.TempDir()
	p := writeST(t, d, "m.safetensors", canonicalFile(true))
	s1, err := Signature(p)
	require.NoError(t, err)
	assert.Len(t, s1, 24)
	s1b, _ := Signature(p)
	assert.Equal(t, s1, s1b)
	require.NoError(t, os.WriteFile(p, []byte("different length content"), 0o644))
	s2, err := Signature(p)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}
