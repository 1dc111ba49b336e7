// Package checkpoint normalizes RRDB super-resolution checkpoints into the
// canonical parameter layout the compute backends load.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"muhost/internal/common/fsutil"
)

const (
	// Version is mixed into signatures; bump it when conversion output changes.
	Version = "a1"
	// WrappedDir is the cache subdirectory holding adapted checkpoints.
	WrappedDir = "wrapped_models"

	blocksMetaKey  = "muhost.blocks"
	sourceMetaKey  = "muhost.source"
	versionMetaKey = "muhost.adapter"
)

// Adapted describes a checkpoint ready for loading.
type Adapted struct {
	Path      string
	Blocks    int
	Converted bool
}

// Adapter converts checkpoints once per signature and remembers the result.
type Adapter struct {
	dir string

	mu    sync.Mutex
	known map[string]Adapted

	group       singleflight.Group
	reads       atomic.Int64
	conversions atomic.Int64
}

// NewAdapter stores adapted files under <cacheDir>/wrapped_models.
func NewAdapter(cacheDir string) *Adapter {
	return &Adapter{dir: filepath.Join(cacheDir, WrappedDir), known: map[string]Adapted{}}
}

// Dir returns the directory adapted checkpoints are written to.
func (a *Adapter) Dir() string { return a.dir }

// SourceReads counts full reads of source checkpoints.
func (a *Adapter) SourceReads() int64 { return a.reads.Load() }

// Conversions counts adapted files written.
func (a *Adapter) Conversions() int64 { return a.conversions.Load() }

// Signature identifies a checkpoint file by absolute path, size, mtime and
// adapter version.
func Signature(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s", abs, fi.Size(), fi.ModTime().UnixNano(), Version)
	return hex.EncodeToString(h.Sum(nil))[:24], nil
}

// Adapt returns a loadable checkpoint for src. Canonical safetensors that
// already carry conv_hr come back unchanged; everything else, including every
// PyTorch pickle, is converted to <dir>/<signature>.safetensors. Repeat calls
// for an unchanged file reuse the earlier result without reading the source
// again, as long as the converted file is still on disk.
func (a *Adapter) Adapt(src string) (Adapted, error) {
	sig, err := Signature(src)
	if err != nil {
		return Adapted{}, fmt.Errorf("checkpoint signature: %w", err)
	}
	a.mu.Lock()
	if ad, ok := a.known[sig]; ok {
		if _, err := os.Stat(ad.Path); err == nil {
			a.mu.Unlock()
			return ad, nil
		}
		delete(a.known, sig)
	}
	a.mu.Unlock()

	v, err, _ := a.group.Do(sig, func() (any, error) {
		ad, err := a.adapt(src, sig)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.known[sig] = ad
		a.mu.Unlock()
		return ad, nil
	})
	if err != nil {
		return Adapted{}, err
	}
	return v.(Adapted), nil
}

func (a *Adapter) adapt(src, sig string) (Adapted, error) {
	dst := filepath.Join(a.dir, sig+".safetensors")
	if h, err := ReadHeader(dst); err == nil {
		if n, err := strconv.Atoi(h.Metadata[blocksMetaKey]); err == nil {
			return Adapted{Path: dst, Blocks: n, Converted: true}, nil
		}
	}

	a.reads.Add(1)
	pickled := IsPickle(src)
	var f *File
	var err error
	if pickled {
		f, err = ReadPickle(src)
	} else {
		f, err = ReadFile(src)
	}
	if err != nil {
		return Adapted{}, err
	}
	canon, blocks, err := ToCanonical(f)
	if err != nil {
		return Adapted{}, ErrUnsupportedCheckpointFormat(src, err.Error())
	}
	legacy := DetectLayout(f.Names()) == LegacyLayout
	added, err := EnsureConvHR(canon)
	if err != nil {
		return Adapted{}, ErrUnsupportedCheckpointFormat(src, err.Error())
	}
	if !pickled && !legacy && !added && !renamed(f, canon) {
		return Adapted{Path: src, Blocks: blocks}, nil
	}

	canon.Metadata = map[string]string{
		blocksMetaKey:  strconv.Itoa(blocks),
		sourceMetaKey:  filepath.Base(src),
		versionMetaKey: Version,
	}
	data, err := canon.Encode()
	if err != nil {
		return Adapted{}, fmt.Errorf("encode adapted checkpoint: %w", err)
	}
	if err := fsutil.WriteFileAtomic(dst, data, 0o644); err != nil {
		return Adapted{}, fmt.Errorf("write adapted checkpoint: %w", err)
	}
	a.conversions.Add(1)
	return Adapted{Path: dst, Blocks: blocks, Converted: true}, nil
}

// Forget drops every remembered conversion, for use after the wrapped
// directory was cleared.
func (a *Adapter) Forget() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.known)
}

// renamed reports whether prefix stripping changed any tensor name.
func renamed(orig, canon *File) bool {
	for name := range orig.Tensors {
		if _, ok := canon.Tensors[name]; !ok {
			return true
		}
	}
	return false
}
