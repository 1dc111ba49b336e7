package e2e

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"muhost/internal/checkpoint"
	"muhost/internal/config"
	"muhost/internal/engine"
	"muhost/internal/httpapi"
	"muhost/internal/manager"
)

const mangaFile = "2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors"

// scaleEngine upscales by pixel replication.
type scaleEngine struct{ scale int }

func (e scaleEngine) Enhance(_ context.Context, img image.Image, _ int) (image.Image, error) {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()*e.scale, b.Dy()*e.scale))
	for y := 0; y < out.Rect.Dy(); y++ {
		for x := 0; x < out.Rect.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x/e.scale, b.Min.Y+y/e.scale))
		}
	}
	return out, nil
}

type replicateBackend struct{ loads atomic.Int32 }

func (b *replicateBackend) Name() string { return "replicate" }

func (b *replicateBackend) Load(_ context.Context, spec engine.LoadSpec) (engine.Engine, error) {
	b.loads.Add(1)
	return scaleEngine{scale: spec.Scale}, nil
}

// writeModel writes a minimal checkpoint already in the canonical layout.
func writeModel(t *testing.T, dir, name string) {
	t.Helper()
	one := make([]byte, 4)
	binary.LittleEndian.PutUint32(one, math.Float32bits(1))
	zero := make([]byte, 4)
	f := &checkpoint.File{Tensors: map[string]checkpoint.Tensor{}}
	for _, prefix := range []string{"conv_first", "body.0.rdb1.conv1", "conv_body", "conv_up1", "conv_up2", "conv_hr", "conv_last"} {
		f.Tensors[prefix+".weight"] = checkpoint.Tensor{DType: "F32", Shape: []int64{1, 1, 1, 1}, Data: one}
		f.Tensors[prefix+".bias"] = checkpoint.Tensor{DType: "F32", Shape: []int64{1}, Data: zero}
	}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("encode checkpoint: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
}

func grayPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func mangaSettings() config.Settings {
	s := config.Defaults()
	s.AutoScanModels = false
	s.ModelMapByType = map[string]map[string]map[string]string{
		config.KindManga: {"2": {"1600": mangaFile}},
	}
	s.IllustrationByQuality = map[string]map[string]string{}
	return s
}

type host struct {
	srv       *httptest.Server
	svc       *manager.Service
	backend   *replicateBackend
	root      string
	modelsDir string
}

// clock is a settable time source shared by the service and the tracker.
type clock struct{ now atomic.Int64 }

func newClock() *clock {
	c := &clock{}
	c.now.Store(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *clock) Now() time.Time { return time.Unix(0, c.now.Load()) }
func (c *clock) Advance(d time.Duration) { c.now.Add(int64(d)) }

func newHost(t *testing.T, s config.Settings, now func() time.Time) *host {
	t.Helper()
	root := t.TempDir()
	h := &host{root: root, modelsDir: filepath.Join(root, "models"), backend: &replicateBackend{}}
	if err := os.MkdirAll(h.modelsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	svc, err := manager.NewWithConfig(manager.ManagerConfig{
		SettingsPath: filepath.Join(root, "config.json"),
		Settings:     s,
		ModelsDir:    h.modelsDir,
		CacheDir:     filepath.Join(root, "cache"),
		Backend:      h.backend,
		Now:          now,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	h.svc = svc
	h.srv = httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(h.srv.Close)
	return h
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPost(t *testing.T, url, contentType string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
