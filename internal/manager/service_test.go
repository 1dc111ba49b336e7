package manager

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muhost/internal/checkpoint"
	"muhost/internal/checkpoint/checkpointtest"
	"muhost/internal/config"
	"muhost/internal/engine"
	"muhost/internal/resolver"
)

const mangaFile = "2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors"

type fakeEngine struct {
	scale int
	fill  color.RGBA
}

func (e *fakeEngine) Enhance(_ context.Context, img image.Image, _ int) (image.Image, error) {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()*e.scale, b.Dy()*e.scale))
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = e.fill.R, e.fill.G, e.fill.B, e.fill.A
	}
	return out, nil
}

type fakeBackend struct {
	mu    sync.Mutex
	specs []engine.LoadSpec
	fill  color.RGBA
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Load(_ context.Context, spec engine.LoadSpec) (engine.Engine, error) {
	b.mu.Lock()
	b.specs = append(b.specs, spec)
	b.mu.Unlock()
	return &fakeEngine{scale: spec.Scale, fill: b.fill}, nil
}

func (b *fakeBackend) loads() []engine.LoadSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]engine.LoadSpec(nil), b.specs...)
}

func f32(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// writeCheckpoint writes a tiny canonical checkpoint that needs no conversion.
func writeCheckpoint(t *testing.T, dir, name string) string {
	t.Helper()
	f := &checkpoint.File{Tensors: map[string]checkpoint.Tensor{}}
	for _, prefix := range []string{"conv_first", "body.0.rdb1.conv1", "conv_body", "conv_up1", "conv_up2", "conv_hr", "conv_last"} {
		f.Tensors[prefix+".weight"] = checkpoint.Tensor{DType: "F32", Shape: []int64{1, 1, 1, 1}, Data: f32(1)}
		f.Tensors[prefix+".bias"] = checkpoint.Tensor{DType: "F32", Shape: []int64{1}, Data: f32(0)}
	}
	data, err := f.Encode()
	require.NoError(t, err)
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// writeTorchCheckpoint writes a canonical state dict without conv_hr as a
// torch.save archive nested under params_ema.
func writeTorchCheckpoint(t *testing.T, dir, name string) string {
	t.Helper()
	var params []checkpointtest.Param
	for _, prefix := range []string{"conv_first", "body.0.rdb1.conv1", "conv_body", "conv_up1", "conv_up2", "conv_last"} {
		params = append(params,
			checkpointtest.Param{Name: prefix + ".weight", Shape: []int{1, 1, 1, 1}, Data: []float32{1}},
			checkpointtest.Param{Name: prefix + ".bias", Shape: []int{1}, Data: []float32{0}},
		)
	}
	p := filepath.Join(dir, name)
	require.NoError(t, checkpointtest.WriteTorch(p, "params_ema", params))
	return p
}

func grayPNG(t *testing.T, w, h int, v uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	svc       *Service
	backend   *fakeBackend
	pub       *MemoryPublisher
	modelsDir string
	cfgPath   string
}

func mangaOnly() config.Settings {
	s := config.Defaults()
	s.AutoScanModels = false
	s.ModelMapByType = map[string]map[string]map[string]string{
		config.KindManga: {"2": {"1600": mangaFile}},
	}
	s.IllustrationByQuality = map[string]map[string]string{}
	return s
}

func newFixture(t *testing.T, s config.Settings, withBackend bool) *fixture {
	t.Helper()
	root := t.TempDir()
	fx := &fixture{
		pub:       NewMemoryPublisher(),
		modelsDir: filepath.Join(root, "models"),
		cfgPath:   filepath.Join(root, "config.json"),
	}
	require.NoError(t, os.MkdirAll(fx.modelsDir, 0o755))
	cfg := ManagerConfig{
		SettingsPath: fx.cfgPath,
		Settings:     s,
		ModelsDir:    fx.modelsDir,
		CacheDir:     filepath.Join(root, "cache"),
		Publisher:    fx.pub,
	}
	if withBackend {
		fx.backend = &fakeBackend{fill: color.RGBA{A: 255}}
		cfg.Backend = fx.backend
	}
	svc, err := NewWithConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	fx.svc = svc
	return fx
}

func TestEnhance_GrayscaleBodyUsesMangaBucketThenCache(t *testing.T) {
	fx := newFixture(t, mangaOnly(), true)
	ckpt := writeCheckpoint(t, fx.modelsDir, mangaFile)
	body := grayPNG(t, 8, 8, 120)

	res, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: body, Scale: 2, Quality: "balanced"})
	require.NoError(t, err)
	assert.False(t, res.Passthrough)
	assert.Equal(t, "manga:1600p x2 balanced", res.Model)
	assert.Equal(t, "image/png", res.ContentType)
	out, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), out.Bounds())

	specs := fx.backend.loads()
	require.Len(t, specs, 1)
	assert.Equal(t, ckpt, specs[0].Path, "canonical checkpoints load in place")
	assert.Equal(t, 2, specs[0].Scale)
	assert.Equal(t, 1, specs[0].Blocks)

	again, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: body, Scale: 2, Quality: "balanced"})
	require.NoError(t, err)
	assert.Equal(t, ModelCache, again.Model)
	assert.Equal(t, res.Data, again.Data)
	assert.Len(t, fx.backend.loads(), 1)
	assert.Len(t, fx.pub.Named(EventEnhanceDone), 1)

	st := fx.svc.Status()
	assert.True(t, st.OK)
	assert.EqualValues(t, 1, st.LoadsTotal)
	assert.EqualValues(t, 1, st.CacheHitsTotal)
	assert.EqualValues(t, 1, st.CacheMissesTotal)
	assert.Equal(t, "fake", st.Backend)
	require.NotNil(t, st.Engine)
	assert.Equal(t, ckpt, st.Engine.Path)
}

func TestEnhance_PassthroughWhenBackendUnavailable(t *testing.T) {
	fx := newFixture(t, mangaOnly(), false)
	writeCheckpoint(t, fx.modelsDir, mangaFile)
	body := grayPNG(t, 4, 4, 50)

	res, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: body})
	require.Error(t, err)
	assert.True(t, IsBackendUnavailable(err))
	assert.Equal(t, "backend_unavailable", PassthroughReason(err))
	assert.True(t, res.Passthrough)
	assert.Equal(t, body, res.Data)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Len(t, fx.pub.Named(EventEnhancePassthrough), 1)
	assert.Equal(t, "none", fx.svc.Status().Backend)
}

func TestEnhance_PipelineErrors(t *testing.T) {
	empty := mangaOnly()
	empty.ModelMapByType = map[string]map[string]map[string]string{}
	fx := newFixture(t, empty, true)

	res, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: grayPNG(t, 4, 4, 10)})
	assert.True(t, IsNoModelMapped(err))
	assert.True(t, res.Passthrough)

	raw := []byte("0123456789")
	res, err = fx.svc.Enhance(context.Background(), EnhanceRequest{Body: raw})
	assert.True(t, IsImageError(err))
	assert.Equal(t, "decode", PassthroughReason(err))
	assert.Equal(t, raw, res.Data)

	_, err = fx.svc.Enhance(context.Background(), EnhanceRequest{})
	assert.True(t, IsUnsupportedRequest(err))

	fx2 := newFixture(t, mangaOnly(), true)
	_, err = fx2.svc.Enhance(context.Background(), EnhanceRequest{Body: grayPNG(t, 4, 4, 10)})
	assert.True(t, IsModelFileMissing(err))
	assert.Empty(t, fx2.backend.loads())
}

func TestEnhance_ResidualBlend(t *testing.T) {
	s := mangaOnly()
	s.Residual = config.ResidualSettings{Enabled: true, Strength: 1, Pattern: "mangajanai"}
	fx := newFixture(t, s, true)
	writeCheckpoint(t, fx.modelsDir, mangaFile)

	res, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: grayPNG(t, 6, 6, 100), Scale: 2})
	require.NoError(t, err)
	out, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	r, _, _, _ := out.At(5, 5).RGBA()
	// engine output is black, so the blend leaves the upscaled source
	assert.InDelta(t, 100, float64(r>>8), 1)
}

func TestEnhance_URLSourceFetchedOnce(t *testing.T) {
	body := grayPNG(t, 8, 8, 30)
	var hits atomic.Int32
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		ua.Store(r.UserAgent())
		w.Header().Set("Content-Type", "image/png; charset=binary")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	fx := newFixture(t, mangaOnly(), true)
	writeCheckpoint(t, fx.modelsDir, mangaFile)
	req := EnhanceRequest{URL: srv.URL + "/page.png", Scale: 2, Format: "jpg"}

	res, err := fx.svc.Enhance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Equal(t, "jpeg", res.Format)
	assert.Equal(t, userAgent, ua.Load())

	res, err = fx.svc.Enhance(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ModelCache, res.Model)
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.EqualValues(t, 1, hits.Load())

	_, err = fx.svc.Enhance(context.Background(), EnhanceRequest{URL: srv.URL + "/missing.png"})
	assert.True(t, IsUpstreamFetchFailed(err))
	assert.Contains(t, err.Error(), "status 404")

	_, err = fx.svc.Enhance(context.Background(), EnhanceRequest{URL: "file:///etc/passwd"})
	assert.True(t, IsUnsupportedRequest(err))
}

func TestEnhance_PassthroughKeepsUpstreamContentType(t *testing.T) {
	raw := []byte("GIF89a-not-really")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write(raw)
	}))
	defer srv.Close()
	fx := newFixture(t, mangaOnly(), true)

	res, err := fx.svc.Enhance(context.Background(), EnhanceRequest{URL: srv.URL + "/a.gif"})
	require.Error(t, err)
	assert.True(t, res.Passthrough)
	assert.Equal(t, "image/gif", res.ContentType)
	assert.Equal(t, raw, res.Data)
}

func TestUpdateSettings(t *testing.T) {
	fx := newFixture(t, mangaOnly(), true)

	next, err := fx.svc.UpdateSettings([]byte(`{"idle_shutdown_minutes": 2, "residual": {"strength": 0.5}}`))
	require.NoError(t, err)
	assert.Equal(t, 0.5, next.Residual.Strength)
	assert.Equal(t, "residual", next.Residual.Pattern)
	assert.Equal(t, float64(2*60), fx.svc.IdleShutdownAfter().Seconds())

	saved, err := config.Load(fx.cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 2.0, saved.IdleShutdownMinutes)
	assert.NotEmpty(t, fx.pub.Named(EventSettingsUpdated))

	_, err = fx.svc.UpdateSettings([]byte(`{"default_scale": 9}`))
	assert.True(t, IsInvalidSettings(err))
	_, err = fx.svc.UpdateSettings([]byte(`{"nope": 1}`))
	assert.True(t, IsInvalidSettings(err))
	assert.Equal(t, 2, fx.svc.Settings().DefaultScale)

	_, err = fx.svc.UpdateSettings([]byte(`{"idle_shutdown_minutes": 0}`))
	require.NoError(t, err)
	assert.Zero(t, fx.svc.IdleShutdownAfter())
}

func TestUpdateSettingsReloadsCatalog(t *testing.T) {
	s := mangaOnly()
	s.ModelMapByType = map[string]map[string]map[string]string{}
	fx := newFixture(t, s, true)
	writeCheckpoint(t, fx.modelsDir, mangaFile)
	assert.Empty(t, fx.svc.ListModels().Models)

	_, err := fx.svc.UpdateSettings([]byte(`{"auto_scan_models": true}`))
	require.NoError(t, err)
	models := fx.svc.ListModels()
	require.Len(t, models.Models, 1)
	m := models.Models[0]
	assert.Equal(t, config.KindManga, m.Kind)
	assert.Equal(t, "1600", m.Bucket)
	assert.True(t, m.Exists)
	assert.Equal(t, fx.modelsDir, models.ModelsDir)
}

func TestClearCache(t *testing.T) {
	fx := newFixture(t, mangaOnly(), true)
	writeCheckpoint(t, fx.modelsDir, mangaFile)
	_, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: grayPNG(t, 4, 4, 90)})
	require.NoError(t, err)

	n, err := fx.svc.ClearCache(false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ev := fx.pub.Named(EventCacheCleared)
	require.Len(t, ev, 1)
	assert.Equal(t, 1, ev[0].Fields["removed"])
}

func TestEnhance_PickleCheckpointIsAdapted(t *testing.T) {
	const pth = "2x_MangaJaNai_1600p_V1_ESRGAN_90k.pth"
	s := mangaOnly()
	s.ModelMapByType[config.KindManga]["2"]["1600"] = pth
	fx := newFixture(t, s, true)
	writeTorchCheckpoint(t, fx.modelsDir, pth)

	res, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: grayPNG(t, 4, 4, 60), Scale: 2})
	require.NoError(t, err)
	assert.False(t, res.Passthrough)
	specs := fx.backend.loads()
	require.Len(t, specs, 1)
	assert.Equal(t, filepath.Join(fx.svc.CacheDir(), checkpoint.WrappedDir), filepath.Dir(specs[0].Path))
	assert.Equal(t, 1, specs[0].Blocks)
	adapted, err := checkpoint.ReadFile(specs[0].Path)
	require.NoError(t, err)
	assert.Contains(t, adapted.Tensors, "conv_hr.weight")
}

func TestClearCacheIncludeWrappedDropsAdaptedCheckpoints(t *testing.T) {
	const pth = "2x_MangaJaNai_1600p_V1_ESRGAN_90k.pth"
	s := mangaOnly()
	s.ModelMapByType[config.KindManga]["2"]["1600"] = pth
	fx := newFixture(t, s, true)
	writeTorchCheckpoint(t, fx.modelsDir, pth)
	_, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: grayPNG(t, 4, 4, 60), Scale: 2})
	require.NoError(t, err)
	first := fx.backend.loads()[0].Path

	n, err := fx.svc.ClearCache(true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, first)
	assert.Nil(t, fx.svc.Status().Engine, "engine built from a removed checkpoint is released")

	_, err = fx.svc.Enhance(context.Background(), EnhanceRequest{Body: grayPNG(t, 4, 4, 61), Scale: 2, Quality: "best"})
	require.NoError(t, err)
	specs := fx.backend.loads()
	require.Len(t, specs, 2)
	assert.Equal(t, first, specs[1].Path)
	assert.FileExists(t, specs[1].Path)
}

func TestEnhance_WebPOutput(t *testing.T) {
	fx := newFixture(t, mangaOnly(), true)
	writeCheckpoint(t, fx.modelsDir, mangaFile)
	body := grayPNG(t, 4, 4, 70)

	res, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: body, Scale: 2, Format: "webp"})
	require.NoError(t, err)
	assert.Equal(t, "webp", res.Format)
	assert.Equal(t, "image/webp", res.ContentType)
	assert.Equal(t, "RIFF", string(res.Data[:4]))

	again, err := fx.svc.Enhance(context.Background(), EnhanceRequest{Body: body, Scale: 2, Format: "webp"})
	require.NoError(t, err)
	assert.Equal(t, ModelCache, again.Model)
	assert.Equal(t, "image/webp", again.ContentType)
	assert.Equal(t, res.Data, again.Data)
}

func TestEnhance_CanceledCallerStillCompletesInference(t *testing.T) {
	fx := newFixture(t, mangaOnly(), true)
	writeCheckpoint(t, fx.modelsDir, mangaFile)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := fx.svc.Enhance(ctx, EnhanceRequest{Body: grayPNG(t, 4, 4, 80), Scale: 2})
	require.NoError(t, err)
	assert.False(t, res.Passthrough)
	n, _, err := fx.svc.results.Usage()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "result cached")
}

func TestNewWithConfigRejectsBadSettings(t *testing.T) {
	s := mangaOnly()
	s.HeavyPattern = "("
	_, err := NewWithConfig(ManagerConfig{Settings: s, ModelsDir: t.TempDir(), CacheDir: t.TempDir()})
	assert.True(t, IsInvalidSettings(err))

	_, err = NewWithConfig(ManagerConfig{Settings: mangaOnly(), CacheDir: t.TempDir()})
	assert.Error(t, err)
}

func TestPassthroughReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{engine.ErrOutOfMemory("cuda"), "oom"},
		{fmt.Errorf("resolve: %w", resolver.ErrNoModelMapped(config.KindManga, 2, 100)), "no_model"},
		{context.Canceled, "canceled"},
		{checkpoint.ErrUnsupportedCheckpointFormat("a.pth", "pickle"), "unsupported_checkpoint"},
		{imageError{stage: "encode", cause: errors.New("boom")}, "encode"},
		{errors.New("other"), "error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PassthroughReason(tc.err), "reason for %v", tc.err)
	}
}
