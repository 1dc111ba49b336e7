package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// HTTPBackend posts PNG images to an external inference worker. Model and
// profile parameters travel in the query string; the worker answers with PNG.
type HTTPBackend struct {
	URL    string
	Client *http.Client
}

func (b *HTTPBackend) Name() string { return "http" }

func (b *HTTPBackend) Load(ctx context.Context, spec LoadSpec) (Engine, error) {
	u, err := url.Parse(strings.TrimSpace(b.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrBackendUnavailable(fmt.Sprintf("http backend: invalid url %q", b.URL))
	}
	cli := b.Client
	if cli == nil {
		cli = &http.Client{}
	}
	return &httpEngine{b: b, base: u, cli: cli, spec: spec}, nil
}

type httpEngine struct {
	b    *HTTPBackend
	base *url.URL
	cli  *http.Client
	spec LoadSpec
}

func (e *httpEngine) Enhance(ctx context.Context, img image.Image, outScale int) (image.Image, error) {
	var body bytes.Buffer
	if err := png.Encode(&body, img); err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	u := *e.base
	q := u.Query()
	q.Set("model", e.spec.Path)
	q.Set("scale", strconv.Itoa(e.spec.Scale))
	q.Set("outscale", strconv.Itoa(outScale))
	q.Set("blocks", strconv.Itoa(e.spec.Blocks))
	q.Set("tile", strconv.Itoa(e.spec.Profile.Tile))
	q.Set("tile_pad", strconv.Itoa(e.spec.Profile.TilePad))
	q.Set("pre_pad", strconv.Itoa(e.spec.Profile.PrePad))
	q.Set("half", strconv.FormatBool(e.spec.Profile.Half))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/png")
	resp, err := e.cli.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrBackendUnavailable(fmt.Sprintf("http backend: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(b))
		if resp.StatusCode == http.StatusInsufficientStorage || isOOMText(msg) {
			return nil, ErrOutOfMemory(lastLine(msg))
		}
		return nil, fmt.Errorf("http backend error: %s: %s", resp.Status, lastLine(msg))
	}
	out, err := png.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode worker output: %w", err)
	}
	return out, nil
}
