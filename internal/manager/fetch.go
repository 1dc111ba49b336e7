package manager

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
)

const userAgent = "MangaUpscalerHost/1.0"

type source struct {
	data        []byte
	contentType string
}

// fetcher downloads source images. Concurrent requests for the same URL share
// one download; each caller still honours its own context.
type fetcher struct {
	client   *http.Client
	maxBytes int64
	group    singleflight.Group
}

func newFetcher(client *http.Client, maxBytes int64) *fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &fetcher{client: client, maxBytes: maxBytes}
}

func (f *fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (source, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return source{}, ErrUnsupportedRequest("url must be an absolute http(s) URL")
	}
	ch := f.group.DoChan(rawURL, func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return f.download(dctx, rawURL)
	})
	select {
	case <-ctx.Done():
		return source{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return source{}, r.Err
		}
		return r.Val.(source), nil
	}
}

func (f *fetcher) download(ctx context.Context, rawURL string) (source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return source{}, ErrUpstreamFetchFailed(rawURL, 0, err)
	}
	req.Header.Set("User-Agent", userAgent)
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return source{}, ErrUpstreamFetchFailed(rawURL, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return source{}, ErrUpstreamFetchFailed(rawURL, resp.StatusCode, nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return source{}, ErrUpstreamFetchFailed(rawURL, resp.StatusCode, err)
	}
	if int64(len(data)) > f.maxBytes {
		return source{}, ErrUpstreamFetchFailed(rawURL, resp.StatusCode, fmt.Errorf("body exceeds %d bytes", f.maxBytes))
	}
	if len(data) == 0 {
		return source{}, ErrUpstreamFetchFailed(rawURL, resp.StatusCode, fmt.Errorf("empty body"))
	}
	zlog.Debug().Str("url", rawURL).Int("bytes", len(data)).Dur("dur", time.Since(start)).Msg("fetched source")
	return source{data: data, contentType: sourceContentType(resp.Header.Get("Content-Type"), data)}, nil
}

// sourceContentType keeps a declared media type without parameters and
// sniffs when none was given.
func sourceContentType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	return http.DetectContentType(data)
}
