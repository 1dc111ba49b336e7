package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"muhost/internal/manager"
)

// Response headers of /enhance.
const (
	headerModel     = "X-MU-Model"
	headerFormat    = "X-MU-Format"
	headerHostError = "X-MU-Host-Error"
)

// maxHostErrorBytes caps the X-MU-Host-Error value.
const maxHostErrorBytes = 400

// enhanceURLHandler godoc
//
//	@Summary		Enhance an image by URL
//	@Description	Fetches url, upscales it and returns the image. On any pipeline failure the original bytes are returned with X-MU-Host-Error.
//	@Produce		png,jpeg
//	@Param			url		query		string	true	"Source image URL"
//	@Param			scale	query		int		false	"Output scale (2-4)"
//	@Param			quality	query		string	false	"fast, balanced or best"
//	@Param			format	query		string	false	"png, jpeg or webp"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	types.ErrorResponse
//	@Failure		502		{object}	types.ErrorResponse
//	@Router			/enhance [get]
func enhanceURLHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		u := strings.TrimSpace(q.Get("url"))
		if u == "" {
			writeJSONError(w, http.StatusBadRequest, "missing url")
			return
		}
		req, err := enhanceParams(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.URL = u
		serveEnhance(w, r, svc, req)
	}
}

// enhanceBodyHandler godoc
//
//	@Summary		Enhance an uploaded image
//	@Accept			octet-stream
//	@Produce		png,jpeg
//	@Param			scale	query		int		false	"Output scale (2-4)"
//	@Param			quality	query		string	false	"fast, balanced or best"
//	@Param			format	query		string	false	"png, jpeg or webp"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	types.ErrorResponse
//	@Failure		413		{object}	types.ErrorResponse
//	@Router			/enhance [post]
func enhanceBodyHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := enhanceParams(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(body) == 0 {
			writeJSONError(w, http.StatusBadRequest, "empty body")
			return
		}
		req.Body = body
		req.ContentType = r.Header.Get("Content-Type")
		serveEnhance(w, r, svc, req)
	}
}

func enhanceParams(r *http.Request) (manager.EnhanceRequest, error) {
	q := r.URL.Query()
	req := manager.EnhanceRequest{
		Quality: strings.TrimSpace(q.Get("quality")),
		Format:  strings.TrimSpace(q.Get("format")),
	}
	if v := strings.TrimSpace(q.Get("scale")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("scale must be an integer")
		}
		req.Scale = n
	}
	return req, nil
}

func serveEnhance(w http.ResponseWriter, r *http.Request, svc Service, req manager.EnhanceRequest) {
	start := time.Now()
	lvl := requestLogLevel(r)
	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if enhanceTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, enhanceTimeout)
		defer tcancel()
	}

	res, err := svc.Enhance(ctx, req)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", res.ContentType)
		w.Header().Set(headerModel, res.Model)
		if res.Format != "" {
			w.Header().Set(headerFormat, res.Format)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Data)
		logEnd(r, lvl, http.StatusOK, start, res.Model, nil)
	case res.Passthrough:
		ct := res.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set(headerHostError, hostErrorValue(err))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Data)
		logEnd(r, lvl, http.StatusOK, start, "passthrough", err)
	case r.Context().Err() != nil:
		// client went away
		return
	case serverBaseCtx.Err() != nil:
		writeJSONError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		logEnd(r, lvl, status, start, "", err)
	}
}

// hostErrorValue renders err as a single header line of at most
// maxHostErrorBytes bytes, cut on a rune boundary.
func hostErrorValue(err error) string {
	msg := err.Error()
	if msg == "" {
		msg = "enhance failed"
	}
	msg = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, msg)
	if len(msg) <= maxHostErrorBytes {
		return msg
	}
	cut := maxHostErrorBytes
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
