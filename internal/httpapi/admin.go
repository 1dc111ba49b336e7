package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"

	"muhost/internal/manager"
	"muhost/pkg/types"
)

// cacheClearHandler godoc
//
//	@Summary	Remove cached results
//	@Accept		json
//	@Produce	json
//	@Param		body	body		types.CacheClearRequest	false	"Options"
//	@Success	200		{object}	types.CacheClearResponse
//	@Failure	400		{object}	types.ErrorResponse
//	@Router		/cache/clear [post]
func cacheClearHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CacheClearRequest
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		n, err := svc.ClearCache(req.IncludeWrapped)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, types.CacheClearResponse{OK: true, Removed: n})
	}
}

// configGetHandler godoc
//
//	@Summary	Current settings
//	@Produce	json
//	@Success	200	{object}	object
//	@Router		/config [get]
func configGetHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Settings())
	}
}

// configPostHandler godoc
//
//	@Summary		Update settings
//	@Description	Merges a JSON subset of tunables, validates, persists and reloads the catalog.
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	types.OKResponse
//	@Failure		400	{object}	types.ErrorResponse
//	@Router			/config [post]
func configPostHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if _, err := svc.UpdateSettings(body); err != nil {
			if manager.IsInvalidSettings(err) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		zlog.Info().Int("bytes", len(body)).Msg("settings updated")
		writeJSON(w, types.OKResponse{OK: true})
	}
}

// handleShutdown godoc
//
//	@Summary	Stop the host
//	@Produce	json
//	@Success	200	{object}	types.OKResponse
//	@Failure	403	{object}	types.ErrorResponse
//	@Router		/shutdown [post]
func handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		writeJSONError(w, http.StatusForbidden, "shutdown is only accepted from loopback")
		return
	}
	writeJSON(w, types.OKResponse{OK: true})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	zlog.Info().Str("op", uuid.NewString()).Str("remote", r.RemoteAddr).Msg("shutdown requested")
	if fn := shutdownFn; fn != nil {
		go fn()
	}
}

// isLoopback checks the socket peer address, never forwarded headers.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
