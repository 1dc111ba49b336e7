package manager

import (
	"muhost/internal/catalog"
	"muhost/internal/common/fsutil"
	"muhost/pkg/types"
)

// Status builds the response for /status. It never waits on inference.
func (s *Service) Status() types.StatusResponse {
	resp := types.StatusResponse{
		OK:               true,
		Busy:             s.tracker.Busy(),
		Active:           s.tracker.Active(),
		IdleSeconds:      s.tracker.Idle().Seconds(),
		LoadsTotal:       int64(s.engine.Loads()),
		CacheHitsTotal:   int64(s.results.Hits()),
		CacheMissesTotal: int64(s.results.Misses()),
		UptimeSeconds:    int64(s.now().Sub(s.startTime).Seconds()),
		Backend:          s.engine.Backend().Name(),
	}
	if id, ok := s.engine.Current(); ok {
		resp.Engine = &types.EngineStatus{Path: id.Path, Scale: id.Scale, Quality: id.Quality}
	}
	return resp
}

// ListModels returns the current catalog in stable order.
func (s *Service) ListModels() types.ModelsResponse {
	c := s.catalog.Get()
	entries := c.Entries(fsutil.FileExists)
	out := types.ModelsResponse{ModelsDir: c.ModelsDir(), Models: make([]types.Model, 0, len(entries))}
	for _, e := range entries {
		out.Models = append(out.Models, toModel(e))
	}
	return out
}

func toModel(e catalog.Entry) types.Model {
	return types.Model{Kind: e.Kind, Scale: e.Scale, Bucket: e.Bucket, File: e.File, Path: e.Path, Exists: e.Exists}
}
