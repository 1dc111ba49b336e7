package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: missing url
	Error string `json:"error" example:"missing url"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// OKResponse acknowledges mutating endpoints such as POST /config and /shutdown.
type OKResponse struct {
	// example: true
	OK bool `json:"ok" example:"true"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Always true while the process is serving.
	// example: true
	OK bool `json:"ok" example:"true"`
	// True while at least one request is in flight.
	// example: false
	Busy bool `json:"busy" example:"false"`
	// Number of in-flight requests.
	// example: 0
	Active int64 `json:"active" example:"0"`
	// Seconds since the most recent request started.
	// example: 42.5
	IdleSeconds float64 `json:"idle_seconds" example:"42.5"`
	// Resident engine, empty when none is loaded.
	Engine *EngineStatus `json:"engine,omitempty"`
	// Engine builds since start (switches and OOM retries).
	// example: 3
	LoadsTotal int64 `json:"loads_total" example:"3"`
	// example: 10
	CacheHitsTotal int64 `json:"cache_hits_total" example:"10"`
	// example: 4
	CacheMissesTotal int64 `json:"cache_misses_total" example:"4"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Compute backend name (none, exec, http).
	// example: exec
	Backend string `json:"backend" example:"exec"`
}

// EngineStatus identifies the resident engine.
type EngineStatus struct {
	// Resolved checkpoint path (adapted file when converted).
	// example: /home/user/models/2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors
	Path string `json:"path" example:"/home/user/models/2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors"`
	// Native model scale.
	// example: 2
	Scale int `json:"scale" example:"2"`
	// Quality tier the engine was built for.
	// example: balanced
	Quality string `json:"quality" example:"balanced"`
}

// CacheClearRequest is the optional body of POST /cache/clear.
type CacheClearRequest struct {
	// Also remove adapted checkpoints under wrapped_models/.
	// example: false
	IncludeWrapped bool `json:"include_wrapped" example:"false"`
}

// CacheClearResponse is returned by POST /cache/clear.
type CacheClearResponse struct {
	// example: true
	OK bool `json:"ok" example:"true"`
	// Number of files removed.
	// example: 12
	Removed int `json:"removed" example:"12"`
}

// ModelsResponse wraps the catalog returned by GET /models.
type ModelsResponse struct {
	// Directory relative file names resolve against.
	// example: /home/user/.mu_models
	ModelsDir string `json:"models_dir" example:"/home/user/.mu_models"`
	// Catalog entries in stable order.
	Models []Model `json:"models"`
}
