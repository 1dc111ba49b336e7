package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum JSON request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// maxImageBytes caps raw POST /enhance bodies.
var maxImageBytes int64 = 64 << 20

// SetMaxImageBytes sets the POST /enhance body limit (<= 0 restores 64 MiB).
func SetMaxImageBytes(n int64) {
	if n <= 0 {
		maxImageBytes = 64 << 20
		return
	}
	maxImageBytes = n
}

// enhanceTimeout bounds the fetch and engine wait of a single /enhance
// request; a pass already running on the engine is not cut short. Zero means
// no additional timeout beyond server/connection timeouts.
var enhanceTimeout time.Duration

// SetEnhanceTimeoutSeconds sets the enhance timeout in seconds (0 disables).
func SetEnhanceTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	enhanceTimeout = time.Duration(sec) * time.Second
}

// DefaultCORSOrigins admits the browser extension pages.
var DefaultCORSOrigins = []string{"chrome-extension://*", "moz-extension://*"}

// CORS configuration. Enabled for extension origins unless turned off.
var (
	corsEnabled        = true
	corsAllowedOrigins = DefaultCORSOrigins
	corsAllowedMethods = []string{"GET", "POST", "OPTIONS"}
	corsAllowedHeaders = []string{"Content-Type", "X-Log-Level"}
)

// SetCORSOptions configures CORS behavior for the HTTP server. Empty lists
// keep the defaults.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	if len(origins) > 0 {
		corsAllowedOrigins = append([]string(nil), origins...)
	}
	if len(methods) > 0 {
		corsAllowedMethods = append([]string(nil), methods...)
	}
	if len(headers) > 0 {
		corsAllowedHeaders = append([]string(nil), headers...)
	}
}

// shutdownFn is invoked by POST /shutdown after the response is written.
var shutdownFn func()

// SetShutdownFunc installs the graceful stop hook used by POST /shutdown.
func SetShutdownFunc(fn func()) { shutdownFn = fn }
