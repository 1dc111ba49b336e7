// Package manager wires the enhancement pipeline together and owns its
// long-lived state. It is structured into small files by concern:
//
//   - service.go: core Service type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - errors.go: error types and helpers (IsUpstreamFetchFailed, IsUnsupportedRequest)
//     plus predicates re-exported from the pipeline packages.
//   - enhance.go: Enhance, the cache → decode → classify → resolve → engine →
//     blend → encode path with passthrough on failure.
//   - fetch.go: upstream image download with per-URL request collapsing.
//   - ops.go: settings updates, catalog reloads, cache clearing.
//   - status.go: Status/ListModels reporting helpers.
//   - events.go, eventpub_memory.go: lifecycle events for observers and tests.
//
// The HTTP layer consumes Service through the httpapi.Service interface and
// maps errors with the IsXxx helpers.
package manager
