package manager

// Event represents a service lifecycle event.
// Minimal and stable: name + model label and optional fields via key/values.
type Event struct {
	Name   string
	Model  string
	Fields map[string]any
}

// Event names published by Service.
const (
	EventEnhanceDone        = "enhance_done"
	EventEnhancePassthrough = "enhance_passthrough"
	EventCatalogReloaded    = "catalog_reloaded"
	EventSettingsUpdated    = "settings_updated"
	EventCacheCleared       = "cache_cleared"
)

// EventPublisher receives events from the service. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
