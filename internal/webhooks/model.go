package webhooks

import "time"

// Event types dispatched on domain status changes.
const (
	EventStatusChanged = "domain.status_changed"
	EventAuthenticated = "domain.authenticated"
	EventFailed        = "domain.failed"
	EventDisconnected  = "domain.disconnected"
)

// Endpoint is a configured webhook receiver. An empty Events list receives
// every event type.
type Endpoint struct {
	URL    string   `mapstructure:"url"`
	Secret string   `mapstructure:"secret"`
	Events []string `mapstructure:"events"`
}

func (e Endpoint) wants(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, t := range e.Events {
		if t == eventType || t == "*" {
			return true
		}
	}
	return false
}

// Event is the JSON body posted to each endpoint.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}
