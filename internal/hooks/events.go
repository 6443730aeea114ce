// Package hooks fires operational events to external shell scripts and
// webhooks so ground-crew tooling can react to bus state changes without
// polling the request/telecommand sockets.
package hooks

import "time"

// EventType identifies the kind of operational event that occurred.
type EventType string

const (
	// EventMetricCreated fires the first time the registry receives a
	// sample for a previously unseen metric ID, from any producer.
	EventMetricCreated EventType = "metric.created"
	// EventMetricStalled fires when a metric's latest sample has gone
	// un-adopted by its transmitter for longer than the server's fixed
	// 30s staleness window.
	EventMetricStalled EventType = "metric.stalled"
	// EventBpsChanged fires whenever a set_bps telecommand changes the
	// configured downlink rate.
	EventBpsChanged EventType = "bps.changed"
	// EventTelecommandRejected fires when an uplink telecommand is
	// dropped for being malformed or unrecognized.
	EventTelecommandRejected EventType = "telecommand.rejected"
)

// Event is a single occurrence passed to every hook registered for its type.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	MetricID  string                 `json:"metric_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      make(map[string]interface{}),
	}
}

// WithMetricID sets the event's associated metric ID.
func (e *Event) WithMetricID(metricID string) *Event {
	e.MetricID = metricID
	return e
}

// WithData adds a data field to the event.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// String returns a human-readable description of the event.
func (e *Event) String() string {
	if e.MetricID != "" {
		return string(e.Type) + ":" + e.MetricID
	}
	return string(e.Type)
}
