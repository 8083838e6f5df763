package domain

import "time"

// EventClass is the delivery priority of an event. Critical events are
// never dropped and are delivered to every subscriber in publish order;
// informational events may be coalesced under backpressure.
type EventClass uint8

const (
	ClassCritical EventClass = iota
	ClassInformational
)

// String returns the class name used in persisted records.
func (c EventClass) String() string {
	if c == ClassCritical {
		return "critical"
	}
	return "informational"
}

// ParseEventClass maps a persisted class name back to its EventClass.
func ParseEventClass(s string) EventClass {
	if s == "critical" {
		return ClassCritical
	}
	return ClassInformational
}

// EventKind identifies what an event describes.
type EventKind string

const (
	// Critical kinds.
	EventStateChange  EventKind = "state_change"
	EventOrderFill    EventKind = "order_fill"
	EventOrderFailure EventKind = "order_failure"
	EventCapHit       EventKind = "cap_hit"
	EventAnomaly      EventKind = "anomaly"
	EventEngineHalt   EventKind = "engine_halt"

	// Informational kinds.
	EventPriceTick   EventKind = "price_tick"
	EventEntrySkip   EventKind = "entry_skip"
	EventStatus      EventKind = "status"
	EventFundsDenied EventKind = "funds_denied"
)

// Event is an immutable record published by the engine. Ownership transfers
// to the bridge on publish; the engine must not retain or mutate it.
type Event struct {
	Kind      EventKind         `json:"kind"`
	Class     EventClass        `json:"-"`
	Timestamp time.Time         `json:"ts"`
	Symbol    string            `json:"symbol,omitempty"`
	Message   string            `json:"message,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Critical reports whether the event must never be dropped.
func (e Event) Critical() bool { return e.Class == ClassCritical }
