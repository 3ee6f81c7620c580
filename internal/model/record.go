package model

import "time"

// LogRecord is one unit of observability data. The known fields cover what
// the shipping handler and request collector always populate; anything else
// goes into Fields. Records are treated as immutable once enqueued.
type LogRecord struct {
	Time    time.Time
	Message string

	Level  string
	Logger string
	Caller string // source location as file:line, when known

	// Fields is the open extension map for metadata that has no typed slot.
	Fields map[string]string

	// Labels are per-record stream labels merged over the shipper defaults
	// at flush time. Caller-supplied keys win.
	Labels LabelSet
}
