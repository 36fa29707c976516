package model

import "time"

// ExternalEvent is a timed event handed over by a calendar provider adapter.
type ExternalEvent struct {
	// CalendarID is the source calendar; it namespaces ID.
	CalendarID string
	ID         string
	Title      string
	Start      time.Time
	End        time.Time
	AllDay     bool
	Link       string
}

// Ref is the stable key stored as a block's external calendar ref.
func (e ExternalEvent) Ref() string {
	return e.CalendarID + ":" + e.ID
}
