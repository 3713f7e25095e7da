package model

import "time"

// SourceSystem is the log source for events not tied to a single motor.
const SourceSystem = "SYSTEM"

// LogEntry is one operator-visible event.
type LogEntry struct {
	Source    string    `json:"source"`
	Event     string    `json:"event"`
	Voltage   float64   `json:"voltage"`
	Current   float64   `json:"current"`
	Timestamp time.Time `json:"timestamp"`
}
