package domain

import "time"

// RunSummary describes one generation run without its trips.
type RunSummary struct {
	ID         string    `json:"id"`
	Scenario   string    `json:"scenario"`
	CreatedAt  time.Time `json:"createdAt"`
	Seed       uint64    `json:"seed"`
	Budget     int       `json:"budget"`
	Mode       string    `json:"mode"`
	Generated  int       `json:"generated"`
	Pairs      int       `json:"pairs"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
}

type Run struct {
	RunSummary
	Trips []Trip `json:"trips"`
}
