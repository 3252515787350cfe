package messages

import "time"

// SnapshotUpdated is published after every completed poll so downstream
// consumers (dashboards, notifiers) can react without polling the worker.
type SnapshotUpdated struct {
	PhoneNumber string    `json:"phone_number"`
	CheckedAt   time.Time `json:"checked_at"`

	AllCount     int `json:"all_count"`
	EnRouteCount int `json:"en_route_count"`
	ReadyCount   int `json:"ready_count"`

	CarbonTotalKg float64 `json:"carbon_total_kg"`
	TodayCarbonKg float64 `json:"today_carbon_kg"`

	Error *string `json:"error,omitempty"`
}
