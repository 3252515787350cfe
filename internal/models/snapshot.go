package models

import "time"

// LockerCounts are the per-locker occupancy counters.
type LockerCounts struct {
	EnRouteCount int `json:"en_route_count"`
	ReadyCount   int `json:"ready_count"`
}

// AccountSnapshot is the result of one poll: counters plus the detailed parcel
// lists, in carrier-response order. Rebuilt fully every poll and never mutated
// afterwards; the host swaps the previous snapshot for the new one atomically.
type AccountSnapshot struct {
	TakenAt time.Time `json:"taken_at"`

	AllCount     int `json:"all_count"`
	EnRouteCount int `json:"en_route_count"`
	ReadyCount   int `json:"ready_count"`

	PerLocker map[string]LockerCounts `json:"per_locker,omitempty"`

	ParcelsReady   []*Parcel `json:"parcels_ready,omitempty"`
	ParcelsEnRoute []*Parcel `json:"parcels_en_route,omitempty"`

	// Resolved directory records for the configured lockers. Lockers the
	// directory does not know end up in UnknownLockers instead; neither
	// aborts the snapshot.
	Lockers        map[string]*Locker `json:"lockers,omitempty"`
	UnknownLockers []string           `json:"unknown_lockers,omitempty"`

	Carbon        CarbonFootprintState `json:"carbon"`
	TodayCarbonKg float64              `json:"today_carbon_kg"`
}
