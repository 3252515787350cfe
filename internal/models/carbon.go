package models

import "sort"

// DailyCarbon is one day's worth of delivered-parcel CO2.
type DailyCarbon struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	ValueKg     float64 `json:"value_kg"`
	ParcelCount int     `json:"parcel_count"`
}

// CarbonFootprintState is the persisted cumulative CO2 statistic. A shipment
// number contributes exactly once, ever; the seen set is what keeps the total
// from regressing when the carrier's API window drops old delivered parcels.
type CarbonFootprintState struct {
	CumulativeTotalKg   float64       `json:"cumulative_total_kg"`
	TotalParcels        int           `json:"total_parcels"`
	SeenShipmentNumbers []string      `json:"seen_shipment_numbers"`
	DailySeries         []DailyCarbon `json:"daily_series"`
}

// Clone returns a deep copy, so an update never mutates a state already handed
// to the host.
func (s CarbonFootprintState) Clone() CarbonFootprintState {
	out := CarbonFootprintState{
		CumulativeTotalKg: s.CumulativeTotalKg,
		TotalParcels:      s.TotalParcels,
	}
	out.SeenShipmentNumbers = append([]string(nil), s.SeenShipmentNumbers...)
	out.DailySeries = append([]DailyCarbon(nil), s.DailySeries...)
	return out
}

// SeenSet builds a lookup set over the seen shipment numbers.
func (s CarbonFootprintState) SeenSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.SeenShipmentNumbers))
	for _, n := range s.SeenShipmentNumbers {
		set[n] = struct{}{}
	}
	return set
}

// DayValue returns the recorded CO2 for a calendar date, 0 if absent.
func (s CarbonFootprintState) DayValue(date string) float64 {
	for _, d := range s.DailySeries {
		if d.Date == date {
			return d.ValueKg
		}
	}
	return 0
}

// SortDailySeries orders the series by date ascending (dates are YYYY-MM-DD, so
// lexicographic order is chronological).
func (s *CarbonFootprintState) SortDailySeries() {
	sort.Slice(s.DailySeries, func(i, j int) bool {
		return s.DailySeries[i].Date < s.DailySeries[j].Date
	})
}
