package carbon

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/PaczkoBox/internal/models"
)

// Update folds the newly delivered parcels into the prior cumulative state and
// returns a fresh state value; the prior one is never mutated. A shipment
// number contributes exactly once, ever: parcels already in the seen set are
// skipped, which keeps the total from regressing when the carrier's API window
// drops old delivered records.
func Update(delivered []*models.Parcel, prior models.CarbonFootprintState, now time.Time) models.CarbonFootprintState {
	state := prior.Clone()
	seen := state.SeenSet()

	byDate := make(map[string]int, len(state.DailySeries))
	for i, d := range state.DailySeries {
		byDate[d.Date] = i
	}

	for _, p := range delivered {
		if _, ok := seen[p.ShipmentNumber]; ok {
			continue
		}

		kg, ok := effectiveCO2(p)
		if !ok {
			// Still mark it seen: the value will not appear later.
			seen[p.ShipmentNumber] = struct{}{}
			state.SeenShipmentNumbers = append(state.SeenShipmentNumbers, p.ShipmentNumber)
			continue
		}

		date := deliveryDate(p, now)
		if i, ok := byDate[date]; ok {
			state.DailySeries[i].ValueKg += kg
			state.DailySeries[i].ParcelCount++
		} else {
			byDate[date] = len(state.DailySeries)
			state.DailySeries = append(state.DailySeries, models.DailyCarbon{
				Date: date, ValueKg: kg, ParcelCount: 1,
			})
		}

		state.CumulativeTotalKg += kg
		state.TotalParcels++
		seen[p.ShipmentNumber] = struct{}{}
		state.SeenShipmentNumbers = append(state.SeenShipmentNumbers, p.ShipmentNumber)
	}

	state.SortDailySeries()
	return state
}

// Today returns the CO2 recorded for the current calendar date, 0 if none.
func Today(state models.CarbonFootprintState, now time.Time) float64 {
	return state.DayValue(now.UTC().Format("2006-01-02"))
}

// effectiveCO2 picks the emission value matching the delivery method: the
// locker value for locker pickups, the (strictly higher) courier value
// otherwise.
func effectiveCO2(p *models.Parcel) (float64, bool) {
	raw := p.CO2AddressDelivery
	if p.ShipmentType == models.ShipmentTypeParcel && p.PickupPointIsLocker {
		raw = p.CO2BoxMachineDelivery
	}
	if raw == "" {
		return 0, false
	}
	kg, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("unparseable carbon footprint value", "shipment", p.ShipmentNumber, "value", raw)
		return 0, false
	}
	return kg, true
}

// deliveryDate keys a parcel by the calendar date of its pickup, falling back
// to the poll date when the carrier omits pick_up_date.
func deliveryDate(p *models.Parcel, now time.Time) string {
	if p.PickupDate != "" {
		if t, err := time.Parse(time.RFC3339, p.PickupDate); err == nil {
			return t.UTC().Format("2006-01-02")
		}
		// Some feeds send a bare date already.
		if len(p.PickupDate) >= 10 {
			if _, err := time.Parse("2006-01-02", p.PickupDate[:10]); err == nil {
				return p.PickupDate[:10]
			}
		}
	}
	return now.UTC().Format("2006-01-02")
}
