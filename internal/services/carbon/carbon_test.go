package carbon

import (
	"testing"
	"time"

	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/stretchr/testify/require"
)

func lockerDelivered(number, pickupDate, co2 string) *models.Parcel {
	return &models.Parcel{
		ShipmentNumber:        number,
		Status:                models.StatusDelivered,
		ShipmentType:          models.ShipmentTypeParcel,
		PickupPointIsLocker:   true,
		PickupDate:            pickupDate,
		CO2BoxMachineDelivery: co2,
		CO2AddressDelivery:    "9.99",
	}
}

func TestUpdate_accumulatesOncePerShipment(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	state := Update([]*models.Parcel{
		lockerDelivered("SHP1", "2025-01-10T08:00:00Z", "0.2"),
	}, models.CarbonFootprintState{}, now)

	require.InDelta(t, 0.2, state.CumulativeTotalKg, 1e-9)
	require.Equal(t, 1, state.TotalParcels)
	require.Equal(t, []string{"SHP1"}, state.SeenShipmentNumbers)

	// same shipment again contributes nothing
	again := Update([]*models.Parcel{
		lockerDelivered("SHP1", "2025-01-10T08:00:00Z", "0.2"),
	}, state, now)
	require.InDelta(t, 0.2, again.CumulativeTotalKg, 1e-9)
	require.Equal(t, 1, again.TotalParcels)
}

func TestUpdate_sameDateMerges(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	courier := &models.Parcel{
		ShipmentNumber:     "SHP2",
		Status:             models.StatusDelivered,
		ShipmentType:       models.ShipmentTypeCourier,
		PickupDate:         "2025-01-10T16:30:00Z",
		CO2AddressDelivery: "1.0",
	}
	state := Update([]*models.Parcel{
		lockerDelivered("SHP1", "2025-01-10T08:00:00Z", "0.2"),
		courier,
	}, models.CarbonFootprintState{}, now)

	require.Len(t, state.DailySeries, 1)
	require.Equal(t, "2025-01-10", state.DailySeries[0].Date)
	require.InDelta(t, 1.2, state.DailySeries[0].ValueKg, 1e-9)
	require.Equal(t, 2, state.DailySeries[0].ParcelCount)
}

func TestUpdate_courierUsesAddressValue(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	p := &models.Parcel{
		ShipmentNumber:        "SHP1",
		Status:                models.StatusDelivered,
		ShipmentType:          models.ShipmentTypeCourier,
		PickupDate:            "2025-01-10T08:00:00Z",
		CO2BoxMachineDelivery: "0.2",
		CO2AddressDelivery:    "1.5",
	}
	state := Update([]*models.Parcel{p}, models.CarbonFootprintState{}, now)
	require.InDelta(t, 1.5, state.CumulativeTotalKg, 1e-9)
}

func TestUpdate_badValueStillMarkedSeen(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	state := Update([]*models.Parcel{
		lockerDelivered("SHP1", "2025-01-10T08:00:00Z", "not-a-number"),
		lockerDelivered("SHP2", "2025-01-10T08:00:00Z", ""),
	}, models.CarbonFootprintState{}, now)

	require.Zero(t, state.CumulativeTotalKg)
	require.Zero(t, state.TotalParcels)
	require.ElementsMatch(t, []string{"SHP1", "SHP2"}, state.SeenShipmentNumbers)
}

func TestUpdate_missingPickupDateUsesPollDate(t *testing.T) {
	now := time.Date(2025, 2, 1, 23, 59, 0, 0, time.UTC)

	state := Update([]*models.Parcel{
		lockerDelivered("SHP1", "", "0.3"),
	}, models.CarbonFootprintState{}, now)

	require.Len(t, state.DailySeries, 1)
	require.Equal(t, "2025-02-01", state.DailySeries[0].Date)
}

func TestUpdate_bareDateAccepted(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	state := Update([]*models.Parcel{
		lockerDelivered("SHP1", "2025-01-28", "0.3"),
	}, models.CarbonFootprintState{}, now)
	require.Equal(t, "2025-01-28", state.DailySeries[0].Date)
}

func TestUpdate_priorNotMutated(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	prior := models.CarbonFootprintState{
		CumulativeTotalKg:   1.0,
		TotalParcels:        1,
		SeenShipmentNumbers: []string{"OLD"},
		DailySeries:         []models.DailyCarbon{{Date: "2025-01-01", ValueKg: 1.0, ParcelCount: 1}},
	}

	_ = Update([]*models.Parcel{
		lockerDelivered("SHP1", "2025-01-01T08:00:00Z", "0.5"),
	}, prior, now)

	require.InDelta(t, 1.0, prior.CumulativeTotalKg, 1e-9)
	require.Equal(t, []string{"OLD"}, prior.SeenShipmentNumbers)
	require.InDelta(t, 1.0, prior.DailySeries[0].ValueKg, 1e-9)
}

func TestToday(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	state := models.CarbonFootprintState{
		DailySeries: []models.DailyCarbon{
			{Date: "2025-01-09", ValueKg: 0.7},
			{Date: "2025-01-10", ValueKg: 1.2},
		},
	}
	require.InDelta(t, 1.2, Today(state, now), 1e-9)
	require.Zero(t, Today(state, now.AddDate(0, 0, 5)))
}
