package aggregate

import (
	"log/slog"
	"time"

	"github.com/BearBump/PaczkoBox/internal/models"
)

// Options are the pre-validated configuration values the aggregator honors.
type Options struct {
	// Raw statuses that would classify as en route but should be ignored
	// (still counted in AllCount, excluded from EnRouteCount).
	IgnoredEnRouteStatuses []string

	// Drop parcels shared into the account by someone else.
	ShowOnlyOwnParcels bool

	// Locker ids that get their own per-locker counters.
	TrackedLockerIDs []string
}

var enRouteStatuses = map[string]struct{}{
	models.StatusOutForDelivery:        {},
	models.StatusAdoptedAtSourceBranch: {},
	models.StatusSentFromSourceBranch:  {},
	models.StatusTakenByCourier:        {},
	models.StatusConfirmed:             {},
	models.StatusDispatchedBySender:    {},
}

var readyStatuses = map[string]struct{}{
	models.StatusReadyToPickup:      {},
	models.StatusPickupReminderSent: {},
}

// Classify maps a raw carrier status to its bucket. Total and deterministic:
// every status maps to exactly one classification. Members of the ignored set
// win over everything except DELIVERED; unrecognized statuses fall back to
// EN_ROUTE and are logged, never dropped.
func Classify(status string, ignored map[string]struct{}) models.Classification {
	if status == models.StatusDelivered {
		return models.ClassDelivered
	}
	if _, ok := ignored[status]; ok {
		return models.ClassIgnored
	}
	if _, ok := readyStatuses[status]; ok {
		return models.ClassReadyForPickup
	}
	if _, ok := enRouteStatuses[status]; ok {
		return models.ClassEnRoute
	}
	slog.Warn("unexpected parcel status, treating as en route", "status", status)
	return models.ClassEnRoute
}

// IgnoredSet builds the lookup set for the configured ignored statuses.
func IgnoredSet(statuses []string) map[string]struct{} {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// Build derives the per-account and per-locker counters and the detailed
// parcel lists from one poll's parcel set. Carrier-response order is kept;
// delivered parcels are returned separately for the carbon engine.
func Build(parcels []*models.Parcel, opts Options, now time.Time) (*models.AccountSnapshot, []*models.Parcel) {
	ignored := IgnoredSet(opts.IgnoredEnRouteStatuses)

	snap := &models.AccountSnapshot{
		TakenAt:   now,
		PerLocker: make(map[string]models.LockerCounts, len(opts.TrackedLockerIDs)),
	}
	for _, id := range opts.TrackedLockerIDs {
		snap.PerLocker[id] = models.LockerCounts{}
	}

	var delivered []*models.Parcel
	for _, p := range parcels {
		if opts.ShowOnlyOwnParcels && !p.Own() {
			continue
		}

		// AllCount covers every parcel that survived the ownership
		// filter, whatever its classification.
		snap.AllCount++

		switch Classify(p.Status, ignored) {
		case models.ClassDelivered:
			delivered = append(delivered, p)
		case models.ClassIgnored:
		case models.ClassReadyForPickup:
			snap.ReadyCount++
			snap.ParcelsReady = append(snap.ParcelsReady, p)
			if c, ok := snap.PerLocker[p.PickupPointID]; ok {
				c.ReadyCount++
				snap.PerLocker[p.PickupPointID] = c
			}
		case models.ClassEnRoute:
			snap.EnRouteCount++
			snap.ParcelsEnRoute = append(snap.ParcelsEnRoute, p)
			if c, ok := snap.PerLocker[p.PickupPointID]; ok {
				c.EnRouteCount++
				snap.PerLocker[p.PickupPointID] = c
			}
		}
	}

	return snap, delivered
}
