package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/PaczkoBox/internal/integrations/inpost"
	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/BearBump/PaczkoBox/internal/services/aggregate"
	"github.com/BearBump/PaczkoBox/internal/services/carbon"
	"github.com/pkg/errors"
)

// ParcelAPI is the slice of the carrier client the engine needs.
type ParcelAPI interface {
	FetchParcels(ctx context.Context) ([]*models.Parcel, error)
}

// LockerResolver resolves configured locker ids against the public directory.
type LockerResolver interface {
	Resolve(ctx context.Context, ids []string) (map[string]*models.Locker, []string, error)
}

// Settings are the pre-validated configuration values for one account.
type Settings struct {
	IgnoredEnRouteStatuses []string
	ShowOnlyOwnParcels     bool
	TrackedLockerIDs       []string
}

// Engine is the polling/aggregation pipeline behind the single Refresh entry
// point. It holds no mutable per-poll state: the prior carbon state comes in
// as an argument and the updated one goes out inside the snapshot, so the
// persistence lifecycle stays with the caller.
type Engine struct {
	api      ParcelAPI
	lockers  LockerResolver
	settings Settings
}

func New(api ParcelAPI, lockers LockerResolver, settings Settings) *Engine {
	return &Engine{api: api, lockers: lockers, settings: settings}
}

// Refresh runs one full poll cycle: fetch, classify, count, fold carbon state
// forward, resolve lockers. On error the caller keeps its previous snapshot;
// a partially valid snapshot is never returned.
func (e *Engine) Refresh(ctx context.Context, prior models.CarbonFootprintState) (*models.AccountSnapshot, error) {
	now := time.Now().UTC()

	parcels, err := e.api.FetchParcels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch parcels")
	}

	snap, delivered := aggregate.Build(parcels, aggregate.Options{
		IgnoredEnRouteStatuses: e.settings.IgnoredEnRouteStatuses,
		ShowOnlyOwnParcels:     e.settings.ShowOnlyOwnParcels,
		TrackedLockerIDs:       e.settings.TrackedLockerIDs,
	}, now)

	snap.Carbon = carbon.Update(delivered, prior, now)
	snap.TodayCarbonKg = carbon.Today(snap.Carbon, now)

	if len(e.settings.TrackedLockerIDs) > 0 {
		resolved, unknown, err := e.lockers.Resolve(ctx, e.settings.TrackedLockerIDs)
		if err != nil {
			// Locker metadata is decoration on top of the counters;
			// a dead directory degrades it but does not abort the poll.
			slog.Warn("locker directory unavailable", "error", err.Error())
			snap.UnknownLockers = append([]string(nil), e.settings.TrackedLockerIDs...)
		} else {
			snap.Lockers = resolved
			snap.UnknownLockers = unknown
			for _, id := range unknown {
				slog.Warn("locker resolution degraded", "error", (&inpost.UnknownLockerError{ID: id}).Error())
			}
		}
	}

	return snap, nil
}
