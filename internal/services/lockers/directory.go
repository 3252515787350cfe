package lockers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/PaczkoBox/internal/cache"
	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/pkg/errors"
)

const cacheKey = "lockers:directory"

// Fetcher downloads the full public locker catalog.
type Fetcher interface {
	FetchLockerDirectory(ctx context.Context) ([]*models.Locker, error)
}

// Directory resolves configured locker ids against the public catalog. The
// catalog is cached with a TTL, both in memory and (optionally) in a shared
// BytesCache. A fetch failure never invalidates still-usable data: stale
// beats a hard failure.
type Directory struct {
	fetcher Fetcher
	cache   cache.BytesCache
	ttl     time.Duration

	now func() time.Time

	byID      map[string]*models.Locker
	fetchedAt time.Time
}

type cachedDirectory struct {
	FetchedAt time.Time        `json:"fetched_at"`
	Lockers   []*models.Locker `json:"lockers"`
}

func New(fetcher Fetcher, c cache.BytesCache, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Directory{
		fetcher: fetcher,
		cache:   c,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Resolve maps configured locker ids to directory records. Ids the catalog
// does not know (after one forced refetch) come back in unknown; they do not
// fail the call. An error is returned only when no catalog data is available
// at all.
func (d *Directory) Resolve(ctx context.Context, ids []string) (resolved map[string]*models.Locker, unknown []string, err error) {
	if len(ids) == 0 {
		return map[string]*models.Locker{}, nil, nil
	}

	refetched, err := d.ensureLoaded(ctx)
	if err != nil {
		return nil, nil, err
	}

	resolved = make(map[string]*models.Locker, len(ids))
	var missing []string
	for _, id := range ids {
		if l, ok := d.byID[id]; ok {
			resolved[id] = l
		} else {
			missing = append(missing, id)
		}
	}

	// A miss on a configured id gets one forced refetch before we declare
	// the locker unknown, unless this Resolve already fetched fresh data.
	if len(missing) > 0 && !refetched {
		if d.cache != nil {
			// The shared entry misses the same ids; drop it so other workers
			// refetch instead of resolving against the stale copy.
			if derr := d.cache.Delete(ctx, cacheKey); derr != nil {
				slog.Warn("directory cache invalidate failed", "error", derr.Error())
			}
		}
		if err := d.refetch(ctx); err != nil {
			slog.Warn("forced directory refetch failed, keeping stale data", "error", err.Error())
		} else {
			still := missing[:0]
			for _, id := range missing {
				if l, ok := d.byID[id]; ok {
					resolved[id] = l
				} else {
					still = append(still, id)
				}
			}
			missing = still
		}
	}

	return resolved, missing, nil
}

// ensureLoaded makes sure a catalog is in memory, honoring the TTL. Returns
// whether a fresh fetch happened during this call.
func (d *Directory) ensureLoaded(ctx context.Context) (refetched bool, err error) {
	now := d.now()
	if d.byID != nil && now.Sub(d.fetchedAt) < d.ttl {
		return false, nil
	}

	// Shared cache first: another worker (or a previous process) may have
	// downloaded the catalog recently.
	if d.cache != nil {
		if b, ok, cerr := d.cache.Get(ctx, cacheKey); cerr == nil && ok {
			var cd cachedDirectory
			if json.Unmarshal(b, &cd) == nil && now.Sub(cd.FetchedAt) < d.ttl {
				d.install(cd.Lockers, cd.FetchedAt)
				return false, nil
			}
		}
	}

	if err := d.refetch(ctx); err != nil {
		if d.byID != nil {
			// Stale-but-valid data is preferred over hard failure.
			slog.Warn("directory refetch failed, serving stale catalog",
				"age", now.Sub(d.fetchedAt).String(), "error", err.Error())
			return false, nil
		}
		return false, errors.Wrap(err, "locker directory unavailable")
	}
	return true, nil
}

func (d *Directory) refetch(ctx context.Context) error {
	ls, err := d.fetcher.FetchLockerDirectory(ctx)
	if err != nil {
		return err
	}
	fetchedAt := d.now()
	d.install(ls, fetchedAt)

	if d.cache != nil {
		b, _ := json.Marshal(cachedDirectory{FetchedAt: fetchedAt, Lockers: ls})
		if err := d.cache.Set(ctx, cacheKey, b, d.ttl); err != nil {
			slog.Warn("directory cache write failed", "error", err.Error())
		}
	}
	slog.Debug("locker directory refreshed", "lockers", len(ls))
	return nil
}

func (d *Directory) install(ls []*models.Locker, fetchedAt time.Time) {
	byID := make(map[string]*models.Locker, len(ls))
	for _, l := range ls {
		byID[l.PublicID] = l
	}
	d.byID = byID
	d.fetchedAt = fetchedAt
}
