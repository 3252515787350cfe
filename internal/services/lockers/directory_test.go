package lockers

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls int
	out   []*models.Locker
	err   error
}

func (f *fakeFetcher) FetchLockerDirectory(ctx context.Context) ([]*models.Locker, error) {
	f.calls++
	return f.out, f.err
}

type fakeCache struct {
	m       map[string][]byte
	deletes int
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}
func (c *fakeCache) Delete(ctx context.Context, key string) error {
	delete(c.m, key)
	c.deletes++
	return nil
}

func locker(id string) *models.Locker {
	return &models.Locker{PublicID: id, Description: "Paczkomat " + id}
}

func TestDirectory_ResolveAndMemoryTTL(t *testing.T) {
	f := &fakeFetcher{out: []*models.Locker{locker("GDA117M"), locker("WAW01A")}}
	d := New(f, nil, time.Hour)

	resolved, unknown, err := d.Resolve(context.Background(), []string{"GDA117M"})
	require.NoError(t, err)
	require.Empty(t, unknown)
	require.Equal(t, "Paczkomat GDA117M", resolved["GDA117M"].Description)
	require.Equal(t, 1, f.calls)

	// fresh catalog, no refetch
	_, _, err = d.Resolve(context.Background(), []string{"WAW01A"})
	require.NoError(t, err)
	require.Equal(t, 1, f.calls)

	// expired catalog refetches
	d.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, _, err = d.Resolve(context.Background(), []string{"WAW01A"})
	require.NoError(t, err)
	require.Equal(t, 2, f.calls)
}

func TestDirectory_UnknownIDForcesOneRefetch(t *testing.T) {
	f := &fakeFetcher{out: []*models.Locker{locker("GDA117M")}}
	d := New(f, nil, time.Hour)

	// first call loads, miss on NEW01 forces a second fetch, still missing
	resolved, unknown, err := d.Resolve(context.Background(), []string{"GDA117M", "NEW01"})
	require.NoError(t, err)
	require.Equal(t, []string{"NEW01"}, unknown)
	require.Contains(t, resolved, "GDA117M")
	require.Equal(t, 2, f.calls)

	// newly installed locker appears after the forced refetch
	d2 := New(f, nil, time.Hour)
	f.calls = 0
	resolved, unknown, err = d2.Resolve(context.Background(), []string{"NEW01"})
	require.NoError(t, err)
	require.Equal(t, []string{"NEW01"}, unknown)

	f.out = append(f.out, locker("NEW01"))
	d2.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	resolved, unknown, err = d2.Resolve(context.Background(), []string{"NEW01"})
	require.NoError(t, err)
	require.Empty(t, unknown)
	require.Contains(t, resolved, "NEW01")
}

func TestDirectory_StaleBeatsFailure(t *testing.T) {
	f := &fakeFetcher{out: []*models.Locker{locker("GDA117M")}}
	d := New(f, nil, time.Hour)

	_, _, err := d.Resolve(context.Background(), []string{"GDA117M"})
	require.NoError(t, err)

	// catalog expired and the feed is down: serve the stale copy
	f.err = errors.New("feed down")
	d.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	resolved, unknown, err := d.Resolve(context.Background(), []string{"GDA117M"})
	require.NoError(t, err)
	require.Empty(t, unknown)
	require.Contains(t, resolved, "GDA117M")
}

func TestDirectory_NoDataAtAllFails(t *testing.T) {
	f := &fakeFetcher{err: errors.New("feed down")}
	d := New(f, nil, time.Hour)

	_, _, err := d.Resolve(context.Background(), []string{"GDA117M"})
	require.Error(t, err)
}

func TestDirectory_SharedCacheHit(t *testing.T) {
	f := &fakeFetcher{out: []*models.Locker{locker("GDA117M")}}
	c := &fakeCache{m: map[string][]byte{}}

	// first directory populates the shared cache
	d1 := New(f, c, time.Hour)
	_, _, err := d1.Resolve(context.Background(), []string{"GDA117M"})
	require.NoError(t, err)
	require.Equal(t, 1, f.calls)

	// second directory reads it back without touching the feed
	d2 := New(f, c, time.Hour)
	resolved, unknown, err := d2.Resolve(context.Background(), []string{"GDA117M"})
	require.NoError(t, err)
	require.Empty(t, unknown)
	require.Contains(t, resolved, "GDA117M")
	require.Equal(t, 1, f.calls)
}

func TestDirectory_ForcedRefetchInvalidatesSharedCache(t *testing.T) {
	f := &fakeFetcher{out: []*models.Locker{locker("GDA117M")}}
	c := &fakeCache{m: map[string][]byte{}}

	d1 := New(f, c, time.Hour)
	_, _, err := d1.Resolve(context.Background(), []string{"GDA117M"})
	require.NoError(t, err)
	require.Contains(t, c.m, cacheKey)

	// A second directory resolves an unknown id from the shared entry: it must
	// drop that entry before the forced refetch, then write the fresh catalog.
	f.out = append(f.out, locker("NEW01"))
	d2 := New(f, c, time.Hour)
	resolved, unknown, err := d2.Resolve(context.Background(), []string{"NEW01"})
	require.NoError(t, err)
	require.Empty(t, unknown)
	require.Contains(t, resolved, "NEW01")
	require.Equal(t, 1, c.deletes)
	require.Contains(t, c.m, cacheKey)
}

func TestDirectory_EmptyIDs(t *testing.T) {
	f := &fakeFetcher{}
	d := New(f, nil, time.Hour)

	resolved, unknown, err := d.Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, resolved)
	require.Empty(t, unknown)
	require.Zero(t, f.calls)
}
