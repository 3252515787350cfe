package inpost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeCarrier serves the mobile API (tracked parcels, profile, token refresh)
// plus the public points feed on one server.
type fakeCarrier struct {
	mu sync.Mutex

	validToken   string
	refreshCalls int
	parcelCalls  int

	parcelPages []string // raw JSON bodies served in order per updatedUntil chain
	parcelCode  int      // non-zero forces this status on every parcels call
	retryAfter  string

	pointsPages []string
	pointsAuth  []string // Authorization header seen on each points-feed call
}

func (f *fakeCarrier) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/global/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.refreshCalls++
		f.validToken = "at-fresh"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-fresh", "refresh_token": "rt-fresh", "expires_in": 7200,
		})
	})

	mux.HandleFunc("/v1/parcels/tracked", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.parcelCalls++

		if f.parcelCode != 0 {
			if f.retryAfter != "" {
				w.Header().Set("Retry-After", f.retryAfter)
			}
			w.WriteHeader(f.parcelCode)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		page := 0
		if u := r.URL.Query().Get("updatedUntil"); u != "" {
			page = len(u) // pages chain via updatedUntil "1", "11", ...
		}
		if page >= len(f.parcelPages) {
			page = len(f.parcelPages) - 1
		}
		_, _ = w.Write([]byte(f.parcelPages[page]))
	})

	mux.HandleFunc("/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{
			"personal": {"email": "jan@example.com", "email_verified": true, "phone_number": "+48123456789"},
			"delivery": {"points": {"items": [
				{"name": "GDA117M", "type": "parcel_locker", "active": true, "preferred": true},
				{"name": "WAW01A", "type": "parcel_locker", "active": true, "preferred": false}
			]}}
		}`))
	})

	mux.HandleFunc("/points.json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.pointsAuth = append(f.pointsAuth, r.Header.Get("Authorization"))
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			page = int(p[0] - '0')
		}
		if page > len(f.pointsPages) {
			page = len(f.pointsPages)
		}
		_, _ = w.Write([]byte(f.pointsPages[page-1]))
	})

	return mux
}

func newTestClient(t *testing.T, f *fakeCarrier) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	tr := NewTransport(5*time.Second, nil)
	auth := NewAuthManager(tr, AuthOptions{OAuthBaseURL: srv.URL, APIBaseURL: srv.URL})
	auth.RestoreCredential(credWithExpiry(f.validToken, "rt-0", time.Now().Add(time.Hour)))
	return NewClient(tr, auth, srv.URL, srv.URL+"/points.json")
}

const onePageParcels = `{
	"more": false,
	"parcels": [{
		"shipment_number": "SHP1",
		"status": "READY_TO_PICKUP",
		"shipment_type": "parcel",
		"open_code": "123456",
		"qr_code": "QR",
		"pick_up_date": "2025-01-10T08:00:00Z",
		"ownership_status": "OWN",
		"parcel_size": "A",
		"sender": {"name": "Sklep"},
		"receiver": {"phone_number": {"prefix": "+48", "value": "123456789"}},
		"pick_up_point": {
			"name": "GDA117M",
			"location_description": "Przy sklepie",
			"type": ["parcel_locker"],
			"address_details": {"post_code": "80-100", "city": "Gdansk", "street": "Dluga", "building_number": "12"}
		},
		"carbon_footprint": {"box_machine_delivery": "0.2", "address_delivery": "1.5"}
	}]
}`

func TestClient_FetchParcels_Mapping(t *testing.T) {
	f := &fakeCarrier{validToken: "at-0", parcelPages: []string{onePageParcels}}
	c := newTestClient(t, f)

	parcels, err := c.FetchParcels(context.Background())
	require.NoError(t, err)
	require.Len(t, parcels, 1)

	p := parcels[0]
	require.Equal(t, "SHP1", p.ShipmentNumber)
	require.Equal(t, "READY_TO_PICKUP", p.Status)
	require.NotEmpty(t, p.StatusDescription)
	require.Equal(t, "Sklep", p.SenderName)
	require.Equal(t, "+48123456789", p.ReceiverPhone)
	require.Equal(t, "GDA117M", p.PickupPointID)
	require.True(t, p.PickupPointIsLocker)
	require.Equal(t, "Dluga 12, 80-100 Gdansk", p.PickupPointAddress)
	require.Equal(t, "0.2", p.CO2BoxMachineDelivery)
	require.True(t, p.Own())
}

func TestClient_FetchParcels_Paging(t *testing.T) {
	page1 := `{"more": true, "updated_until": "1", "parcels": [{"shipment_number": "A", "status": "CONFIRMED"}]}`
	page2 := `{"more": false, "parcels": [{"shipment_number": "B", "status": "DELIVERED"}]}`
	f := &fakeCarrier{validToken: "at-0", parcelPages: []string{page1, page2}}
	c := newTestClient(t, f)

	parcels, err := c.FetchParcels(context.Background())
	require.NoError(t, err)
	require.Len(t, parcels, 2)
	require.Equal(t, "A", parcels[0].ShipmentNumber)
	require.Equal(t, "B", parcels[1].ShipmentNumber)
	f.mu.Lock()
	require.Equal(t, 2, f.parcelCalls)
	f.mu.Unlock()
}

func TestClient_401RefreshesOnceAndRetries(t *testing.T) {
	// the restored token is not the one the server accepts, so the first call
	// 401s; after one refresh the call succeeds
	f := &fakeCarrier{validToken: "at-fresh", parcelPages: []string{onePageParcels}}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	tr := NewTransport(5*time.Second, nil)
	auth := NewAuthManager(tr, AuthOptions{OAuthBaseURL: srv.URL, APIBaseURL: srv.URL})
	auth.RestoreCredential(credWithExpiry("at-stale", "rt-0", time.Now().Add(time.Hour)))
	c := NewClient(tr, auth, srv.URL, srv.URL+"/points.json")

	parcels, err := c.FetchParcels(context.Background())
	require.NoError(t, err)
	require.Len(t, parcels, 1)
	f.mu.Lock()
	require.Equal(t, 1, f.refreshCalls)
	f.mu.Unlock()
}

func TestClient_PersistentUnauthorized(t *testing.T) {
	f := &fakeCarrier{validToken: "at-0", parcelCode: http.StatusUnauthorized}
	c := newTestClient(t, f)

	_, err := c.FetchParcels(context.Background())
	require.True(t, errors.Is(err, ErrReauthenticationRequired))
	f.mu.Lock()
	require.Equal(t, 1, f.refreshCalls)
	f.mu.Unlock()
}

func TestClient_RateLimited(t *testing.T) {
	f := &fakeCarrier{validToken: "at-0", parcelCode: http.StatusTooManyRequests, retryAfter: "120"}
	c := newTestClient(t, f)

	_, err := c.FetchParcels(context.Background())
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	require.Equal(t, 2*time.Minute, rl.RetryAfter)
}

func TestClient_MalformedParcelList(t *testing.T) {
	f := &fakeCarrier{validToken: "at-0", parcelPages: []string{`not json`}}
	c := newTestClient(t, f)

	_, err := c.FetchParcels(context.Background())
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
}

func TestClient_ParcelMissingRequiredFields(t *testing.T) {
	f := &fakeCarrier{validToken: "at-0",
		parcelPages: []string{`{"more": false, "parcels": [{"shipment_number": "", "status": "CONFIRMED"}]}`}}
	c := newTestClient(t, f)

	_, err := c.FetchParcels(context.Background())
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	require.True(t, strings.Contains(pe.Detail, "shipment_number"))
}

func TestClient_FetchLockerDirectory_Paged(t *testing.T) {
	f := &fakeCarrier{validToken: "at-0", pointsPages: []string{
		`{"date": "2025-01-10", "page": 1, "total_pages": 2, "items": [
			{"n": "GDA117M", "d": "Przy sklepie", "c": "Gdansk", "e": "Dluga", "o": "80-100", "b": "12"}
		]}`,
		`{"date": "2025-01-10", "page": 2, "total_pages": 2, "items": [
			{"n": "WAW01A", "d": "Na rogu", "c": "Warszawa", "e": "Prosta", "o": "00-001", "b": "7"}
		]}`,
	}}
	c := newTestClient(t, f)

	lockers, err := c.FetchLockerDirectory(context.Background())
	require.NoError(t, err)
	require.Len(t, lockers, 2)
	require.Equal(t, "GDA117M", lockers[0].PublicID)
	require.Equal(t, "Przy sklepie", lockers[0].Description)
	require.Equal(t, "Gdansk", lockers[0].Address.City)
	require.Equal(t, "80-100", lockers[0].Address.Zip)
	require.Equal(t, "WAW01A", lockers[1].PublicID)
}

func TestClient_PointsFeedCarriesNoBearerToken(t *testing.T) {
	f := &fakeCarrier{validToken: "at-0", parcelPages: []string{onePageParcels},
		pointsPages: []string{`{"date": "2025-01-10", "page": 1, "total_pages": 1, "items": [
			{"n": "GDA117M", "d": "Przy sklepie", "c": "Gdansk", "e": "Dluga", "o": "80-100", "b": "12"}
		]}`}}
	c := newTestClient(t, f)

	// an authenticated fetch first, then the public feed: the bearer token from
	// the parcels call must not ride along to the points feed
	_, err := c.FetchParcels(context.Background())
	require.NoError(t, err)
	_, err = c.FetchLockerDirectory(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.pointsAuth, 1)
	require.Empty(t, f.pointsAuth[0])
}

func TestClient_FetchAccountProfile(t *testing.T) {
	f := &fakeCarrier{validToken: "at-0"}
	c := newTestClient(t, f)

	profile, err := c.FetchAccountProfile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "jan@example.com", profile.Email)
	require.True(t, profile.EmailVerified)
	require.Len(t, profile.Points, 2)
	require.Equal(t, []string{"GDA117M", "WAW01A"}, profile.FavoriteLockerCodes())
}
