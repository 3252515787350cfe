package inpost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/pkg/errors"
)

const defaultLockersURL = "https://inpost.pl/sites/default/files/points.json"

// Client makes the typed carrier API calls, attaching bearer tokens from the
// AuthManager. On a 401 it forces exactly one token refresh and one retry; a
// second 401 surfaces ErrReauthenticationRequired. 429 is passed through as
// RateLimitedError; backoff belongs to the poller.
type Client struct {
	tr         *Transport
	auth       *AuthManager
	apiBaseURL string
	lockersURL string
}

func NewClient(tr *Transport, auth *AuthManager, apiBaseURL, lockersURL string) *Client {
	if apiBaseURL == "" {
		apiBaseURL = "https://api-inmobile-pl.easypack24.net"
	}
	if lockersURL == "" {
		lockersURL = defaultLockersURL
	}
	return &Client{tr: tr, auth: auth, apiBaseURL: apiBaseURL, lockersURL: lockersURL}
}

type apiAddressDetails struct {
	PostCode       string `json:"post_code"`
	City           string `json:"city"`
	Street         string `json:"street"`
	BuildingNumber string `json:"building_number"`
}

type apiPickUpPoint struct {
	Name                string             `json:"name"`
	LocationDescription string             `json:"location_description"`
	AddressDetails      *apiAddressDetails `json:"address_details"`
	Type                []string           `json:"type"`
}

func (p *apiPickUpPoint) isParcelLocker() bool {
	for _, t := range p.Type {
		if t == "parcel_locker" {
			return true
		}
	}
	return false
}

type apiPhoneNumber struct {
	Prefix string `json:"prefix"`
	Value  string `json:"value"`
}

type apiParcel struct {
	ShipmentNumber  string          `json:"shipment_number"`
	Status          string          `json:"status"`
	ShipmentType    string          `json:"shipment_type"`
	OpenCode        string          `json:"open_code"`
	QRCode          string          `json:"qr_code"`
	StoredDate      string          `json:"stored_date"`
	PickUpDate      string          `json:"pick_up_date"`
	PickUpPoint     *apiPickUpPoint `json:"pick_up_point"`
	ParcelSize      string          `json:"parcel_size"`
	OwnershipStatus string          `json:"ownership_status"`
	Receiver        *struct {
		PhoneNumber *apiPhoneNumber `json:"phone_number"`
	} `json:"receiver"`
	Sender *struct {
		Name string `json:"name"`
	} `json:"sender"`
	CarbonFootprint *struct {
		BoxMachineDelivery string `json:"box_machine_delivery"`
		AddressDelivery    string `json:"address_delivery"`
	} `json:"carbon_footprint"`
}

type trackedParcelsResponse struct {
	More         bool        `json:"more"`
	UpdatedUntil string      `json:"updated_until"`
	Parcels      []apiParcel `json:"parcels"`
}

// FetchParcels returns the full tracked-parcel list, following the feed's
// paging within this one call. Order is carrier-response order.
func (c *Client) FetchParcels(ctx context.Context) ([]*models.Parcel, error) {
	var out []*models.Parcel
	updatedUntil := ""

	for page := 0; ; page++ {
		params := url.Values{}
		if updatedUntil != "" {
			params.Set("updatedUntil", updatedUntil)
		}
		body, err := c.authedGet(ctx, c.apiBaseURL+"/v1/parcels/tracked", params)
		if err != nil {
			return nil, err
		}

		var resp trackedParcelsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &ProtocolError{Endpoint: "v1/parcels/tracked", Status: 200,
				Detail: "malformed parcel list: " + err.Error()}
		}
		for i := range resp.Parcels {
			p, err := toParcel(&resp.Parcels[i])
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}

		if !resp.More || resp.UpdatedUntil == "" || page >= 20 {
			break
		}
		updatedUntil = resp.UpdatedUntil
	}
	return out, nil
}

func toParcel(in *apiParcel) (*models.Parcel, error) {
	if in.ShipmentNumber == "" || in.Status == "" {
		return nil, &ProtocolError{Endpoint: "v1/parcels/tracked", Status: 200,
			Detail: "parcel missing shipment_number or status"}
	}

	p := &models.Parcel{
		ShipmentNumber:    in.ShipmentNumber,
		Status:            in.Status,
		StatusDescription: models.DescribeStatus(in.Status),
		ShipmentType:      in.ShipmentType,
		ParcelSize:        in.ParcelSize,
		OpenCode:          in.OpenCode,
		QRCode:            in.QRCode,
		StoredDate:        in.StoredDate,
		PickupDate:        in.PickUpDate,
		OwnershipStatus:   in.OwnershipStatus,
	}
	if p.ShipmentType == "" {
		p.ShipmentType = models.ShipmentTypeParcel
	}
	if in.Sender != nil {
		p.SenderName = in.Sender.Name
	}
	if in.Receiver != nil && in.Receiver.PhoneNumber != nil {
		p.ReceiverPhone = in.Receiver.PhoneNumber.Prefix + in.Receiver.PhoneNumber.Value
	}
	if pp := in.PickUpPoint; pp != nil {
		p.PickupPointID = pp.Name
		p.PickupPointDescription = pp.LocationDescription
		p.PickupPointIsLocker = pp.isParcelLocker()
		if ad := pp.AddressDetails; ad != nil {
			p.PickupPointAddress = formatAddress(ad)
		}
	}
	if cf := in.CarbonFootprint; cf != nil {
		p.CO2BoxMachineDelivery = cf.BoxMachineDelivery
		p.CO2AddressDelivery = cf.AddressDelivery
	}
	return p, nil
}

func formatAddress(ad *apiAddressDetails) string {
	var parts []string
	if ad.Street != "" {
		s := ad.Street
		if ad.BuildingNumber != "" {
			s += " " + ad.BuildingNumber
		}
		parts = append(parts, s)
	}
	if ad.City != "" {
		c := ad.City
		if ad.PostCode != "" {
			c = ad.PostCode + " " + c
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, ", ")
}

// The public points feed uses single-letter field names.
type pointsItem struct {
	N string `json:"n"` // locker code
	D string `json:"d"` // location description
	C string `json:"c"` // city
	E string `json:"e"` // street
	O string `json:"o"` // zip
	B string `json:"b"` // building number
}

type pointsResponse struct {
	Date       string       `json:"date"`
	Page       int          `json:"page"`
	TotalPages int          `json:"total_pages"`
	Items      []pointsItem `json:"items"`
}

// FetchLockerDirectory downloads the full public locker catalog. The feed is
// unauthenticated and paged.
func (c *Client) FetchLockerDirectory(ctx context.Context) ([]*models.Locker, error) {
	var out []*models.Locker

	for page := 1; ; page++ {
		params := url.Values{}
		if page > 1 {
			params.Set("page", fmt.Sprintf("%d", page))
		}
		resp, err := c.tr.Get(ctx, c.lockersURL, params)
		if err != nil {
			return nil, err
		}
		if resp.Status/100 != 2 {
			return nil, mapAPIError("points feed", resp.Status, resp.Body)
		}

		var pr pointsResponse
		if err := json.Unmarshal(resp.Body, &pr); err != nil {
			return nil, &ProtocolError{Endpoint: "points feed", Status: resp.Status,
				Detail: "malformed points feed: " + err.Error()}
		}
		for _, it := range pr.Items {
			if it.N == "" {
				return nil, &ProtocolError{Endpoint: "points feed", Status: resp.Status,
					Detail: "locker entry without code"}
			}
			out = append(out, &models.Locker{
				PublicID:    it.N,
				Description: it.D,
				Address: models.LockerAddress{
					City:           it.C,
					Zip:            it.O,
					Street:         it.E,
					BuildingNumber: it.B,
				},
			})
		}

		if pr.TotalPages <= 1 || pr.Page >= pr.TotalPages || page >= pr.TotalPages {
			break
		}
	}
	return out, nil
}

type profileResponse struct {
	Personal *struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		PhoneNumber   string `json:"phone_number"`
	} `json:"personal"`
	Delivery *struct {
		Points *struct {
			Items []struct {
				Name      string `json:"name"`
				Type      string `json:"type"`
				Active    bool   `json:"active"`
				Preferred bool   `json:"preferred"`
			} `json:"items"`
		} `json:"points"`
	} `json:"delivery"`
}

// FetchAccountProfile returns the account's contact details, verified-email
// flag and delivery point preferences. Exposed on the worker's /profile
// endpoint; email verification progress itself is read off the onboarding
// steps endpoint during login.
func (c *Client) FetchAccountProfile(ctx context.Context) (*models.Profile, error) {
	body, err := c.authedGet(ctx, c.apiBaseURL+"/v1/profile", nil)
	if err != nil {
		return nil, err
	}

	var resp profileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Endpoint: "v1/profile", Status: 200,
			Detail: "malformed profile: " + err.Error()}
	}

	p := &models.Profile{}
	if resp.Personal != nil {
		p.Email = resp.Personal.Email
		p.EmailVerified = resp.Personal.EmailVerified
		p.PhoneNumber = resp.Personal.PhoneNumber
	}
	if resp.Delivery != nil && resp.Delivery.Points != nil {
		for _, it := range resp.Delivery.Points.Items {
			p.Points = append(p.Points, models.DeliveryPoint{
				Name: it.Name, Type: it.Type, Active: it.Active, Preferred: it.Preferred,
			})
		}
	}
	return p, nil
}

// authedGet performs a bearer-authenticated GET with the single forced
// refresh + retry on 401.
func (c *Client) authedGet(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	token, err := c.auth.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.getWithToken(ctx, rawURL, params, token)
	if err != nil {
		return nil, err
	}

	if resp.Status == 401 {
		token, err = c.auth.ForceRefresh(ctx)
		if err != nil {
			return nil, err
		}
		resp, err = c.getWithToken(ctx, rawURL, params, token)
		if err != nil {
			return nil, err
		}
		if resp.Status == 401 {
			return nil, errors.Wrapf(ErrReauthenticationRequired, "401 after refresh on %s", rawURL)
		}
	}

	switch {
	case resp.Status/100 == 2:
		return resp.Body, nil
	case resp.Status == 429:
		return nil, &RateLimitedError{RetryAfter: retryAfter(resp)}
	default:
		return nil, mapAPIError(rawURL, resp.Status, resp.Body)
	}
}

func (c *Client) getWithToken(ctx context.Context, rawURL string, params url.Values, token string) (*Response, error) {
	return c.tr.GetWithBearer(ctx, rawURL, params, token)
}
