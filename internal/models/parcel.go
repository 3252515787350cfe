package models

// Raw carrier statuses seen in the tracked-parcels feed. The carrier can add new
// ones at any time; classification treats anything unknown as en route.
const (
	StatusReadyToPickup         = "READY_TO_PICKUP"
	StatusPickupReminderSent    = "PICKUP_REMINDER_SENT"
	StatusDelivered             = "DELIVERED"
	StatusOutForDelivery        = "OUT_FOR_DELIVERY"
	StatusAdoptedAtSourceBranch = "ADOPTED_AT_SOURCE_BRANCH"
	StatusSentFromSourceBranch  = "SENT_FROM_SOURCE_BRANCH"
	StatusTakenByCourier        = "TAKEN_BY_COURIER"
	StatusConfirmed             = "CONFIRMED"
	StatusDispatchedBySender    = "DISPATCHED_BY_SENDER"
)

// Shipment types as reported by the carrier.
const (
	ShipmentTypeParcel  = "parcel"
	ShipmentTypeCourier = "courier"
)

// Ownership statuses. Anything other than OWN is a parcel shared with the
// account (e.g. by a family member); we do not infer more than that.
const OwnershipOwn = "OWN"

// Classification is the derived bucket for a parcel, a pure function of the raw
// status and the configured ignored-status set.
type Classification int

const (
	ClassEnRoute Classification = iota
	ClassReadyForPickup
	ClassDelivered
	ClassIgnored
)

func (c Classification) String() string {
	switch c {
	case ClassEnRoute:
		return "EN_ROUTE"
	case ClassReadyForPickup:
		return "READY_FOR_PICKUP"
	case ClassDelivered:
		return "DELIVERED"
	case ClassIgnored:
		return "IGNORED"
	default:
		return "UNKNOWN"
	}
}

// Parcel is one shipment as returned by a single poll. Immutable snapshot; only
// ShipmentNumber identifies it across polls.
type Parcel struct {
	ShipmentNumber    string `json:"shipment_number"`
	SenderName        string `json:"sender_name,omitempty"`
	Status            string `json:"status"`
	StatusDescription string `json:"status_description,omitempty"`
	ShipmentType      string `json:"shipment_type"`
	ParcelSize        string `json:"parcel_size,omitempty"`
	ReceiverPhone     string `json:"receiver_phone,omitempty"`

	PickupPointID          string `json:"pickup_point_id,omitempty"`
	PickupPointDescription string `json:"pickup_point_description,omitempty"`
	PickupPointAddress     string `json:"pickup_point_address,omitempty"`
	PickupPointIsLocker    bool   `json:"pickup_point_is_locker,omitempty"`

	OpenCode string `json:"open_code,omitempty"`
	QRCode   string `json:"qr_code,omitempty"`

	StoredDate string `json:"stored_date,omitempty"`
	PickupDate string `json:"pickup_date,omitempty"`

	// CO2 cost in kg by delivery method, as carrier-reported strings.
	CO2BoxMachineDelivery string `json:"co2_box_machine_delivery,omitempty"`
	CO2AddressDelivery    string `json:"co2_address_delivery,omitempty"`

	OwnershipStatus string `json:"ownership_status,omitempty"`
}

// Own reports whether the parcel belongs to the account itself rather than
// being shared into it.
func (p *Parcel) Own() bool {
	return p.OwnershipStatus == "" || p.OwnershipStatus == OwnershipOwn
}

var statusDescriptions = map[string]string{
	StatusReadyToPickup:         "Gotowa do odbioru",
	StatusDelivered:             "Doręczona",
	StatusOutForDelivery:        "Wydana do doręczenia",
	StatusAdoptedAtSourceBranch: "Przyjęta w Centrum Logistycznym",
	StatusSentFromSourceBranch:  "W trasie",
	StatusTakenByCourier:        "Odebrana przez Kuriera",
	StatusConfirmed:             "Przesyłka utworzona",
	StatusDispatchedBySender:    "Nadana",
	StatusPickupReminderSent:    "Przypomnienie o odbiorze",
}

// DescribeStatus returns the human-readable description for a raw status, or
// the raw status itself when none is known.
func DescribeStatus(status string) string {
	if d, ok := statusDescriptions[status]; ok {
		return d
	}
	return status
}
