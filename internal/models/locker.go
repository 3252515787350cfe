package models

// LockerAddress is the postal address of a parcel locker.
type LockerAddress struct {
	City           string `json:"city,omitempty"`
	Zip            string `json:"zip,omitempty"`
	Street         string `json:"street,omitempty"`
	BuildingNumber string `json:"building_number,omitempty"`
}

// Locker is one entry of the public locker directory. Immutable once fetched;
// the directory is refreshed wholesale when its cache expires.
type Locker struct {
	PublicID    string        `json:"public_id"`
	Description string        `json:"description,omitempty"`
	Address     LockerAddress `json:"address"`
}
