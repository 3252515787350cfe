package models

// DeliveryPoint is a favourite pickup point from the account profile.
type DeliveryPoint struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Active    bool   `json:"active"`
	Preferred bool   `json:"preferred"`
}

// Profile is the slice of the account profile the engine cares about: whether
// the email is verified and which lockers the user favours.
type Profile struct {
	Email         string          `json:"email,omitempty"`
	EmailVerified bool            `json:"email_verified"`
	PhoneNumber   string          `json:"phone_number,omitempty"`
	Points        []DeliveryPoint `json:"points,omitempty"`
}

// FavoriteLockerCodes lists the active favourite locker codes, preferred ones
// first.
func (p *Profile) FavoriteLockerCodes() []string {
	out := make([]string, 0, len(p.Points))
	for _, pt := range p.Points {
		if pt.Active && pt.Preferred {
			out = append(out, pt.Name)
		}
	}
	for _, pt := range p.Points {
		if pt.Active && !pt.Preferred {
			out = append(out, pt.Name)
		}
	}
	return out
}
