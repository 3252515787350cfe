package models

import "time"

// Credential is the durable OAuth2 token pair. Owned by the auth manager,
// persisted opaquely by the host between restarts. PKCEVerifier is only set
// during an in-flight login and never survives a completed flow.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`

	PKCEVerifier string `json:"-"`
}

// Valid reports whether the access token is usable without a refresh, given a
// safety margin before the actual expiry.
func (c *Credential) Valid(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && c.ExpiresAt.After(now.Add(margin))
}
