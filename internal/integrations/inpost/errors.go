package inpost

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Sentinel errors of the auth/sync engine. Transport and rate-limit failures
// abort only the current refresh cycle; ErrReauthenticationRequired is fatal to
// the session and must be surfaced as "needs reconfiguration".
var (
	ErrInvalidPhoneNumber        = errors.New("invalid phone number")
	ErrCarrierUnavailable        = errors.New("carrier unavailable")
	ErrInvalidCode               = errors.New("invalid verification code")
	ErrCodeExpired               = errors.New("verification code expired")
	ErrIdentityLimitReached      = errors.New("identity addition limit reached")
	ErrReauthenticationRequired  = errors.New("reauthentication required")
	ErrNotAuthenticated          = errors.New("not authenticated")
	ErrEmailVerificationRequired = errors.New("email verification required")
)

// RateLimitedError signals HTTP 429. The engine never backs off internally;
// the host's scheduler decides what to do with RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// ProtocolError signals a response that does not match the expected schema.
// The payload context is kept for logging; the cycle is aborted rather than
// partially parsed.
type ProtocolError struct {
	Endpoint string
	Status   int
	Detail   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s (http %d): %s", e.Endpoint, e.Status, e.Detail)
}

// UnknownLockerError marks a configured locker id the public directory does
// not know. Surfaced per locker; never aborts the whole snapshot.
type UnknownLockerError struct {
	ID string
}

func (e *UnknownLockerError) Error() string {
	return fmt.Sprintf("unknown locker %q", e.ID)
}

// problemDetails is the carrier's problem+json error envelope. The detail
// field may itself contain nested JSON carrying the specific failure type.
type problemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
}

// detail types the carrier embeds in problem+json responses.
const (
	detailInvalidVerificationCode = "InvalidVerificationCode"
	detailVerificationCodeExpired = "VerificationCodeExpired"
	detailTooManyRequests         = "TooManyRequests"
	detailIdentityLimitReached    = "IdentityAdditionLimitReached"
)

// mapAPIError translates a non-2xx carrier response into the engine taxonomy.
func mapAPIError(endpoint string, status int, body []byte) error {
	var p problemDetails
	if err := json.Unmarshal(body, &p); err == nil {
		switch detailType(p) {
		case detailInvalidVerificationCode:
			return ErrInvalidCode
		case detailVerificationCodeExpired:
			return ErrCodeExpired
		case detailTooManyRequests:
			return &RateLimitedError{}
		case detailIdentityLimitReached:
			return ErrIdentityLimitReached
		}
	}

	switch {
	case status == 401:
		return errors.Wrapf(ErrReauthenticationRequired, "http 401 from %s", endpoint)
	case status == 429:
		return &RateLimitedError{}
	case status >= 500:
		return errors.Wrapf(ErrCarrierUnavailable, "http %d from %s", status, endpoint)
	default:
		return &ProtocolError{Endpoint: endpoint, Status: status, Detail: truncate(string(body), 500)}
	}
}

// detailType extracts the specific failure type, preferring the nested JSON in
// the detail field over the top-level type.
func detailType(p problemDetails) string {
	if p.Detail != "" {
		var nested struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(p.Detail), &nested); err == nil && nested.Type != "" {
			return nested.Type
		}
	}
	return p.Type
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
