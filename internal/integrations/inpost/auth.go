package inpost

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/PaczkoBox/internal/models"
	"github.com/pkg/errors"
)

// AuthState is the login/refresh state machine position.
type AuthState string

const (
	StateUnauthenticated          AuthState = "UNAUTHENTICATED"
	StateSMSPending               AuthState = "SMS_PENDING"
	StateEmailVerificationPending AuthState = "EMAIL_VERIFICATION_PENDING"
	StateAuthenticated            AuthState = "AUTHENTICATED"
	StateRefreshing               AuthState = "REFRESHING"
	StateFailed                   AuthState = "FAILED"
)

// Onboarding steps reported by the carrier's account service.
const (
	stepOnboarded            = "ONBOARDED"
	stepProvideExistingEmail = "PROVIDE_EXISTING_EMAIL_ADDRESS"
)

const defaultRefreshMargin = 60 * time.Second

var phoneRe = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

type AuthOptions struct {
	OAuthBaseURL string // account service, default https://account.inpost-group.com
	APIBaseURL   string // mobile API, default https://api-inmobile-pl.easypack24.net
	ClientID     string
	RedirectURI  string
	Language     string // "pl" or "en"

	// How long before the actual expiry a token is already treated as stale.
	RefreshMargin time.Duration
}

func (o *AuthOptions) withDefaults() {
	if o.OAuthBaseURL == "" {
		o.OAuthBaseURL = "https://account.inpost-group.com"
	}
	if o.APIBaseURL == "" {
		o.APIBaseURL = "https://api-inmobile-pl.easypack24.net"
	}
	if o.ClientID == "" {
		o.ClientID = "inpost-mobile"
	}
	if o.RedirectURI == "" {
		o.RedirectURI = o.OAuthBaseURL + "/callback"
	}
	if o.Language == "" {
		o.Language = "pl"
	}
	if o.RefreshMargin <= 0 {
		o.RefreshMargin = defaultRefreshMargin
	}
}

// authSession is the transient setup-flow state. Created by BeginLogin,
// discarded once a credential is issued or the flow is abandoned.
type authSession struct {
	phoneNumber  string
	flowState    string
	codeVerifier string
}

// AuthManager owns the Credential and is the only component that mutates it.
// The mutex doubles as the single-flight lock: concurrent callers of
// EnsureValidToken block on the one in-flight refresh instead of issuing
// duplicates.
type AuthManager struct {
	tr   *Transport
	opts AuthOptions

	mu      sync.Mutex
	state   AuthState
	session *authSession
	cred    models.Credential
}

func NewAuthManager(tr *Transport, opts AuthOptions) *AuthManager {
	opts.withDefaults()
	tr.SetHeader("Accept-Language", languageCode(opts.Language))
	return &AuthManager{tr: tr, opts: opts, state: StateUnauthenticated}
}

func languageCode(lang string) string {
	switch lang {
	case "pl":
		return "pl-PL"
	default:
		return "en-US"
	}
}

func (a *AuthManager) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Credential returns a copy of the current token pair for the host to persist.
func (a *AuthManager) Credential() models.Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.cred
	c.PKCEVerifier = ""
	return c
}

// RestoreCredential installs a previously persisted token pair. A restored
// credential with a refresh token is considered authenticated even if the
// access token has already expired; the next EnsureValidToken refreshes it.
func (a *AuthManager) RestoreCredential(cred models.Credential) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cred = cred
	a.session = nil
	if cred.RefreshToken != "" {
		a.state = StateAuthenticated
	} else {
		a.state = StateUnauthenticated
	}
}

// BeginLogin starts the setup flow: generates the PKCE pair, establishes the
// onboarding session and requests an SMS code for the phone number.
func (a *AuthManager) BeginLogin(ctx context.Context, phoneNumber string) error {
	if !phoneRe.MatchString(phoneNumber) {
		return ErrInvalidPhoneNumber
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sess := &authSession{
		phoneNumber:  phoneNumber,
		flowState:    randomHex(8),
		codeVerifier: generateCodeVerifier(),
	}

	// Step 1: authorize call establishes the session cookies.
	if _, err := a.tr.Get(ctx, a.opts.OAuthBaseURL+"/oauth2/authorize", a.oauthParams(sess)); err != nil {
		return err
	}

	// Step 2: the steps endpoint hands out the XSRF token as a cookie, which
	// must be replayed as a header on every mutating call.
	if _, err := a.fetchStep(ctx); err != nil {
		return err
	}
	if xsrf, ok := a.tr.Cookie(a.opts.OAuthBaseURL, "XSRF-TOKEN"); ok {
		a.tr.SetHeader("X-XSRF-TOKEN", xsrf)
	}
	_ = a.tr.SetCookie(a.opts.OAuthBaseURL, "NEXT_LOCALE", languageCode(a.opts.Language))

	// Step 3: submit the phone number, which triggers the SMS.
	resp, err := a.tr.PostJSON(ctx, a.opts.OAuthBaseURL+"/api/auth/onboarding/steps/phoneNumber",
		map[string]string{"phoneNumber": phoneNumber})
	if err != nil {
		return err
	}
	if resp.Status/100 != 2 {
		return mapAPIError("onboarding/steps/phoneNumber", resp.Status, resp.Body)
	}

	a.session = sess
	a.state = StateSMSPending
	slog.Info("login started, sms code requested", "phone", phoneNumber)
	return nil
}

// SubmitSMSCode exchanges the SMS code. When the carrier reports the account's
// email as unverified it returns emailPending=true and the caller must drive
// PollEmailVerification until the user clicks the confirmation link. An
// ErrInvalidCode is retryable and keeps the session; ErrCodeExpired requires a
// fresh BeginLogin.
func (a *AuthManager) SubmitSMSCode(ctx context.Context, code string) (emailPending bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateSMSPending || a.session == nil {
		return false, errors.Wrap(ErrNotAuthenticated, "no login in progress")
	}

	resp, err := a.tr.PostJSON(ctx, a.opts.OAuthBaseURL+"/api/auth/onboarding/steps/phoneVerificationCode",
		map[string]string{"code": code})
	if err != nil {
		return false, err
	}
	if resp.Status/100 != 2 {
		err := mapAPIError("onboarding/steps/phoneVerificationCode", resp.Status, resp.Body)
		if errors.Is(err, ErrCodeExpired) {
			a.session = nil
			a.state = StateUnauthenticated
		}
		return false, err
	}

	step, err := parseStep(resp.Body)
	if err != nil {
		return false, err
	}

	if step == stepProvideExistingEmail {
		resp, err := a.tr.PostJSON(ctx, a.opts.OAuthBaseURL+"/api/auth/onboarding/steps/sendAuthenticationCodeToExistingEmail",
			map[string]bool{"openEmailButtonVisible": true})
		if err != nil {
			return false, err
		}
		if resp.Status/100 != 2 {
			return false, mapAPIError("onboarding/steps/sendAuthenticationCodeToExistingEmail", resp.Status, resp.Body)
		}
		a.state = StateEmailVerificationPending
		slog.Info("email verification pending")
		return true, nil
	}

	if step != stepOnboarded {
		return false, &ProtocolError{Endpoint: "onboarding/steps", Status: resp.Status,
			Detail: "unexpected step " + step}
	}

	return false, a.completeLogin(ctx)
}

// PollEmailVerification checks whether the user has confirmed their email yet.
// Once the account reports ONBOARDED the token exchange runs and the manager
// transitions to AUTHENTICATED.
func (a *AuthManager) PollEmailVerification(ctx context.Context) (done bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateEmailVerificationPending || a.session == nil {
		return false, errors.Wrap(ErrNotAuthenticated, "no email verification in progress")
	}

	step, err := a.fetchStep(ctx)
	if err != nil {
		return false, err
	}
	if step != stepOnboarded {
		return false, nil
	}
	return true, a.completeLogin(ctx)
}

// EnsureValidToken returns a usable access token, refreshing at most once no
// matter how many callers arrive concurrently. Must not be called from within
// the login flow; refresh only runs from AUTHENTICATED.
func (a *AuthManager) EnsureValidToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cred.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}
	if a.cred.Valid(time.Now(), a.opts.RefreshMargin) {
		return a.cred.AccessToken, nil
	}
	return a.refreshLocked(ctx)
}

// ForceRefresh discards the current access token and refreshes, regardless of
// its expiry. Used by the API client after an HTTP 401.
func (a *AuthManager) ForceRefresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cred.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}
	return a.refreshLocked(ctx)
}

func (a *AuthManager) refreshLocked(ctx context.Context) (string, error) {
	a.state = StateRefreshing

	form := url.Values{}
	form.Set("client_id", a.opts.ClientID)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", a.cred.RefreshToken)

	resp, err := a.tr.PostForm(ctx, a.opts.APIBaseURL+"/global/oauth2/token", form)
	if err != nil {
		a.state = StateAuthenticated // transport failure, token state unchanged
		return "", err
	}

	switch {
	case resp.Status/100 == 2:
	case resp.Status == 400 || resp.Status == 401:
		// Refresh token rejected: the session is dead, the host must
		// run the setup flow again.
		a.state = StateFailed
		slog.Warn("refresh token rejected", "status", resp.Status)
		return "", ErrReauthenticationRequired
	case resp.Status == 429:
		a.state = StateAuthenticated
		return "", &RateLimitedError{RetryAfter: retryAfter(resp)}
	default:
		a.state = StateAuthenticated
		return "", mapAPIError("oauth2/token", resp.Status, resp.Body)
	}

	cred, err := parseTokenResponse(resp.Body)
	if err != nil {
		a.state = StateAuthenticated
		return "", err
	}
	if cred.RefreshToken == "" {
		// The carrier does not always rotate; keep the old one then.
		cred.RefreshToken = a.cred.RefreshToken
	}
	a.cred = cred
	a.state = StateAuthenticated
	slog.Debug("access token refreshed", "expires_at", cred.ExpiresAt)
	return cred.AccessToken, nil
}

// completeLogin fetches the authorization code from the redirect and exchanges
// it for the token pair. Caller holds the mutex.
func (a *AuthManager) completeLogin(ctx context.Context) error {
	sess := a.session

	resp, err := a.tr.Get(ctx, a.opts.OAuthBaseURL+"/oauth2/authorize", a.oauthParams(sess))
	if err != nil {
		return err
	}
	location := resp.Header.Get("Location")
	code, err := authorizationCodeFromLocation(location)
	if err != nil {
		return &ProtocolError{Endpoint: "oauth2/authorize", Status: resp.Status,
			Detail: "authorization code not found in redirect"}
	}

	form := url.Values{}
	form.Set("client_id", a.opts.ClientID)
	form.Set("code", code)
	form.Set("code_verifier", sess.codeVerifier)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", a.opts.RedirectURI)

	tokResp, err := a.tr.PostForm(ctx, a.opts.APIBaseURL+"/global/oauth2/token", form)
	if err != nil {
		return err
	}
	if tokResp.Status/100 != 2 {
		return mapAPIError("oauth2/token", tokResp.Status, tokResp.Body)
	}
	cred, err := parseTokenResponse(tokResp.Body)
	if err != nil {
		return err
	}

	a.cred = cred
	a.session = nil
	a.state = StateAuthenticated
	slog.Info("login complete, tokens issued", "expires_at", cred.ExpiresAt)
	return nil
}

func (a *AuthManager) oauthParams(sess *authSession) url.Values {
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", a.opts.ClientID)
	v.Set("redirect_uri", a.opts.RedirectURI)
	v.Set("scope", "openid")
	v.Set("code_challenge", codeChallenge(sess.codeVerifier))
	v.Set("code_challenge_method", "S256")
	v.Set("state", sess.flowState)
	v.Set("nonce", randomHex(8))
	v.Set("lang", a.opts.Language)
	v.Set("response_mode", "query")
	return v
}

func (a *AuthManager) fetchStep(ctx context.Context) (string, error) {
	resp, err := a.tr.Get(ctx, a.opts.OAuthBaseURL+"/api/auth/onboarding/steps", nil)
	if err != nil {
		return "", err
	}
	if resp.Status/100 != 2 {
		return "", mapAPIError("onboarding/steps", resp.Status, resp.Body)
	}
	return parseStep(resp.Body)
}

func parseStep(body []byte) (string, error) {
	var out struct {
		Step string `json:"step"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ProtocolError{Endpoint: "onboarding/steps", Status: 200, Detail: "non-JSON step response"}
	}
	return out.Step, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func parseTokenResponse(body []byte) (models.Credential, error) {
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return models.Credential{}, &ProtocolError{Endpoint: "oauth2/token", Status: 200,
			Detail: "token response missing access_token"}
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tok.ExpiresIn <= 0 {
		tok.ExpiresIn = 7199
	}
	return models.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}

func authorizationCodeFromLocation(location string) (string, error) {
	if location == "" {
		return "", errors.New("empty redirect location")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrap(err, "parse redirect location")
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", errors.New("code not present")
	}
	return code, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// generateCodeVerifier produces a PKCE code verifier of at least 43 characters
// from the unreserved character set.
func generateCodeVerifier() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b) // 64 chars
}

func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum[:]), "=")
}

func retryAfter(resp *Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}
