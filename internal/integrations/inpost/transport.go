package inpost

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultUserAgent = "InPost-Mobile/4.4.2 (1)-release (iOS 26.2; iPhone15,3; pl)"

// Transport is a thin retrying wrapper around http.Client. It keeps a cookie
// jar (the OAuth onboarding flow is session-cookie based), never follows
// redirects (the authorization code arrives in a Location header), and retries
// transient network failures once on GETs. No business logic lives here.
//
// Bearer tokens are per-request, never part of the default headers: the public
// points feed and the onboarding endpoints must stay unauthenticated.
type Transport struct {
	httpc   *http.Client
	mu      sync.RWMutex
	headers map[string]string
	retries int
}

// Response is the raw result of one HTTP call.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

func NewTransport(timeout time.Duration, headers map[string]string) *Transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jar, _ := cookiejar.New(nil)
	h := map[string]string{"User-Agent": defaultUserAgent}
	for k, v := range headers {
		h[k] = v
	}
	return &Transport{
		httpc: &http.Client{
			Timeout: timeout,
			Jar:     jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers: h,
		retries: 1,
	}
}

// SetHeader sets a default header applied to every subsequent request (used
// for the XSRF token during the onboarding flow). Safe to call while other
// goroutines are issuing requests.
func (t *Transport) SetHeader(key, value string) {
	t.mu.Lock()
	t.headers[key] = value
	t.mu.Unlock()
}

// SetCookie adds a cookie to the jar for the given URL.
func (t *Transport) SetCookie(rawURL, name, value string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "parse cookie url")
	}
	t.httpc.Jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value}})
	return nil
}

// Cookie returns the value of a cookie currently held for the given URL.
func (t *Transport) Cookie(rawURL, name string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	for _, c := range t.httpc.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func (t *Transport) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	return t.get(ctx, rawURL, params, "")
}

// GetWithBearer performs a GET carrying an Authorization header for this one
// request only.
func (t *Transport) GetWithBearer(ctx context.Context, rawURL string, params url.Values, token string) (*Response, error) {
	return t.get(ctx, rawURL, params, token)
}

func (t *Transport) get(ctx context.Context, rawURL string, params url.Values, bearer string) (*Response, error) {
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + params.Encode()
	}
	return t.do(ctx, http.MethodGet, rawURL, nil, "", bearer)
}

func (t *Transport) PostJSON(ctx context.Context, rawURL string, payload any) (*Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return t.do(ctx, http.MethodPost, rawURL, b, "application/json", "")
}

func (t *Transport) PostForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	return t.do(ctx, http.MethodPost, rawURL, []byte(form.Encode()), "application/x-www-form-urlencoded", "")
}

func (t *Transport) do(ctx context.Context, method, rawURL string, body []byte, contentType, bearer string) (*Response, error) {
	// Only GETs are replayed: the auth flow POSTs carry single-use codes, so
	// re-sending one after a lost response can only fail differently.
	attempts := 1
	if method == http.MethodGet {
		attempts += t.retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "new request")
		}
		t.mu.RLock()
		for k, v := range t.headers {
			req.Header.Set(k, v)
		}
		t.mu.RUnlock()
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := t.httpc.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return &Response{Status: resp.StatusCode, Body: respBody, Header: resp.Header}, nil
	}
	return nil, errors.Wrapf(ErrCarrierUnavailable, "%s %s: %v", method, rawURL, lastErr)
}
