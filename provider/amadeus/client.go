// Package amadeus implements flight and hotel search adapters over the
// Amadeus Self-Service REST API. Requests authenticate with an OAuth2 client
// credentials token that is cached and refreshed by golang.org/x/oauth2.
package amadeus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hupe1980/travelmesh/logging"
)

// TestBaseURL is the Amadeus test environment.
const TestBaseURL = "https://test.api.amadeus.com"

// ErrNoLocation is returned when a city name has no IATA code.
var ErrNoLocation = errors.New("amadeus: no matching location")

// Options configure a Client.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// Currency requested for offers. Defaults to INR.
	Currency string
	// MaxResults caps offers per search. Defaults to 10.
	MaxResults int
	// Timeout bounds each HTTP request. Defaults to 15s.
	Timeout time.Duration
	// HTTPClient is used for token and API calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	Logger     logging.Logger
}

// APIError is a non-2xx answer of the Amadeus API.
type APIError struct {
	Status int
	Code   int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	msg := e.Title
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("amadeus: status %d: %s", e.Status, msg)
}

// Client issues authenticated GET requests against the Amadeus API.
type Client struct {
	opts   Options
	http   *http.Client
	logger logging.Logger

	mu     sync.RWMutex
	cities map[string]string
}

// NewClient creates a client. ClientID and ClientSecret are required.
func NewClient(optFns ...func(o *Options)) (*Client, error) {
	opts := Options{
		BaseURL:    TestBaseURL,
		Currency:   "INR",
		MaxResults: 10,
		Timeout:    15 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("amadeus: client id and secret are required")
	}
	if opts.MaxResults < 1 {
		opts.MaxResults = 10
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	cc := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     opts.BaseURL + "/v1/security/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: base.Transport},
		Timeout:   opts.Timeout,
	}

	return &Client{
		opts:   opts,
		http:   httpClient,
		logger: logging.OrNoOp(opts.Logger),
		cities: map[string]string{},
	}, nil
}

// get decodes the JSON answer of path into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.opts.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("amadeus: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("amadeus.request", "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("amadeus: read %s: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		return decodeError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("amadeus: decode %s: %w", path, err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var env struct {
		Errors []struct {
			Status int    `json:"status"`
			Code   int    `json:"code"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	apiErr := &APIError{Status: status}
	if json.Unmarshal(body, &env) == nil && len(env.Errors) > 0 {
		e := env.Errors[0]
		apiErr.Code, apiErr.Title, apiErr.Detail = e.Code, e.Title, e.Detail
	}
	return apiErr
}

// CityCode resolves a city or airport name to its IATA code. Three-letter
// inputs are taken as codes. Lookups are cached for the client lifetime.
func (c *Client) CityCode(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if isIATA(name) {
		return strings.ToUpper(name), nil
	}
	key := strings.ToLower(name)
	c.mu.RLock()
	code, ok := c.cities[key]
	c.mu.RUnlock()
	if ok {
		return code, nil
	}

	var res struct {
		Data []struct {
			IATACode string `json:"iataCode"`
			SubType  string `json:"subType"`
		} `json:"data"`
	}
	params := url.Values{"keyword": {name}, "subType": {"CITY,AIRPORT"}}
	if err := c.get(ctx, "/v1/reference-data/locations", params, &res); err != nil {
		return "", err
	}
	for _, d := range res.Data {
		if d.IATACode != "" {
			c.mu.Lock()
			c.cities[key] = d.IATACode
			c.mu.Unlock()
			return d.IATACode, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoLocation, name)
}

func isIATA(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
