// Package sandbox provides deterministic in-process travel providers. The
// same query always yields the same offers, which makes the sandbox usable
// for demos, local development and end-to-end tests without credentials.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

var (
	// ErrUnknownOffer is returned when an offer id was never issued by the provider.
	ErrUnknownOffer = errors.New("sandbox: unknown offer")
	// ErrUnknownHold is returned when a hold id was never issued by the provider.
	ErrUnknownHold = errors.New("sandbox: unknown hold")
	// ErrHoldExpired is returned when confirming a hold after its expiry.
	ErrHoldExpired = errors.New("sandbox: hold expired")
	// ErrHoldClosed is returned when confirming a released hold or releasing a confirmed one.
	ErrHoldClosed = errors.New("sandbox: hold already closed")
	// ErrMissingRoute is returned when a transport search lacks origin or destination.
	ErrMissingRoute = errors.New("sandbox: origin and destination are required")
)

// Options configure a Provider.
type Options struct {
	// Currency of all prices. Defaults to INR.
	Currency string
	// Results is the number of offers per search. Defaults to 5.
	Results int
	// HoldTTL is how long a hold stays confirmable. Defaults to 15 minutes.
	HoldTTL time.Duration
	// Clock returns the current time; defaults to time.Now.
	Clock func() time.Time
}

type holdState int

const (
	holdOpen holdState = iota
	holdConfirmed
	holdReleased
)

type hold struct {
	offer     core.Offer
	state     holdState
	expiresAt time.Time
	confirmID string
}

// Provider is a deterministic core.BookingAdapter for one category.
type Provider struct {
	category core.Category
	opts     Options

	mu     sync.Mutex
	offers map[string]core.Offer
	holds  map[string]*hold
}

var _ core.BookingAdapter = (*Provider)(nil)

// New creates a sandbox provider for category. Places are served by NewPlaces.
func New(category core.Category, optFns ...func(o *Options)) (*Provider, error) {
	if _, ok := profiles[category]; !ok {
		return nil, fmt.Errorf("sandbox: category %q is not bookable", category)
	}
	opts := Options{Currency: "INR", Results: 5, HoldTTL: 15 * time.Minute, Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Results < 1 {
		opts.Results = 5
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &Provider{
		category: category,
		opts:     opts,
		offers:   map[string]core.Offer{},
		holds:    map[string]*hold{},
	}, nil
}

// NewAll creates one provider for every bookable category.
func NewAll(optFns ...func(o *Options)) ([]*Provider, error) {
	var out []*Provider
	for _, cat := range []core.Category{core.CategoryFlight, core.CategoryHotel, core.CategoryTrain, core.CategoryBus} {
		p, err := New(cat, optFns...)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p *Provider) Name() string            { return "sandbox-" + string(p.category) }
func (p *Provider) Category() core.Category { return p.category }

// Search returns offers derived from a hash of the query, sorted by price.
func (p *Provider) Search(ctx context.Context, q core.Query) ([]core.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prof := profiles[p.category]
	if prof.needsRoute && (q.Origin == "" || q.Destination == "") {
		return nil, ErrMissingRoute
	}
	if !prof.needsRoute && q.Destination == "" {
		return nil, errors.New("sandbox: destination is required")
	}

	day := parseDay(q.DepartureDate, p.opts.Clock())
	n := p.opts.Results
	if q.MaxResults > 0 && q.MaxResults < n {
		n = q.MaxResults
	}
	travelers := int64(max(q.Travelers, 1))
	seed := hash(string(p.category), strings.ToUpper(q.Origin), strings.ToUpper(q.Destination), day.Format(time.DateOnly), q.TravelClass)

	offers := make([]core.Offer, 0, n)
	for i := range p.opts.Results {
		h := hash(fmt.Sprint(seed, i))
		unit := prof.base + int64(h%uint64(prof.spread))
		if q.TravelClass == "BUSINESS" || q.TravelClass == "FIRST" {
			unit *= 3
		}
		o := prof.offer(q, i, h, day)
		o.ID = fmt.Sprintf("%s-%06x-%d", prof.prefix, seed&0xffffff, i+1)
		o.Category = p.category
		o.Provider = p.Name()
		o.Price = decimal.NewFromInt(unit * travelers)
		o.Currency = p.opts.Currency
		if q.MaxPrice.IsPositive() && o.Price.GreaterThan(q.MaxPrice) {
			continue
		}
		offers = append(offers, o)
	}
	slices.SortStableFunc(offers, func(a, b core.Offer) int { return a.Price.Cmp(b.Price) })
	if len(offers) > n {
		offers = offers[:n]
	}

	p.mu.Lock()
	for _, o := range offers {
		p.offers[o.ID] = o.Clone()
	}
	p.mu.Unlock()

	out := make([]core.Offer, len(offers))
	for i, o := range offers {
		out[i] = o.Clone()
	}
	return out, nil
}

// Hold reserves an offer returned by an earlier Search.
func (p *Provider) Hold(ctx context.Context, offerID string) (core.HoldResult, error) {
	if err := ctx.Err(); err != nil {
		return core.HoldResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.offers[offerID]
	if !ok {
		return core.HoldResult{}, fmt.Errorf("%w: %s", ErrUnknownOffer, offerID)
	}
	id := util.NewID("hold")
	h := &hold{offer: o, expiresAt: p.opts.Clock().Add(p.opts.HoldTTL)}
	p.holds[id] = h
	return core.HoldResult{HoldID: id, Price: o.Price, Currency: o.Currency, ExpiresAt: h.expiresAt}, nil
}

// Confirm purchases a held offer.
func (p *Provider) Confirm(ctx context.Context, holdID string) (core.ConfirmResult, error) {
	if err := ctx.Err(); err != nil {
		return core.ConfirmResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.holds[holdID]
	if !ok {
		return core.ConfirmResult{}, fmt.Errorf("%w: %s", ErrUnknownHold, holdID)
	}
	switch {
	case h.state == holdConfirmed:
		return core.ConfirmResult{ConfirmationID: h.confirmID, Charged: h.offer.Price}, nil
	case h.state == holdReleased:
		return core.ConfirmResult{}, fmt.Errorf("%w: %s", ErrHoldClosed, holdID)
	case p.opts.Clock().After(h.expiresAt):
		return core.ConfirmResult{}, fmt.Errorf("%w: %s", ErrHoldExpired, holdID)
	}
	h.state = holdConfirmed
	h.confirmID = util.NewID("pnr")
	return core.ConfirmResult{ConfirmationID: h.confirmID, Charged: h.offer.Price}, nil
}

// Release drops a hold. Releasing twice is a no-op; releasing a confirmed
// booking fails.
func (p *Provider) Release(_ context.Context, holdID string) (core.ReleaseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.holds[holdID]
	if !ok {
		return core.ReleaseResult{}, fmt.Errorf("%w: %s", ErrUnknownHold, holdID)
	}
	if h.state == holdConfirmed {
		return core.ReleaseResult{}, fmt.Errorf("%w: %s", ErrHoldClosed, holdID)
	}
	h.state = holdReleased
	return core.ReleaseResult{Released: true}, nil
}

// OpenHolds returns the number of holds neither confirmed nor released.
func (p *Provider) OpenHolds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.holds {
		if h.state == holdOpen {
			n++
		}
	}
	return n
}

func hash(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func parseDay(s string, now time.Time) time.Time {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d
	}
	y, m, d := now.AddDate(0, 0, 7).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
