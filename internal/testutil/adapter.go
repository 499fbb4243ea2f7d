package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hupe1980/travelmesh/core"
)

// StubAdapter is a scriptable core.BookingAdapter. Unset funcs fall back to
// deterministic successes; every call is recorded.
type StubAdapter struct {
	AdapterName string
	Cat         core.Category
	Delay       time.Duration

	SearchFn  func(ctx context.Context, q core.Query) ([]core.Offer, error)
	HoldFn    func(ctx context.Context, offerID string) (core.HoldResult, error)
	ConfirmFn func(ctx context.Context, holdID string) (core.ConfirmResult, error)
	ReleaseFn func(ctx context.Context, holdID string) (core.ReleaseResult, error)

	mu    sync.Mutex
	calls []string
}

var _ core.BookingAdapter = (*StubAdapter)(nil)

// NewStubAdapter creates a stub for the given category.
func NewStubAdapter(name string, cat core.Category) *StubAdapter {
	return &StubAdapter{AdapterName: name, Cat: cat}
}

func (s *StubAdapter) Name() string            { return s.AdapterName }
func (s *StubAdapter) Category() core.Category { return s.Cat }

// Calls returns the recorded calls as "method:arg" strings.
func (s *StubAdapter) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many times method was invoked.
func (s *StubAdapter) CallCount(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if len(c) > len(method) && c[:len(method)+1] == method+":" {
			n++
		}
	}
	return n
}

func (s *StubAdapter) record(method, arg string) {
	s.mu.Lock()
	s.calls = append(s.calls, method+":"+arg)
	s.mu.Unlock()
}

func (s *StubAdapter) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StubAdapter) Search(ctx context.Context, q core.Query) ([]core.Offer, error) {
	s.record("search", q.Destination)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.SearchFn != nil {
		return s.SearchFn(ctx, q)
	}
	return []core.Offer{StubOffer(s.Cat, fmt.Sprintf("%s-1", s.AdapterName), "100")}, nil
}

func (s *StubAdapter) Hold(ctx context.Context, offerID string) (core.HoldResult, error) {
	s.record("hold", offerID)
	if err := s.wait(ctx); err != nil {
		return core.HoldResult{}, err
	}
	if s.HoldFn != nil {
		return s.HoldFn(ctx, offerID)
	}
	return core.HoldResult{HoldID: "H-" + offerID, Price: decimal.NewFromInt(100), Currency: "USD"}, nil
}

func (s *StubAdapter) Confirm(ctx context.Context, holdID string) (core.ConfirmResult, error) {
	s.record("confirm", holdID)
	if err := s.wait(ctx); err != nil {
		return core.ConfirmResult{}, err
	}
	if s.ConfirmFn != nil {
		return s.ConfirmFn(ctx, holdID)
	}
	return core.ConfirmResult{ConfirmationID: "C-" + holdID, Charged: decimal.NewFromInt(100)}, nil
}

func (s *StubAdapter) Release(ctx context.Context, holdID string) (core.ReleaseResult, error) {
	s.record("release", holdID)
	if s.ReleaseFn != nil {
		return s.ReleaseFn(ctx, holdID)
	}
	return core.ReleaseResult{Released: true}, nil
}

// StubOffer builds an offer with a parsed price.
func StubOffer(cat core.Category, id, price string) core.Offer {
	return core.Offer{
		ID:       id,
		Category: cat,
		Provider: "stub",
		Title:    fmt.Sprintf("%s offer %s", cat, id),
		Price:    decimal.RequireFromString(price),
		Currency: "USD",
	}
}
