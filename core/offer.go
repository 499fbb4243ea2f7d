package core

import (
	"context"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// Category classifies offers and the adapters producing them.
type Category string

const (
	CategoryFlight Category = "flight"
	CategoryHotel  Category = "hotel"
	CategoryTrain  Category = "train"
	CategoryBus    Category = "bus"
	CategoryPlace  Category = "place"
)

// CategoryForTool maps a search or booking tool name to the category it serves.
func CategoryForTool(name string) (Category, bool) {
	switch name {
	case ToolSearchFlights:
		return CategoryFlight, true
	case ToolSearchHotels:
		return CategoryHotel, true
	case ToolSearchTrains:
		return CategoryTrain, true
	case ToolSearchBuses:
		return CategoryBus, true
	case ToolFindPlaces:
		return CategoryPlace, true
	default:
		return "", false
	}
}

// ParseCategory converts s (singular or plural) to a Category.
func ParseCategory(s string) (Category, bool) {
	switch s {
	case "flight", "flights":
		return CategoryFlight, true
	case "hotel", "hotels":
		return CategoryHotel, true
	case "train", "trains":
		return CategoryTrain, true
	case "bus", "buses":
		return CategoryBus, true
	case "place", "places":
		return CategoryPlace, true
	default:
		return "", false
	}
}

// Offer is a priced, bookable unit returned by a search adapter.
type Offer struct {
	ID         string            `json:"id"`
	Category   Category          `json:"category"`
	Provider   string            `json:"provider"`
	Title      string            `json:"title"`
	Price      decimal.Decimal   `json:"price"`
	Currency   string            `json:"currency"`
	DepartAt   time.Time         `json:"depart_at,omitzero"`
	ArriveAt   time.Time         `json:"arrive_at,omitzero"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of o.
func (o Offer) Clone() Offer {
	o.Attributes = maps.Clone(o.Attributes)
	return o
}

// OfferList is the payload of a successful search tool call.
type OfferList struct {
	Category Category `json:"category"`
	Offers   []Offer  `json:"offers"`
}

// Clone returns a deep copy of l.
func (l OfferList) Clone() OfferList {
	out := OfferList{Category: l.Category, Offers: make([]Offer, len(l.Offers))}
	for i, o := range l.Offers {
		out.Offers[i] = o.Clone()
	}
	return out
}

// Query is the normalized search request handed to adapters.
type Query struct {
	Origin        string          `json:"origin,omitempty"`
	Destination   string          `json:"destination,omitempty"`
	DepartureDate string          `json:"departure_date,omitempty"` // YYYY-MM-DD
	ReturnDate    string          `json:"return_date,omitempty"`
	Travelers     int             `json:"travelers,omitempty"`
	TravelClass   string          `json:"travel_class,omitempty"`
	Text          string          `json:"text,omitempty"`
	MaxPrice      decimal.Decimal `json:"max_price,omitzero"`
	Currency      string          `json:"currency,omitempty"`
	MaxResults    int             `json:"max_results,omitempty"`
}

// HoldResult describes a provisional reservation.
type HoldResult struct {
	HoldID    string
	Price     decimal.Decimal
	Currency  string
	ExpiresAt time.Time
}

// ConfirmResult describes a finalized booking.
type ConfirmResult struct {
	ConfirmationID string
	Charged        decimal.Decimal
}

// ReleaseResult describes the outcome of undoing a hold.
type ReleaseResult struct {
	Released bool
}

// SearchAdapter wraps one external search capability.
type SearchAdapter interface {
	Name() string
	Category() Category
	Search(ctx context.Context, q Query) ([]Offer, error)
}

// BookingAdapter is a search adapter that can also reserve and purchase offers.
type BookingAdapter interface {
	SearchAdapter
	Hold(ctx context.Context, offerID string) (HoldResult, error)
	Confirm(ctx context.Context, holdID string) (ConfirmResult, error)
	Release(ctx context.Context, holdID string) (ReleaseResult, error)
}
