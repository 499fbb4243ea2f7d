package amadeus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hupe1980/travelmesh/core"
)

const localTime = "2006-01-02T15:04:05"

type flightOffersResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Itineraries []struct {
			Duration string `json:"duration"`
			Segments []struct {
				Departure   point  `json:"departure"`
				Arrival     point  `json:"arrival"`
				CarrierCode string `json:"carrierCode"`
				Number      string `json:"number"`
			} `json:"segments"`
		} `json:"itineraries"`
		Price struct {
			Currency   string `json:"currency"`
			GrandTotal string `json:"grandTotal"`
			Total      string `json:"total"`
		} `json:"price"`
		NumberOfBookableSeats int `json:"numberOfBookableSeats"`
	} `json:"data"`
	Dictionaries struct {
		Carriers map[string]string `json:"carriers"`
	} `json:"dictionaries"`
}

type point struct {
	IATACode string `json:"iataCode"`
	At       string `json:"at"`
}

// Flights searches flight offers (GET /v2/shopping/flight-offers).
type Flights struct {
	c *Client
}

var _ core.SearchAdapter = (*Flights)(nil)

// NewFlights creates a flight search adapter on c.
func NewFlights(c *Client) *Flights { return &Flights{c: c} }

func (f *Flights) Name() string            { return "amadeus-flights" }
func (f *Flights) Category() core.Category { return core.CategoryFlight }

// Search implements core.SearchAdapter.
func (f *Flights) Search(ctx context.Context, q core.Query) ([]core.Offer, error) {
	if q.Origin == "" || q.Destination == "" || q.DepartureDate == "" {
		return nil, errors.New("amadeus: origin, destination and departure date are required")
	}
	origin, err := f.c.CityCode(ctx, q.Origin)
	if err != nil {
		return nil, err
	}
	dest, err := f.c.CityCode(ctx, q.Destination)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"originLocationCode":      {origin},
		"destinationLocationCode": {dest},
		"departureDate":           {q.DepartureDate},
		"adults":                  {strconv.Itoa(max(q.Travelers, 1))},
		"currencyCode":            {f.c.currency(q)},
		"max":                     {strconv.Itoa(f.c.limit(q))},
	}
	if q.ReturnDate != "" {
		params.Set("returnDate", q.ReturnDate)
	}
	if q.TravelClass != "" {
		params.Set("travelClass", q.TravelClass)
	}
	if q.MaxPrice.IsPositive() {
		params.Set("maxPrice", q.MaxPrice.Truncate(0).String())
	}

	var res flightOffersResponse
	if err := f.c.get(ctx, "/v2/shopping/flight-offers", params, &res); err != nil {
		return nil, err
	}

	offers := make([]core.Offer, 0, len(res.Data))
	for _, d := range res.Data {
		if len(d.Itineraries) == 0 || len(d.Itineraries[0].Segments) == 0 {
			continue
		}
		price, err := decimal.NewFromString(firstNonEmpty(d.Price.GrandTotal, d.Price.Total))
		if err != nil {
			f.c.logger.Warn("amadeus.flights.bad_price", "offer_id", d.ID, "error", err.Error())
			continue
		}
		out := d.Itineraries[0]
		first, last := out.Segments[0], out.Segments[len(out.Segments)-1]

		var flightNos []string
		for _, s := range out.Segments {
			flightNos = append(flightNos, s.CarrierCode+s.Number)
		}
		airline := carrierName(res.Dictionaries.Carriers, first.CarrierCode)

		o := core.Offer{
			ID:       fmt.Sprintf("AMF-%s-%s-%s-%s", origin, dest, q.DepartureDate, d.ID),
			Category: core.CategoryFlight,
			Provider: f.Name(),
			Title:    fmt.Sprintf("%s %s %s-%s", airline, strings.Join(flightNos, "/"), first.Departure.IATACode, last.Arrival.IATACode),
			Price:    price,
			Currency: d.Price.Currency,
			DepartAt: parseLocal(first.Departure.At),
			ArriveAt: parseLocal(last.Arrival.At),
			Attributes: map[string]string{
				"carrier":  first.CarrierCode,
				"duration": out.Duration,
				"stops":    strconv.Itoa(len(out.Segments) - 1),
			},
		}
		if d.NumberOfBookableSeats > 0 {
			o.Attributes["seats"] = strconv.Itoa(d.NumberOfBookableSeats)
		}
		if len(d.Itineraries) > 1 {
			o.Attributes["round_trip"] = "true"
		}
		offers = append(offers, o)
	}
	return offers, nil
}

func carrierName(dict map[string]string, code string) string {
	if name, ok := dict[code]; ok && name != "" {
		return name
	}
	return code
}

func (c *Client) currency(q core.Query) string {
	if q.Currency != "" {
		return strings.ToUpper(q.Currency)
	}
	return c.opts.Currency
}

func (c *Client) limit(q core.Query) int {
	if q.MaxResults > 0 && q.MaxResults < c.opts.MaxResults {
		return q.MaxResults
	}
	return c.opts.MaxResults
}

func parseLocal(s string) time.Time {
	t, err := time.Parse(localTime, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseDate(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
