package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/travelmesh/core"
)

type profile struct {
	prefix     string
	base       int64
	spread     int64
	needsRoute bool
	offer      func(q core.Query, i int, h uint64, day time.Time) core.Offer
}

var (
	airlines = []string{"IndiGo", "Air India", "Vistara", "SpiceJet", "Akasa Air"}
	carriers = []string{"6E", "AI", "UK", "SG", "QP"}
	hotels   = []string{"Grand Residency", "Harbour View", "Lotus Inn", "Palm Court", "Heritage Haveli", "City Lights Suites"}
	trains   = []string{"Rajdhani Express", "Shatabdi Express", "Duronto Express", "Vande Bharat", "Garib Rath"}
	buses    = []string{"Volvo Multi-Axle Sleeper", "AC Seater", "Non-AC Sleeper", "Scania AC Sleeper"}
)

var profiles = map[core.Category]profile{
	core.CategoryFlight: {prefix: "FL", base: 3500, spread: 6000, needsRoute: true, offer: flightOffer},
	core.CategoryHotel:  {prefix: "HT", base: 2200, spread: 7000, offer: hotelOffer},
	core.CategoryTrain:  {prefix: "TR", base: 450, spread: 2500, needsRoute: true, offer: trainOffer},
	core.CategoryBus:    {prefix: "BS", base: 350, spread: 1500, needsRoute: true, offer: busOffer},
}

func flightOffer(q core.Query, i int, h uint64, day time.Time) core.Offer {
	k := int(h % uint64(len(airlines)))
	depart := day.Add(time.Duration(5+int(h%16)) * time.Hour).Add(time.Duration(h%4) * 15 * time.Minute)
	number := fmt.Sprintf("%s%d", carriers[k], 100+int(h%900))
	return core.Offer{
		Title:    fmt.Sprintf("%s %s %s-%s", airlines[k], number, code(q.Origin), code(q.Destination)),
		DepartAt: depart,
		ArriveAt: depart.Add(time.Duration(70+int(h%120)) * time.Minute),
		Attributes: map[string]string{
			"carrier":       carriers[k],
			"flight_number": number,
			"stops":         fmt.Sprint(i % 2),
		},
	}
}

func hotelOffer(q core.Query, _ int, h uint64, day time.Time) core.Offer {
	name := hotels[h%uint64(len(hotels))]
	return core.Offer{
		Title:    fmt.Sprintf("%s %s", name, title(q.Destination)),
		DepartAt: day.Add(14 * time.Hour),
		Attributes: map[string]string{
			"city":     title(q.Destination),
			"rating":   fmt.Sprint(3 + h%3),
			"check_in": day.Format(time.DateOnly),
		},
	}
}

func trainOffer(q core.Query, _ int, h uint64, day time.Time) core.Offer {
	name := trains[h%uint64(len(trains))]
	depart := day.Add(time.Duration(h%24) * time.Hour)
	return core.Offer{
		Title:    fmt.Sprintf("%s %s to %s", name, title(q.Origin), title(q.Destination)),
		DepartAt: depart,
		ArriveAt: depart.Add(time.Duration(4+int(h%18)) * time.Hour),
		Attributes: map[string]string{
			"train_number": fmt.Sprint(12000 + h%1000),
			"class":        []string{"SL", "3A", "2A", "CC"}[h%4],
		},
	}
}

func busOffer(q core.Query, _ int, h uint64, day time.Time) core.Offer {
	depart := day.Add(time.Duration(17+int(h%7)) * time.Hour)
	return core.Offer{
		Title:    fmt.Sprintf("%s %s to %s", buses[h%uint64(len(buses))], title(q.Origin), title(q.Destination)),
		DepartAt: depart,
		ArriveAt: depart.Add(time.Duration(6+int(h%10)) * time.Hour),
	}
}

func code(city string) string {
	c := strings.ToUpper(strings.TrimSpace(city))
	if len(c) > 3 {
		c = c[:3]
	}
	return c
}

func title(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var placeKinds = []string{"Old Town Walk", "Food Market", "Museum", "Viewpoint", "Beach", "Temple", "Botanical Garden"}

// Places is a deterministic core.SearchAdapter for points of interest.
type Places struct {
	results int
}

var _ core.SearchAdapter = (*Places)(nil)

// NewPlaces creates a places adapter returning up to results entries.
func NewPlaces(results int) *Places {
	if results < 1 {
		results = 5
	}
	return &Places{results: results}
}

func (p *Places) Name() string            { return "sandbox-places" }
func (p *Places) Category() core.Category { return core.CategoryPlace }

// Search lists places matching q.Text in q.Destination. Places are free,
// their price is zero.
func (p *Places) Search(ctx context.Context, q core.Query) ([]core.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	where := q.Destination
	if where == "" {
		where = q.Text
	}
	if strings.TrimSpace(where) == "" {
		return nil, errors.New("sandbox: query or destination is required")
	}
	n := p.results
	if q.MaxResults > 0 && q.MaxResults < n {
		n = q.MaxResults
	}
	seed := hash(strings.ToLower(where), strings.ToLower(q.Text))
	out := make([]core.Offer, 0, n)
	for i := range n {
		h := hash(fmt.Sprint(seed, i))
		kind := placeKinds[h%uint64(len(placeKinds))]
		out = append(out, core.Offer{
			ID:       fmt.Sprintf("PL-%06x-%d", seed&0xffffff, i+1),
			Category: core.CategoryPlace,
			Provider: p.Name(),
			Title:    fmt.Sprintf("%s %s", title(where), kind),
			Currency: "INR",
			Attributes: map[string]string{
				"kind":   strings.ToLower(kind),
				"rating": fmt.Sprintf("%.1f", 3.5+float64(h%15)/10),
			},
		})
	}
	return out, nil
}
