package tool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

type searchArgs struct {
	Origin        string  `json:"origin,omitempty" format:"location" description:"Departure city name or IATA code"`
	Destination   string  `json:"destination,omitempty" format:"location" description:"Arrival city name or IATA code"`
	DepartureDate string  `json:"departure_date,omitempty" format:"date" description:"Departure or check-in date, YYYY-MM-DD"`
	ReturnDate    string  `json:"return_date,omitempty" format:"date" description:"Return or check-out date, YYYY-MM-DD"`
	Travelers     int     `json:"travelers,omitempty" minimum:"1" description:"Number of travelers"`
	TravelClass   string  `json:"travel_class,omitempty" enum:"ECONOMY,PREMIUM_ECONOMY,BUSINESS,FIRST" description:"Cabin class"`
	Query         string  `json:"query,omitempty" description:"Free text, e.g. beaches in Goa"`
	MaxPrice      float64 `json:"max_price,omitempty" minimum:"0" description:"Upper price bound"`
	Currency      string  `json:"currency,omitempty" format:"currency" description:"ISO currency code"`
	MaxResults    int     `json:"max_results,omitempty" minimum:"1" description:"Maximum number of offers"`
}

var searchTools = map[string]struct {
	category    core.Category
	description string
	required    []string
}{
	core.ToolSearchFlights: {core.CategoryFlight, "Search flight offers between two cities on a date.", []string{"origin", "destination", "departure_date"}},
	core.ToolSearchHotels:  {core.CategoryHotel, "Search hotel offers in a city.", []string{"destination"}},
	core.ToolSearchTrains:  {core.CategoryTrain, "Search train connections between two cities on a date.", []string{"origin", "destination", "departure_date"}},
	core.ToolSearchBuses:   {core.CategoryBus, "Search bus connections between two cities on a date.", []string{"origin", "destination", "departure_date"}},
	core.ToolFindPlaces:    {core.CategoryPlace, "Find points of interest, restaurants or attractions.", []string{"query"}},
}

// SearchTool exposes search adapters of one category. Adapters are tried in
// order; the first successful answer is returned unmodified.
type SearchTool struct {
	name        string
	description string
	category    core.Category
	parameters  map[string]any
	adapters    []core.SearchAdapter
}

var _ Tool = (*SearchTool)(nil)

// NewSearchTool creates the search tool called name. Adapters whose category
// does not match are rejected.
func NewSearchTool(name string, adapters ...core.SearchAdapter) (*SearchTool, error) {
	st, ok := searchTools[name]
	if !ok {
		return nil, fmt.Errorf("unknown search tool %q", name)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("search tool %s: no adapters", name)
	}
	for _, a := range adapters {
		if a.Category() != st.category {
			return nil, fmt.Errorf("search tool %s: adapter %s serves %s", name, a.Name(), a.Category())
		}
	}
	schema := util.CreateSchema(searchArgs{})
	schema["required"] = st.required
	return &SearchTool{
		name:        name,
		description: st.description,
		category:    st.category,
		parameters:  schema,
		adapters:    adapters,
	}, nil
}

func (t *SearchTool) Name() string               { return t.name }
func (t *SearchTool) Description() string        { return t.description }
func (t *SearchTool) Parameters() map[string]any { return t.parameters }

// Category returns the offer category served by the tool.
func (t *SearchTool) Category() core.Category { return t.category }

// Call runs the query against the adapters and returns a core.OfferList.
func (t *SearchTool) Call(toolCtx *ToolContext, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeValidation, Details: err, cause: err}
	}
	q, err := QueryFromArgs(args)
	if err != nil {
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeValidation, cause: err}
	}

	var errs []error
	for _, a := range t.adapters {
		offers, err := a.Search(toolCtx.Context(), q)
		if err != nil {
			toolCtx.Logger().Warn("tool.search.adapter_failed", "tool", t.name, "adapter", a.Name(), "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
			if toolCtx.Context().Err() != nil {
				break
			}
			continue
		}
		list := core.OfferList{Category: t.category, Offers: make([]core.Offer, len(offers))}
		for i, o := range offers {
			list.Offers[i] = o.Clone()
		}
		return list, nil
	}
	return nil, wrapError(t.name, errors.Join(errs...), CodeExecution)
}

// QueryFromArgs converts decoded tool arguments to a core.Query.
func QueryFromArgs(args map[string]any) (core.Query, error) {
	price, err := util.DecimalArg(args, "max_price")
	if err != nil {
		return core.Query{}, err
	}
	q := core.Query{
		Origin:        util.StringArg(args, "origin"),
		Destination:   util.StringArg(args, "destination"),
		DepartureDate: util.StringArg(args, "departure_date"),
		ReturnDate:    util.StringArg(args, "return_date"),
		Travelers:     util.IntArg(args, "travelers", 1),
		TravelClass:   strings.ToUpper(util.StringArg(args, "travel_class")),
		Text:          util.StringArg(args, "query"),
		MaxPrice:      price,
		Currency:      strings.ToUpper(util.StringArg(args, "currency")),
		MaxResults:    util.IntArg(args, "max_results", 0),
	}
	if q.Travelers < 1 {
		return core.Query{}, &ValidationError{Field: "travelers", Value: q.Travelers, Message: "must be at least 1"}
	}
	return q, nil
}
