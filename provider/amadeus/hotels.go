package amadeus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hupe1980/travelmesh/core"
)

type hotelListResponse struct {
	Data []struct {
		HotelID string `json:"hotelId"`
		Name    string `json:"name"`
	} `json:"data"`
}

type hotelOffersResponse struct {
	Data []struct {
		Available bool `json:"available"`
		Hotel     struct {
			HotelID  string `json:"hotelId"`
			Name     string `json:"name"`
			CityCode string `json:"cityCode"`
		} `json:"hotel"`
		Offers []struct {
			ID           string `json:"id"`
			CheckInDate  string `json:"checkInDate"`
			CheckOutDate string `json:"checkOutDate"`
			Room         struct {
				Description struct {
					Text string `json:"text"`
				} `json:"description"`
			} `json:"room"`
			Price struct {
				Currency string `json:"currency"`
				Total    string `json:"total"`
			} `json:"price"`
		} `json:"offers"`
	} `json:"data"`
}

// Hotels searches hotel offers in a city. Hotels of the city are listed
// first (GET /v1/reference-data/locations/hotels/by-city), then priced
// (GET /v3/shopping/hotel-offers).
type Hotels struct {
	c *Client
}

var _ core.SearchAdapter = (*Hotels)(nil)

// NewHotels creates a hotel search adapter on c.
func NewHotels(c *Client) *Hotels { return &Hotels{c: c} }

func (h *Hotels) Name() string            { return "amadeus-hotels" }
func (h *Hotels) Category() core.Category { return core.CategoryHotel }

// Search implements core.SearchAdapter.
func (h *Hotels) Search(ctx context.Context, q core.Query) ([]core.Offer, error) {
	if q.Destination == "" {
		return nil, errors.New("amadeus: destination is required")
	}
	city, err := h.c.CityCode(ctx, q.Destination)
	if err != nil {
		return nil, err
	}

	var list hotelListResponse
	if err := h.c.get(ctx, "/v1/reference-data/locations/hotels/by-city", url.Values{"cityCode": {city}}, &list); err != nil {
		return nil, err
	}
	limit := h.c.limit(q)
	var ids []string
	for _, d := range list.Data {
		if d.HotelID == "" {
			continue
		}
		ids = append(ids, d.HotelID)
		if len(ids) == limit {
			break
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	params := url.Values{
		"hotelIds": {strings.Join(ids, ",")},
		"adults":   {strconv.Itoa(max(q.Travelers, 1))},
		"currency": {h.c.currency(q)},
	}
	if q.DepartureDate != "" {
		params.Set("checkInDate", q.DepartureDate)
	}
	if q.ReturnDate != "" {
		params.Set("checkOutDate", q.ReturnDate)
	}
	if q.MaxPrice.IsPositive() {
		params.Set("priceRange", "-"+q.MaxPrice.Truncate(0).String())
	}

	var res hotelOffersResponse
	if err := h.c.get(ctx, "/v3/shopping/hotel-offers", params, &res); err != nil {
		return nil, err
	}

	var offers []core.Offer
	for _, d := range res.Data {
		if !d.Available || len(d.Offers) == 0 {
			continue
		}
		o := d.Offers[0]
		price, err := decimal.NewFromString(o.Price.Total)
		if err != nil {
			h.c.logger.Warn("amadeus.hotels.bad_price", "hotel_id", d.Hotel.HotelID, "error", err.Error())
			continue
		}
		offers = append(offers, core.Offer{
			ID:       fmt.Sprintf("AMH-%s", o.ID),
			Category: core.CategoryHotel,
			Provider: h.Name(),
			Title:    d.Hotel.Name,
			Price:    price,
			Currency: o.Price.Currency,
			DepartAt: parseDate(o.CheckInDate),
			Attributes: map[string]string{
				"hotel_id":  d.Hotel.HotelID,
				"city":      d.Hotel.CityCode,
				"check_in":  o.CheckInDate,
				"check_out": o.CheckOutDate,
				"room":      o.Room.Description.Text,
			},
		})
		if len(offers) == limit {
			break
		}
	}
	return offers, nil
}
