package core

import (
	"encoding/json"
	"fmt"
)

// PayloadType tags the structured payload carried by an agent turn.
type PayloadType string

const (
	PayloadFlights             PayloadType = "flights"
	PayloadHotels              PayloadType = "hotels"
	PayloadTrains              PayloadType = "trains"
	PayloadBuses               PayloadType = "buses"
	PayloadBookingConfirmation PayloadType = "booking-confirmation"
)

// Payload is the closed union of structured turn attachments. Concrete types
// implement the unexported marker.
type Payload interface {
	PayloadType() PayloadType
	isPayload()
}

// FlightOptions lists flight offers in provider order.
type FlightOptions struct {
	Offers []Offer `json:"offers"`
}

func (FlightOptions) PayloadType() PayloadType { return PayloadFlights }
func (FlightOptions) isPayload()               {}

// HotelOptions lists hotel offers in provider order.
type HotelOptions struct {
	Offers []Offer `json:"offers"`
}

func (HotelOptions) PayloadType() PayloadType { return PayloadHotels }
func (HotelOptions) isPayload()               {}

// TrainOptions lists train offers in provider order.
type TrainOptions struct {
	Offers []Offer `json:"offers"`
}

func (TrainOptions) PayloadType() PayloadType { return PayloadTrains }
func (TrainOptions) isPayload()               {}

// BusOptions lists bus offers in provider order.
type BusOptions struct {
	Offers []Offer `json:"offers"`
}

func (BusOptions) PayloadType() PayloadType { return PayloadBuses }
func (BusOptions) isPayload()               {}

// BookingConfirmation carries a booking transaction snapshot.
type BookingConfirmation struct {
	Transaction BookingTransaction `json:"transaction"`
}

func (BookingConfirmation) PayloadType() PayloadType { return PayloadBookingConfirmation }
func (BookingConfirmation) isPayload()               {}

// PayloadForOffers wraps an offer list in the payload variant of its category.
// Places carry no structured payload.
func PayloadForOffers(l OfferList) (Payload, bool) {
	offers := l.Clone().Offers
	switch l.Category {
	case CategoryFlight:
		return FlightOptions{Offers: offers}, true
	case CategoryHotel:
		return HotelOptions{Offers: offers}, true
	case CategoryTrain:
		return TrainOptions{Offers: offers}, true
	case CategoryBus:
		return BusOptions{Offers: offers}, true
	default:
		return nil, false
	}
}

type payloadEnvelope struct {
	Type PayloadType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes p with its type tag. A nil payload encodes to nil.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload %s: %w", p.PayloadType(), err)
	}
	return json.Marshal(payloadEnvelope{Type: p.PayloadType(), Data: data})
}

// UnmarshalPayload decodes data produced by MarshalPayload.
func UnmarshalPayload(data []byte) (Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal payload envelope: %w", err)
	}
	var (
		p   Payload
		err error
	)
	switch env.Type {
	case PayloadFlights:
		var v FlightOptions
		err = json.Unmarshal(env.Data, &v)
		p = v
	case PayloadHotels:
		var v HotelOptions
		err = json.Unmarshal(env.Data, &v)
		p = v
	case PayloadTrains:
		var v TrainOptions
		err = json.Unmarshal(env.Data, &v)
		p = v
	case PayloadBuses:
		var v BusOptions
		err = json.Unmarshal(env.Data, &v)
		p = v
	case PayloadBookingConfirmation:
		var v BookingConfirmation
		err = json.Unmarshal(env.Data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown payload type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload %s: %w", env.Type, err)
	}
	return p, nil
}
