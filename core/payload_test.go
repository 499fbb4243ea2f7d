package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadForOffers(t *testing.T) {
	list := OfferList{Category: CategoryFlight, Offers: []Offer{{ID: "F1", Attributes: map[string]string{"k": "v"}}}}
	p, ok := PayloadForOffers(list)
	require.True(t, ok)
	assert.Equal(t, PayloadFlights, p.PayloadType())

	fo := p.(FlightOptions)
	fo.Offers[0].Attributes["k"] = "changed"
	assert.Equal(t, "v", list.Offers[0].Attributes["k"])

	_, ok = PayloadForOffers(OfferList{Category: CategoryPlace})
	assert.False(t, ok)
}

func TestMarshalPayload_PreservesVariant(t *testing.T) {
	tx := BookingTransaction{
		ID:        "tx1",
		State:     TxConfirmed,
		Price:     decimal.RequireFromString("99.90"),
		Currency:  "USD",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := MarshalPayload(BookingConfirmation{Transaction: tx})
	require.NoError(t, err)

	got, err := UnmarshalPayload(data)
	require.NoError(t, err)
	bc, ok := got.(BookingConfirmation)
	require.True(t, ok)
	assert.Equal(t, "tx1", bc.Transaction.ID)
	assert.True(t, tx.Price.Equal(bc.Transaction.Price))

	data, err = MarshalPayload(HotelOptions{Offers: []Offer{{ID: "H1", Category: CategoryHotel}}})
	require.NoError(t, err)
	got, err = UnmarshalPayload(data)
	require.NoError(t, err)
	assert.IsType(t, HotelOptions{}, got)
}

func TestUnmarshalPayload_Edges(t *testing.T) {
	p, err := UnmarshalPayload(nil)
	assert.NoError(t, err)
	assert.Nil(t, p)

	_, err = UnmarshalPayload([]byte(`{"type":"yachts","data":{}}`))
	assert.Error(t, err)

	data, err := MarshalPayload(nil)
	assert.NoError(t, err)
	assert.Nil(t, data)
}
