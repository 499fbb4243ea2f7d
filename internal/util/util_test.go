package util

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchArgs struct {
	Origin      string `json:"origin" description:"IATA code or city"`
	Destination string `json:"destination"`
	Travelers   int    `json:"travelers,omitempty"`
}

func TestCreateSchemaAndValidate(t *testing.T) {
	schema := CreateSchema(searchArgs{})
	assert.Equal(t, []string{"origin", "destination"}, schema["required"])

	require.NoError(t, ValidateParameters(map[string]any{"origin": "BLR", "destination": "GOI", "travelers": float64(2)}, schema))

	err := ValidateParameters(map[string]any{"origin": "BLR"}, schema)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "destination", ve.Field)

	err = ValidateParameters(map[string]any{"origin": "BLR", "destination": "GOI", "travelers": 1.5}, schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "travelers")
}

func TestValidateParameters_DecodedRequired(t *testing.T) {
	schema := map[string]any{"required": []any{"offer_id"}}
	assert.Error(t, ValidateParameters(map[string]any{"offer_id": ""}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"offer_id": "F1"}, schema))
}

type tripArgs struct {
	Destination string  `json:"destination" format:"location"`
	Date        string  `json:"date,omitempty" format:"date"`
	Travelers   int     `json:"travelers,omitempty" minimum:"1"`
	Class       string  `json:"class,omitempty" enum:"ECONOMY,BUSINESS"`
	Currency    string  `json:"currency,omitempty" format:"currency"`
	Budget      float64 `json:"budget,omitempty" minimum:"0"`
	Internal    string  `json:"-"`
}

func TestCreateSchema_TravelTags(t *testing.T) {
	schema := CreateSchema(&tripArgs{})
	props := schema["properties"].(map[string]any)

	assert.Len(t, props, 6)
	assert.Equal(t, []string{"destination"}, schema["required"])
	assert.Equal(t, FormatLocation, props["destination"].(map[string]any)["format"])
	assert.Equal(t, float64(1), props["travelers"].(map[string]any)["minimum"])
	assert.Equal(t, []string{"ECONOMY", "BUSINESS"}, props["class"].(map[string]any)["enum"])
	assert.Equal(t, "number", props["budget"].(map[string]any)["type"])
}

func TestValidateParameters_TravelFormats(t *testing.T) {
	schema := CreateSchema(tripArgs{})

	valid := []map[string]any{
		{"destination": "GOI"},
		{"destination": "New Delhi", "date": "2026-12-20", "travelers": float64(3)},
		{"destination": "Port-au-Prince", "class": "business", "currency": "inr", "budget": float64(0)},
		{"destination": "Goa", "travelers": 2},
	}
	for _, params := range valid {
		assert.NoError(t, ValidateParameters(params, schema), "%v", params)
	}

	tests := []struct {
		name    string
		params  map[string]any
		field   string
		message string
	}{
		{"numeric destination", map[string]any{"destination": "1234"}, "destination", "city name or IATA code"},
		{"single letter", map[string]any{"destination": "X"}, "destination", "city name or IATA code"},
		{"slashed date", map[string]any{"destination": "Goa", "date": "20/12/2026"}, "date", "YYYY-MM-DD"},
		{"impossible date", map[string]any{"destination": "Goa", "date": "2026-02-30"}, "date", "YYYY-MM-DD"},
		{"zero travelers", map[string]any{"destination": "Goa", "travelers": float64(0)}, "travelers", "at least 1"},
		{"negative budget", map[string]any{"destination": "Goa", "budget": float64(-5)}, "budget", "at least 0"},
		{"unknown class", map[string]any{"destination": "Goa", "class": "steerage"}, "class", "one of ECONOMY, BUSINESS"},
		{"long currency", map[string]any{"destination": "Goa", "currency": "RUPEE"}, "currency", "ISO currency"},
		{"wrong type", map[string]any{"destination": "Goa", "travelers": "two"}, "travelers", "expected type integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, schema)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.Contains(t, ve.Message, tt.message)
		})
	}
}

func TestValidateParameters_ReportsFirstFieldByName(t *testing.T) {
	schema := CreateSchema(tripArgs{})
	err := ValidateParameters(map[string]any{"destination": "Goa", "travelers": float64(0), "date": "soon"}, schema)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "date", ve.Field)
}

func TestArgs(t *testing.T) {
	params := map[string]any{"s": "  GOI ", "n": float64(3), "ns": "4", "price": "120.50", "bad": "abc"}
	assert.Equal(t, "GOI", StringArg(params, "s"))
	assert.Equal(t, "3", StringArg(params, "n"))
	assert.Equal(t, "", StringArg(params, "missing"))
	assert.Equal(t, 3, IntArg(params, "n", 1))
	assert.Equal(t, 4, IntArg(params, "ns", 1))
	assert.Equal(t, 1, IntArg(params, "missing", 1))

	d, err := DecimalArg(params, "price")
	require.NoError(t, err)
	assert.Equal(t, "120.5", d.String())
	_, err = DecimalArg(params, "bad")
	assert.Error(t, err)
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Trip to {{.destination | upper}} from {{default \"anywhere\" .origin}}", map[string]any{"destination": "goa"})
	require.NoError(t, err)
	assert.Equal(t, "Trip to GOA from anywhere", out)

	out, err = RenderTemplate("plain & simple", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain & simple", out)

	_, err = RenderTemplate("{{.broken", nil)
	assert.Error(t, err)
}

func TestNewID(t *testing.T) {
	a, b := NewID("tx"), NewID("tx")
	assert.True(t, strings.HasPrefix(a, "tx-"))
	assert.NotEqual(t, a, b)
	assert.Len(t, NewID(""), 36)
}
