package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/travelmesh/model"
)

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{
		Instructions: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Text: "flights to goa"},
			{Role: model.RoleAssistant, Text: "when?"},
			{Role: model.RoleUser, Text: "friday"},
		},
	})
	assert.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfUser)
}

func TestBuildMessages_NoInstructions(t *testing.T) {
	msgs := buildMessages(model.Request{Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}}})
	assert.Len(t, msgs, 1)
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) {
		o.Model = "gpt-4o"
		o.APIKey = "test"
	})
	assert.Equal(t, model.Info{Name: "gpt-4o", Provider: "openai"}, m.Info())
}
