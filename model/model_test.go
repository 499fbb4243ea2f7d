package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedModel_Sequence(t *testing.T) {
	m := NewScriptedModel("first").Then("second").ThenError(errors.New("down"))
	ctx := context.Background()
	req := Request{Messages: []Message{{Role: RoleUser, Text: "hi"}}}

	out, _, err := Collect(ctx, m, req)
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	req.Stream = true
	out, _, err = Collect(ctx, m, req)
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	_, _, err = Collect(ctx, m, req)
	assert.EqualError(t, err, "down")

	_, _, err = Collect(ctx, m, req)
	assert.Error(t, err)
	assert.Len(t, m.Requests(), 4)
	assert.Equal(t, "hi", m.Requests()[0].LastUserText())
}

func TestScriptedModel_Fallback(t *testing.T) {
	m := NewScriptedModel().WithFallback(func(req Request) string { return "echo " + req.LastUserText() })
	out, _, err := Collect(context.Background(), m, Request{Messages: []Message{{Role: RoleUser, Text: "goa"}}})
	require.NoError(t, err)
	assert.Equal(t, "echo goa", out)
	assert.Equal(t, 0, m.Remaining())
}

type partialOnly struct{}

func (partialOnly) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 2)
	errCh := make(chan error)
	respCh <- Response{Partial: true, Text: "ab"}
	respCh <- Response{Partial: true, Text: "cd"}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (partialOnly) Info() Info { return Info{Name: "partial"} }

func TestCollect_ConcatenatesPartials(t *testing.T) {
	out, _, err := Collect(context.Background(), partialOnly{}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "abcd", out)
}

type silent struct{}

func (silent) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	return make(chan Response), make(chan error)
}

func (silent) Info() Info { return Info{Name: "silent"} }

func TestCollect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Collect(ctx, silent{}, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
