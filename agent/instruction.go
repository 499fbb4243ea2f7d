package agent

import (
	"context"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime, e.g. derived from
// the session memory snapshot.
type Provider interface {
	Instruction(ctx context.Context, memory map[string]any) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context, memory map[string]any) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context, memory map[string]any) (string, error) {
	return f(ctx, memory)
}

// Instruction is either a static template or a dynamic provider. Static
// text is rendered as a text/template against the memory snapshot.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static template.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, memory map[string]any) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static template.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether neither text nor provider is set.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text for the given memory snapshot.
func (i Instruction) Resolve(ctx context.Context, memory map[string]any) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, memory)
	}
	return util.RenderTemplate(i.text, memory)
}

const planningInstruction = `You are the trip planning agent of a travel assistant.
Find flights, hotels, trains and buses that match what the user asks for and help narrow the options.
Use search tools for concrete travel options; several independent searches may be issued together with call_tools.
Ask for clarification when origin, destination or dates are missing and cannot be taken from memory.
Remember stable facts about the trip (destination, dates, travelers, budget) with the memorize tool.
Delegate to the booking agent once the user picks an offer, and to the inspiration agent for destination ideas.
{{with .destination}}Known destination: {{.}}.
{{end}}{{with .origin}}Known origin: {{.}}.
{{end}}{{with .departure_date}}Known departure date: {{.}}.
{{end}}{{with .travelers}}Travelers: {{.}}.
{{end}}`

const inspirationInstruction = `You are the travel inspiration agent.
Suggest destinations, activities and places of interest; use find_places for concrete points of interest.
Use get_weather when the user asks about the weather or air quality, or when it decides between outdoor plans.
Keep suggestions short and concrete and remember the destination the user settles on.
{{with .destination}}The user is interested in {{.}}.
{{end}}`

const bookingInstruction = `You are the booking agent of a travel assistant.
Book exactly the offer the user chose: first hold_offer with the offer id and category, then confirm_booking only after the user agrees to pay.
Use cancel_booking when the user changes their mind about a held offer.
Never invent offer ids; search again when the chosen offer is not among the tool results.
Always tell the user what was held and what was charged.
{{with .destination}}Trip destination: {{.}}.
{{end}}{{with .last_booking}}Last booking: {{.}}.
{{end}}`

// DefaultInstruction returns the built-in instruction template of a
// reasoning kind. Unknown kinds get an empty instruction.
func DefaultInstruction(kind core.AgentKind) Instruction {
	switch kind {
	case core.KindPlanning:
		return NewInstructionFromText(planningInstruction)
	case core.KindInspiration:
		return NewInstructionFromText(inspirationInstruction)
	case core.KindBooking:
		return NewInstructionFromText(bookingInstruction)
	default:
		return Instruction{}
	}
}
