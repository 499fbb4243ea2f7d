package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/model"
)

// Intent is the top-level purpose of a user message.
type Intent string

const (
	IntentPlanning    Intent = "planning"
	IntentInspiration Intent = "inspiration"
	IntentBooking     Intent = "booking"
	IntentChat        Intent = "chat"
)

// ParseIntent converts s to a known Intent.
func ParseIntent(s string) (Intent, bool) {
	switch i := Intent(strings.ToLower(strings.TrimSpace(s))); i {
	case IntentPlanning, IntentInspiration, IntentBooking, IntentChat:
		return i, true
	default:
		return "", false
	}
}

// Routes maps each intent to its entry agent. General chat is answered by
// the planning agent.
var Routes = map[Intent]core.AgentKind{
	IntentPlanning:    core.KindPlanning,
	IntentInspiration: core.KindInspiration,
	IntentBooking:     core.KindBooking,
	IntentChat:        core.KindPlanning,
}

// Classifier decides the intent of a user message.
type Classifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// KeywordClassifier matches long stems as word prefixes and short words
// exactly, so "pay" does not match "payload". Booking wins over inspiration,
// which wins over planning; anything else is chat.
type KeywordClassifier struct{}

var _ Classifier = KeywordClassifier{}

var intentKeywords = []struct {
	intent Intent
	stems  []string
	words  []string
}{
	{
		intent: IntentBooking,
		stems:  []string{"reserv", "confirm", "cancel", "purchas"},
		words:  []string{"book", "books", "booking", "bookings", "booked", "hold", "holds", "holding", "pay", "pays", "paying", "payment", "payments"},
	},
	{
		intent: IntentInspiration,
		stems:  []string{"suggest", "inspir", "recommend", "attraction", "sightsee", "explor", "activit", "weather", "forecast"},
		words:  []string{"idea", "ideas", "visit", "visits", "visiting", "place", "places"},
	},
	{
		intent: IntentPlanning,
		stems:  []string{"flight", "travel", "ticket", "itinerar", "search", "cheap"},
		words:  []string{"fly", "flying", "hotel", "hotels", "train", "trains", "bus", "buses", "trip", "trips", "stay", "stays", "staying", "plan", "plans", "planning", "find", "finding"},
	},
}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, text string) (Intent, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, group := range intentKeywords {
		for _, w := range words {
			if slices.Contains(group.words, w) {
				return group.intent, nil
			}
			for _, stem := range group.stems {
				if strings.HasPrefix(w, stem) {
					return group.intent, nil
				}
			}
		}
	}
	return IntentChat, nil
}

const classifierInstructions = `Classify the travel assistant user's message into exactly one word:
planning (find or compare flights, hotels, trains, buses), inspiration (destination or activity ideas),
booking (reserve, confirm, cancel or pay for an offer) or chat (anything else). Reply with the word only.`

// OracleClassifier asks the oracle for the intent and falls back to another
// classifier when the reply is unusable.
type OracleClassifier struct {
	llm      model.Model
	fallback Classifier
}

var _ Classifier = (*OracleClassifier)(nil)

// NewOracleClassifier creates an OracleClassifier. A nil fallback uses KeywordClassifier.
func NewOracleClassifier(llm model.Model, fallback Classifier) *OracleClassifier {
	if fallback == nil {
		fallback = KeywordClassifier{}
	}
	return &OracleClassifier{llm: llm, fallback: fallback}
}

// Classify implements Classifier.
func (c *OracleClassifier) Classify(ctx context.Context, text string) (Intent, error) {
	out, _, err := model.Collect(ctx, c.llm, model.Request{
		Instructions: classifierInstructions,
		Messages:     []model.Message{{Role: model.RoleUser, Text: text}},
	})
	if err != nil {
		intent, ferr := c.fallback.Classify(ctx, text)
		if ferr != nil {
			return "", fmt.Errorf("classify intent: %w", err)
		}
		return intent, nil
	}
	word := strings.Trim(strings.Fields(out + " chat")[0], ".,:;!\"'`")
	if intent, ok := ParseIntent(word); ok {
		return intent, nil
	}
	return c.fallback.Classify(ctx, text)
}
