package core

import "slices"

// AgentKind identifies one variant of the closed agent set. The router selects
// agents by explicit table lookup on this value.
type AgentKind string

const (
	// KindPlanning plans trips: searches transport and stays, refines options.
	KindPlanning AgentKind = "planning"
	// KindInspiration suggests destinations and points of interest.
	KindInspiration AgentKind = "inspiration"
	// KindBooking drives a purchase through hold and confirmation.
	KindBooking AgentKind = "booking"
	// KindToolSearch executes search tools through parallel dispatch.
	KindToolSearch AgentKind = "tool_search"
	// KindToolBooking executes booking tools through the transactional booking agent.
	KindToolBooking AgentKind = "tool_booking"
)

// Tool names understood by the runtime.
const (
	ToolSearchFlights  = "search_flights"
	ToolSearchHotels   = "search_hotels"
	ToolSearchTrains   = "search_trains"
	ToolSearchBuses    = "search_buses"
	ToolFindPlaces     = "find_places"
	ToolGetWeather     = "get_weather"
	ToolHoldOffer      = "hold_offer"
	ToolConfirmBooking = "confirm_booking"
	ToolCancelBooking  = "cancel_booking"
	ToolMemorize       = "memorize"
)

// Capability is the fixed record describing what one agent kind may do.
// Reasoning kinds are backed by an oracle; tool kinds execute calls.
type Capability struct {
	Kind        AgentKind
	Description string
	Reasoning   bool
	Tools       []string
	SubAgents   []AgentKind
}

// AllowsTool reports whether name is in the capability's tool set.
func (c Capability) AllowsTool(name string) bool { return slices.Contains(c.Tools, name) }

// AllowsAgent reports whether k may be delegated to.
func (c Capability) AllowsAgent(k AgentKind) bool { return slices.Contains(c.SubAgents, k) }

var searchTools = []string{ToolSearchFlights, ToolSearchHotels, ToolSearchTrains, ToolSearchBuses, ToolFindPlaces, ToolGetWeather}

var bookingTools = []string{ToolHoldOffer, ToolConfirmBooking, ToolCancelBooking}

var capabilities = map[AgentKind]Capability{
	KindPlanning: {
		Kind:        KindPlanning,
		Description: "Plans trips: finds flights, hotels, trains and buses and narrows options with the user.",
		Reasoning:   true,
		Tools:       []string{ToolSearchFlights, ToolSearchHotels, ToolSearchTrains, ToolSearchBuses, ToolFindPlaces, ToolGetWeather, ToolMemorize},
		SubAgents:   []AgentKind{KindInspiration, KindBooking},
	},
	KindInspiration: {
		Kind:        KindInspiration,
		Description: "Suggests destinations, activities and points of interest, and checks the weather there.",
		Reasoning:   true,
		Tools:       []string{ToolFindPlaces, ToolGetWeather, ToolMemorize},
	},
	KindBooking: {
		Kind:        KindBooking,
		Description: "Books a chosen offer: places a hold, confirms or cancels it.",
		Reasoning:   true,
		Tools:       []string{ToolSearchFlights, ToolSearchHotels, ToolSearchTrains, ToolSearchBuses, ToolHoldOffer, ToolConfirmBooking, ToolCancelBooking, ToolMemorize},
	},
	KindToolSearch: {
		Kind:        KindToolSearch,
		Description: "Runs provider searches concurrently.",
		Tools:       searchTools,
	},
	KindToolBooking: {
		Kind:        KindToolBooking,
		Description: "Runs booking steps one at a time with compensation.",
		Tools:       bookingTools,
	},
}

// CapabilityFor returns the capability record of k.
func CapabilityFor(k AgentKind) (Capability, bool) {
	c, ok := capabilities[k]
	if !ok {
		return Capability{}, false
	}
	c.Tools = slices.Clone(c.Tools)
	c.SubAgents = slices.Clone(c.SubAgents)
	return c, true
}

// ReasoningKinds lists the kinds backed by a reasoning agent.
func ReasoningKinds() []AgentKind {
	return []AgentKind{KindPlanning, KindInspiration, KindBooking}
}

// ToolOwner returns the tool kind that executes the named tool. The memorize
// tool has no owner; it is applied by the refinement loop itself.
func ToolOwner(name string) (AgentKind, bool) {
	switch {
	case slices.Contains(searchTools, name):
		return KindToolSearch, true
	case slices.Contains(bookingTools, name):
		return KindToolBooking, true
	default:
		return "", false
	}
}

// ParseAgentKind converts s to a known AgentKind.
func ParseAgentKind(s string) (AgentKind, bool) {
	k := AgentKind(s)
	_, ok := capabilities[k]
	return k, ok
}
