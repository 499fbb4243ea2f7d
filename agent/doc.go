// Package agent contains the agents that drive one conversational turn:
//
//  1. ReasoningAgent wraps one oracle role (planning, inspiration, booking)
//     and turns a single oracle reply into a core.AgentDecision
//  2. LoopAgent re-invokes reasoning agents, executes their tool calls and
//     delegations, and stops on a response, a clarification or its cap
//  3. BookingAgent sequences hold, confirm and release against a booking
//     adapter and compensates failed confirmations
//
// Execution Model:
//   - The orchestrator builds a core.AgentRequest and calls LoopAgent.Run
//   - Search calls fan out through a dispatcher; booking calls run one at a
//     time through the tool registry, which forwards them to BookingAgent
//   - Memory writes requested by the oracle are returned as a delta and
//     applied by the orchestrator after the turn
//
// Persistence, oracle specifics and tool implementations live in their own
// packages to avoid cyclic deps.
package agent
