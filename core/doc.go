// Package core provides the foundational domain types and contracts used by
// travelmesh. It defines:
//
//   - Sessions and Turns (per-user conversational state owned by a SessionStore)
//   - Payloads (the closed set of structured attachments on an agent turn)
//   - AgentDecision (the closed set of outcomes a reasoning agent may produce)
//   - ToolCall / ToolResult and the adapter interfaces for external providers
//   - BookingTransaction (the quote → hold → confirm state machine record)
//   - AgentKind and the capability table consulted by the router
//   - The error taxonomy shared by every layer
//
// Implementation concerns (storage backends, agents, dispatch, transport) live
// in sibling packages and depend only on the small interfaces declared here.
package core
