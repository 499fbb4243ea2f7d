// Package orchestrator implements the top-level entry point of a chat turn.
//
// The Router resolves the user's session, picks the entry agent (a pending
// clarification resumes the agent that asked, otherwise the intent
// classifier decides), drives the refinement loop, turns the final tool or
// booking result into a typed payload and records the turn.
//
// # Responsibilities (abridged)
//   - Per-user serialization: one turn per user at a time
//   - Stateless fallback when the session store is unavailable
//   - Generic apology instead of internal error detail
//   - Pull-based streaming of the composed answer
package orchestrator
