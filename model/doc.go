// Package model defines the provider-agnostic oracle abstraction used by the
// reasoning agents.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic testing (ScriptedModel)
//
// Providers (OpenAI, Anthropic) live in sub-packages so higher layers stay
// decoupled from vendor SDKs.
package model
