// Package session houses implementations of core.SessionStore and the idle
// eviction sweeper.
//
// The in-memory store is the default backend; durable backends live in
// sub-packages (sqlstore) and are selected by the wiring layer without
// changing calling code.
package session
