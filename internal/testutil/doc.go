// Package testutil contains helper builders and stub provider adapters used
// across tests to reduce boilerplate when constructing sessions, offers and
// scripted booking failures. They are not intended for production usage.
package testutil
