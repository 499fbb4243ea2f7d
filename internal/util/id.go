package util

import "github.com/google/uuid"

// NewID returns a random identifier with an optional prefix ("tx-3f2a...").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
