// Package id generates request identifiers.
package id

import (
	"strings"

	"github.com/google/uuid"
)

const maxInboundLength = 128

// NewRequestID returns a time-ordered UUIDv7 string, falling back to a random v4 when the
// clock sequence cannot be read.
func NewRequestID() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return v7.String()
}

// FromHeader keeps a caller-supplied request ID when it is printable and reasonably short;
// otherwise a fresh ID is generated.
func FromHeader(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxInboundLength {
		return NewRequestID()
	}
	for _, r := range raw {
		if r < 0x21 || r > 0x7e {
			return NewRequestID()
		}
	}
	return raw
}
