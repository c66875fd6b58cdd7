// Package idgen produces short, URL-safe identifiers for trades and runs.
package idgen

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// New returns a random UUIDv4 encoded in base62 (22 characters).
func New() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}

// Decode reverses New. It fails on anything New did not produce.
func Decode(s string) (uuid.UUID, error) {
	b, err := base62.DecodeString(s)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(b)
}
