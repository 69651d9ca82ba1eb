// Package uuid generates the cycle IDs attached to scrape and recovery logs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements grades.IDGenerator with time-ordered UUIDv7 values, so
// cycle IDs sort by start time.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
