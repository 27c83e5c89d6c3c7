// Package uuid generates batch run IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered (v7) run IDs so checkpoint rows and logs
// from successive runs sort by start.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a v7 UUID.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// Short returns the first eight hex digits of id, for console output.
func Short(id uuid.UUID) string {
	return id.String()[:8]
}
