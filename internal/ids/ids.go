// Package ids generates the identifiers used across the orchestrator.
//
// Run IDs are xids: short, k-sortable, and safe to embed in directory
// names and SLURM job names. Event tokens are UUIDv7 so ledger events
// sort by creation time.
package ids

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// NewRunID returns a new sortable run identifier, e.g. "9m4e2mr0ui3e8a215n4g".
func NewRunID() string {
	return xid.New().String()
}

// TokenGenerator produces event correlation tokens.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if generation fails, which cannot happen with a working
// entropy source.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined tokens for deterministic tests.
// Safe for concurrent use via an internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order and
// panics when exhausted; running out means the test created more events
// than it declared.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.tokens) {
		panic("ids: FixedGenerator exhausted")
	}
	tok := g.tokens[g.idx]
	g.idx++
	return tok
}
