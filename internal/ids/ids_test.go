package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunIDPathSafe(t *testing.T) {
	id := NewRunID()
	assert.Len(t, id, 20)
	assert.NotContains(t, id, "/")
	assert.NotEqual(t, id, NewRunID())
}

func TestUUIDv7GeneratorFormat(t *testing.T) {
	tok := UUIDv7Generator{}.Generate()
	assert.Len(t, tok, 36)
}

func TestFixedGeneratorOrderAndExhaustion(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	require.Equal(t, "a", g.Generate())
	require.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
