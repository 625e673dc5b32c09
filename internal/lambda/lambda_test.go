package lambda

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowsRestraintsDefaultRamp(t *testing.T) {
	s, err := Windows(LegRestraints, DefaultRestraintWindows)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, 12, s.Len())
	assert.Equal(t, 0.0, s.Restraint[0])
	assert.Equal(t, 1.0, s.Restraint[11])
	assert.Equal(t, 0.01, s.Restraint[1], "front-loaded near zero")
	assert.Equal(t, constant(12, 0), s.Coul)
	assert.Equal(t, constant(12, 0), s.Vdw)
}

func TestWindowsCoulombPinsRestraints(t *testing.T) {
	s, err := Windows(LegCoulomb, DefaultCoulombWindows)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, constant(11, 1), s.Restraint)
	assert.Equal(t, 0.0, s.Coul[0])
	assert.Equal(t, 1.0, s.Coul[10])
	assert.InDelta(t, 0.5, s.Coul[5], 1e-12, "evenly spaced")
}

func TestWindowsVdwPinsEarlierLegs(t *testing.T) {
	s, err := Windows(LegVdw, DefaultVdwWindows)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, constant(21, 1), s.Restraint)
	assert.Equal(t, constant(21, 1), s.Coul)
	assert.Equal(t, 1.0, s.Vdw[20])
}

func TestWindowsNonDefaultCountFallsBackToLinspace(t *testing.T) {
	s, err := Windows(LegRestraints, 5)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, s.Restraint)
}

func TestWindowsRejectsTooFew(t *testing.T) {
	_, err := Windows(LegVdw, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2")
}

func TestWindowsRejectsUnknownLeg(t *testing.T) {
	_, err := Windows(Leg("annihilate"), 5)
	require.Error(t, err)
}

func TestVectorsFormat(t *testing.T) {
	s, err := Windows(LegCoulomb, 3)
	require.NoError(t, err)

	vecs := s.Vectors()
	assert.Equal(t, "1.0000 1.0000 1.0000", vecs["RESTRAINT_LAMBDAS"])
	assert.Equal(t, "0.0000 0.5000 1.0000", vecs["COUL_LAMBDAS"])
	assert.Equal(t, "0.0000 0.0000 0.0000", vecs["VDW_LAMBDAS"])

	for _, v := range vecs {
		assert.Equal(t, 3, len(strings.Fields(v)))
	}
}

func TestValidateCatchesNonMonotone(t *testing.T) {
	s, err := Windows(LegVdw, 4)
	require.NoError(t, err)
	s.Vdw[1], s.Vdw[2] = s.Vdw[2], s.Vdw[1]

	require.Error(t, s.Validate())
}

func TestValidateCatchesOutOfRange(t *testing.T) {
	s, err := Windows(LegVdw, 4)
	require.NoError(t, err)
	s.Vdw[3] = 1.2

	require.Error(t, s.Validate())
}
