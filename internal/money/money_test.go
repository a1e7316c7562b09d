package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloatRoundsToCents(t *testing.T) {
	assert.Equal(t, Amount(40000), FromFloat(400))
	assert.Equal(t, Amount(1999), FromFloat(19.99))
	assert.Equal(t, Amount(10), FromFloat(0.1))
	assert.Equal(t, Amount(30), FromFloat(0.1+0.2))
	assert.Equal(t, Amount(1235), FromFloat(12.345))
}

func TestParse(t *testing.T) {
	a, err := Parse("1500.00")
	require.NoError(t, err)
	assert.Equal(t, FromUnits(1500), a)

	a, err = Parse(" 499.5 ")
	require.NoError(t, err)
	assert.Equal(t, Amount(49950), a)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Parse("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestString(t *testing.T) {
	assert.Equal(t, "500.00", FromUnits(500).String())
	assert.Equal(t, "0.05", Amount(5).String())
	assert.Equal(t, "-12.30", Amount(-1230).String())
}
