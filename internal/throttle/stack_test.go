package throttle

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStackMultiplierIsProductOfFactors(t *testing.T) {
	var s Stack
	assert.Equal(t, 1.0, s.Multiplier())
	assert.Equal(t, 100*time.Millisecond, s.Apply(100*time.Millisecond))

	s.Push(1.25)
	s.Push(2.0)
	assert.Equal(t, 2, s.Len())
	assert.InDelta(t, 2.5, s.Multiplier(), 1e-9)
	assert.Equal(t, 250*time.Millisecond, s.Apply(100*time.Millisecond))
}

func TestStackPopIsLIFO(t *testing.T) {
	var s Stack
	s.Push(1.25)
	s.Push(2.0)

	f, ok := s.Pop()
	assert.True(t, ok)
	assert.Equal(t, 2.0, f)

	f, ok = s.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1.25, f)

	_, ok = s.Pop()
	assert.False(t, ok)
	assert.Equal(t, 1.0, s.Multiplier())
}

func TestStackRejectsNonPositiveFactors(t *testing.T) {
	var s Stack
	for _, f := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.False(t, s.Push(f), "factor %v", f)
	}
	assert.Equal(t, 0, s.Len())
	assert.Greater(t, s.Apply(time.Second), time.Duration(0))
}

func TestStackFactorsReturnsCopy(t *testing.T) {
	var s Stack
	s.Push(1.5)
	factors := s.Factors()
	factors[0] = 9
	assert.Equal(t, []float64{1.5}, s.Factors())

	s.Reset()
	assert.Equal(t, 0, s.Len())
}

func TestScaleSaturates(t *testing.T) {
	assert.Equal(t, time.Duration(math.MaxInt64), Scale(time.Hour, 1e30))
}

func TestScaleStaysPositive(t *testing.T) {
	assert.Equal(t, time.Nanosecond, Scale(time.Second, 1e-12))
	assert.Equal(t, time.Duration(0), Scale(0, 2))

	var s Stack
	assert.True(t, s.Push(1e-12))
	assert.Equal(t, time.Nanosecond, s.Apply(10*time.Millisecond))
}
