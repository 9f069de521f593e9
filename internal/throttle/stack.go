// Package throttle implements the multiplicative throttle stack shared by
// workers and metered queues.
package throttle

import (
	"math"
	"time"
)

// Stack is an ordered list of multiplicative factors applied on top of a
// base interval. The most recently pushed factor is the first one removed.
//
// Stack is not safe for concurrent use; owners guard it with their own lock.
type Stack struct {
	factors []float64
}

// Push appends factor to the stack. Factors that are not finite and strictly
// positive are ignored.
func (s *Stack) Push(factor float64) bool {
	if !valid(factor) {
		return false
	}
	s.factors = append(s.factors, factor)
	return true
}

// Pop removes the most recently pushed factor.
func (s *Stack) Pop() (float64, bool) {
	if len(s.factors) == 0 {
		return 0, false
	}
	last := s.factors[len(s.factors)-1]
	s.factors = s.factors[:len(s.factors)-1]
	return last, true
}

// Len returns the number of active factors.
func (s *Stack) Len() int {
	return len(s.factors)
}

// Multiplier returns the product of all active factors, 1 when empty.
func (s *Stack) Multiplier() float64 {
	m := 1.0
	for _, f := range s.factors {
		m *= f
	}
	return m
}

// Apply scales base by the current multiplier.
func (s *Stack) Apply(base time.Duration) time.Duration {
	return Scale(base, s.Multiplier())
}

// Factors returns a copy of the active factors, oldest first.
func (s *Stack) Factors() []float64 {
	out := make([]float64, len(s.factors))
	copy(out, s.factors)
	return out
}

// Reset drops every active factor.
func (s *Stack) Reset() {
	s.factors = nil
}

// Scale multiplies d by m, saturating instead of overflowing. A positive d
// never scales below one nanosecond, so a throttled interval stays positive.
func Scale(d time.Duration, m float64) time.Duration {
	scaled := float64(d) * m
	if scaled >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	if d > 0 && scaled < 1 {
		return time.Nanosecond
	}
	return time.Duration(scaled)
}

func valid(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}
