// Package metrics aggregates numeric samples into batches ready for
// delivery.
package metrics

import (
	"math"
	"sort"
)

// Collection holds every value recorded for one timing metric.
type Collection struct {
	values []float64
	sorted bool
}

func NewCollection(values ...float64) *Collection {
	c := &Collection{}
	for _, v := range values {
		c.Add(v)
	}
	return c
}

func (c *Collection) Add(value float64) {
	c.values = append(c.values, value)
	c.sorted = false
}

func (c *Collection) Count() int {
	return len(c.values)
}

func (c *Collection) Sum() float64 {
	var sum float64
	for _, v := range c.values {
		sum += v
	}
	return sum
}

func (c *Collection) Mean() float64 {
	if len(c.values) == 0 {
		return 0
	}
	return c.Sum() / float64(len(c.values))
}

func (c *Collection) Min() float64 {
	if len(c.values) == 0 {
		return 0
	}
	return c.sortedValues()[0]
}

func (c *Collection) Max() float64 {
	if len(c.values) == 0 {
		return 0
	}
	s := c.sortedValues()
	return s[len(s)-1]
}

func (c *Collection) Median() float64 {
	return c.Percentile(50)
}

// Percentile counts down from the top of the sorted values: with
// t = round((100-p)/100 * count) it returns the value at 1-based position
// count-t. For 1..10, Percentile(90) is 9 and Percentile(50) is 5.
func (c *Collection) Percentile(p float64) float64 {
	n := len(c.values)
	if n == 0 {
		return 0
	}
	s := c.sortedValues()
	threshold := int(math.Round((100 - p) / 100 * float64(n)))
	idx := n - threshold - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return s[idx]
}

// StdDev is the sample standard deviation. It is zero for fewer than two
// values.
func (c *Collection) StdDev() float64 {
	n := len(c.values)
	if n < 2 {
		return 0
	}
	mean := c.Mean()
	var acc float64
	for _, v := range c.values {
		acc += (v - mean) * (v - mean)
	}
	return math.Sqrt(acc / float64(n-1))
}

func (c *Collection) sortedValues() []float64 {
	if !c.sorted {
		sort.Float64s(c.values)
		c.sorted = true
	}
	return c.values
}
