package metrics

import (
	"regexp"
)

// Kind is the aggregation applied to a named metric.
type Kind string

const (
	KindCounter Kind = "counter"
	KindTiming  Kind = "timing"
)

// Sample is a single recorded value.
type Sample struct {
	Kind  Kind
	Name  string
	Value float64
}

// Metric is the serialized view of every sample sharing a kind and name.
// Counters only carry Value; timings carry the distribution summary.
type Metric struct {
	Kind         Kind     `json:"kind"`
	Name         string   `json:"name"`
	Value        *float64 `json:"value,omitempty"`
	Mean         *float64 `json:"mean,omitempty"`
	Median       *float64 `json:"median,omitempty"`
	Percentile90 *float64 `json:"percentile_90,omitempty"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Count        int      `json:"count"`
	StdDev       *float64 `json:"stddev,omitempty"`
}

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_/.-]+`)

// SanitizeName replaces characters the collector does not accept in metric
// names with underscores.
func SanitizeName(name string) string {
	return nameSanitizer.ReplaceAllString(name, "_")
}

type metricKey struct {
	kind Kind
	name string
}

// Aggregate folds samples into one Metric per (kind, name), in the order
// each pair was first seen.
func Aggregate(samples []Sample) []Metric {
	var order []metricKey
	counters := make(map[metricKey]*float64)
	counts := make(map[metricKey]int)
	timings := make(map[metricKey]*Collection)

	for _, s := range samples {
		key := metricKey{kind: s.Kind, name: s.Name}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++

		switch s.Kind {
		case KindTiming:
			c, ok := timings[key]
			if !ok {
				c = NewCollection()
				timings[key] = c
			}
			c.Add(s.Value)
		default:
			sum, ok := counters[key]
			if !ok {
				sum = new(float64)
				counters[key] = sum
			}
			*sum += s.Value
		}
	}

	out := make([]Metric, 0, len(order))
	for _, key := range order {
		m := Metric{Kind: key.kind, Name: key.name, Count: counts[key]}
		if c, ok := timings[key]; ok {
			m.Mean = float(c.Mean())
			m.Median = float(c.Median())
			m.Percentile90 = float(c.Percentile(90))
			m.Min = float(c.Min())
			m.Max = float(c.Max())
			if c.Count() > 1 {
				m.StdDev = float(c.StdDev())
			}
		} else {
			m.Kind = KindCounter
			m.Value = float(*counters[key])
		}
		out = append(out, m)
	}
	return out
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func float(v float64) *float64 {
	return &v
}
