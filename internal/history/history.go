// Package history buffers the historic minmax and average tuples pulled
// from the device once per configured TOD window, using ring buffers so
// the gateway only ever holds the most recent day's worth in memory —
// it is not a long-term store; the device owns that (spec §1, non-goal).
package history

import "github.com/brandondube/ringo"

// MinmaxCapacity is the number of (max, min) tuples pulled per day
// (spec §4.7: "24 x (max,min) vectors").
const MinmaxCapacity = 24

// AverageCapacity is the number of average tuples pulled per day
// (spec §4.7: "288 x average vectors").
const AverageCapacity = 288

// MinmaxPair is one hourly (max, min) tuple.
type MinmaxPair struct {
	Max, Min float64
}

// Buffer holds one instrument's historic minmax and average rings.
type Buffer struct {
	max ringo.CircleF64
	min ringo.CircleF64
	avg ringo.CircleF64
}

// NewBuffer builds an empty Buffer sized per MinmaxCapacity/AverageCapacity.
func NewBuffer() *Buffer {
	b := &Buffer{}
	b.max.Init(MinmaxCapacity)
	b.min.Init(MinmaxCapacity)
	b.avg.Init(AverageCapacity)
	return b
}

// AppendMinmax records one hourly (max, min) pair.
func (b *Buffer) AppendMinmax(max, min float64) {
	b.max.Append(max)
	b.min.Append(min)
}

// AppendAverage records one 5-minute average sample.
func (b *Buffer) AppendAverage(avg float64) {
	b.avg.Append(avg)
}

// Minmax returns the buffered (max, min) pairs, oldest first.
func (b *Buffer) Minmax() []MinmaxPair {
	maxes := b.max.Contiguous()
	mins := b.min.Contiguous()
	n := len(maxes)
	if len(mins) < n {
		n = len(mins)
	}
	out := make([]MinmaxPair, n)
	for i := 0; i < n; i++ {
		out[i] = MinmaxPair{Max: maxes[i], Min: mins[i]}
	}
	return out
}

// Averages returns the buffered average samples, oldest first.
func (b *Buffer) Averages() []float64 {
	return b.avg.Contiguous()
}
