package utils

import "gonum.org/v1/gonum/floats"

// RollingAverage is a fixed size moving average over the most recent samples.
type RollingAverage struct {
	data   []float64
	pos    int
	seeded bool
}

// NewRollingAverage returns a moving average over numSamples samples.
func NewRollingAverage(numSamples int) *RollingAverage {
	if numSamples < 1 {
		numSamples = 1
	}
	return &RollingAverage{data: make([]float64, numSamples)}
}

// NumSamples returns the window size.
func (ra *RollingAverage) NumSamples() int {
	return len(ra.data)
}

// Seeded reports whether the window holds real samples.
func (ra *RollingAverage) Seeded() bool {
	return ra.seeded
}

// Seed fills every slot with x, so the first average equals the first sample.
func (ra *RollingAverage) Seed(x float64) {
	for i := range ra.data {
		ra.data[i] = x
	}
	ra.pos = 0
	ra.seeded = true
}

// Add pushes a sample, replacing the oldest. The first sample seeds the window.
func (ra *RollingAverage) Add(x float64) {
	if !ra.seeded {
		ra.Seed(x)
		return
	}
	ra.data[ra.pos] = x
	ra.pos++
	if ra.pos >= len(ra.data) {
		ra.pos = 0
	}
}

// Average returns the mean of the window.
func (ra *RollingAverage) Average() float64 {
	return floats.Sum(ra.data) / float64(len(ra.data))
}
