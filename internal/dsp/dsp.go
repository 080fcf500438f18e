// Package dsp implements the in-place conditioning stages applied to each
// buffer of signed 16-bit mono samples between acquisition and storage:
// a single-pole high-pass filter, automatic gain control, and a fixed gain.
package dsp

import "math"

// Full-scale bounds of a signed 16-bit sample.
const (
	maxSample = 32767.0
	minSample = -32768.0
	fullScale = 32768.0
)

// Stage is one transform in the conditioning chain. Process mutates buf in
// place. Reset clears any state carried between buffers.
type Stage interface {
	Name() string
	Process(buf []int16)
	Reset()
}

// saturate clamps v to the int16 range and truncates toward zero.
func saturate(v float64) int16 {
	if v > maxSample {
		return math.MaxInt16
	}
	if v < minSample {
		return math.MinInt16
	}
	return int16(v)
}

// RMS returns the root mean square of buf normalized to [-1, 1].
// An empty buffer has an RMS of zero.
func RMS(buf []int16) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, s := range buf {
		x := float64(s) / fullScale
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(buf)))
}
