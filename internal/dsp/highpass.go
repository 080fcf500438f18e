package dsp

import "math"

// Alpha returns the single-pole high-pass coefficient RC/(RC+dt) for the
// given sample rate and cutoff, where RC = 1/(2π·cutoff) and dt = 1/rate.
// For positive inputs the result lies strictly between 0 and 1.
func Alpha(sampleRate int, cutoffHz float64) float64 {
	dt := 1.0 / float64(sampleRate)
	rc := 1.0 / (2.0 * math.Pi * cutoffHz)
	return rc / (rc + dt)
}

// HighPass is a first-order IIR high-pass filter:
//
//	y[n] = α·(y[n-1] + x[n] − x[n-1])
//
// Samples are normalized to [-1, 1] before filtering and re-quantized with
// hard clipping afterwards. The previous input and output carry across
// buffers until Reset.
type HighPass struct {
	alpha   float64
	prevIn  float64
	prevOut float64
}

// NewHighPass derives the filter coefficient once from the sample rate and
// cutoff frequency.
func NewHighPass(sampleRate int, cutoffHz float64) *HighPass {
	return &HighPass{alpha: Alpha(sampleRate, cutoffHz)}
}

func (h *HighPass) Name() string { return "high_pass" }

// Coefficient returns the immutable α.
func (h *HighPass) Coefficient() float64 { return h.alpha }

func (h *HighPass) Reset() {
	h.prevIn = 0
	h.prevOut = 0
}

func (h *HighPass) Process(buf []int16) {
	for i, s := range buf {
		x := float64(s) / fullScale
		y := h.alpha * (h.prevOut + x - h.prevIn)
		h.prevIn = x
		h.prevOut = y
		buf[i] = saturate(y * fullScale)
	}
}
