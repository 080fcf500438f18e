package dsp

// Options selects which stages a Chain runs. The order is fixed: high-pass,
// then AGC, then fixed gain. Fixed gain only runs when AGC is disabled and
// Gain differs from 1.0.
type Options struct {
	SampleRate int

	HighPassEnabled bool
	HighPassCutoff  float64

	AGCEnabled bool
	AGC        AGCConfig

	Gain float64
}

// Chain applies its stages in order to each buffer. With no stage enabled
// buffers pass through untouched.
type Chain struct {
	stages []Stage
}

// NewChain builds the chain described by opts.
func NewChain(opts Options) *Chain {
	c := &Chain{}
	if opts.HighPassEnabled {
		c.stages = append(c.stages, NewHighPass(opts.SampleRate, opts.HighPassCutoff))
	}
	switch {
	case opts.AGCEnabled:
		c.stages = append(c.stages, NewAGC(opts.AGC))
	case opts.Gain != 0 && opts.Gain != 1.0:
		c.stages = append(c.stages, NewFixedGain(opts.Gain))
	}
	return c
}

// Process runs every stage over buf in place.
func (c *Chain) Process(buf []int16) {
	for _, s := range c.stages {
		s.Process(buf)
	}
}

// Reset clears per-session state in every stage.
func (c *Chain) Reset() {
	for _, s := range c.stages {
		s.Reset()
	}
}

// Stages returns the stage names in processing order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Passthrough reports whether the chain leaves buffers untouched.
func (c *Chain) Passthrough() bool { return len(c.stages) == 0 }
