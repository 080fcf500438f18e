package dsp

// AGC gain bounds and the RMS floor below which the target is left alone.
const (
	MinGain    = 0.1
	MaxGain    = 8.0
	rmsEpsilon = 0.001
)

// AGCConfig holds the automatic gain control parameters. Attack is the blend
// factor used while the gain rises, Release while it falls; both are in
// (0, 1].
type AGCConfig struct {
	TargetVolume float64
	Attack       float64
	Release      float64
	InitialGain  float64
}

// AGC drives the applied gain toward TargetVolume/RMS, one blend step per
// buffer, then applies it sample by sample with saturation.
type AGC struct {
	cfg     AGCConfig
	current float64
	target  float64
}

// NewAGC returns an AGC starting at cfg.InitialGain (1.0 when unset).
func NewAGC(cfg AGCConfig) *AGC {
	if cfg.InitialGain <= 0 {
		cfg.InitialGain = 1.0
	}
	a := &AGC{cfg: cfg}
	a.Reset()
	return a
}

func (a *AGC) Name() string { return "agc" }

func (a *AGC) Reset() {
	a.current = a.cfg.InitialGain
	a.target = a.cfg.InitialGain
}

// Gain returns the gain applied to the most recent buffer.
func (a *AGC) Gain() float64 { return a.current }

// Target returns the most recently derived target gain.
func (a *AGC) Target() float64 { return a.target }

func (a *AGC) Process(buf []int16) {
	rms := RMS(buf)
	if rms > rmsEpsilon {
		target := a.cfg.TargetVolume / rms
		if target > MaxGain {
			target = MaxGain
		}
		if target < MinGain {
			target = MinGain
		}
		a.target = target

		blend := a.cfg.Release
		if target > a.current {
			blend = a.cfg.Attack
		}
		a.current = a.current*(1.0-blend) + target*blend
	}

	for i, s := range buf {
		buf[i] = saturate(float64(s) * a.current)
	}
}

// FixedGain multiplies every sample by a constant and saturates.
type FixedGain struct {
	gain float64
}

// NewFixedGain returns a stage applying gain to every sample.
func NewFixedGain(gain float64) *FixedGain {
	return &FixedGain{gain: gain}
}

func (g *FixedGain) Name() string { return "fixed_gain" }
func (g *FixedGain) Reset()       {}

func (g *FixedGain) Process(buf []int16) {
	for i, s := range buf {
		buf[i] = saturate(float64(s) * g.gain)
	}
}
