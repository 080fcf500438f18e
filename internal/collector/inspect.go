package collector

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/wav"
)

// Info describes a decoded upload.
type Info struct {
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	Frames     int           `json:"frames"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	// Peak and RMS are relative to full scale, in [0, 1].
	Peak float64 `json:"peak"`
	RMS  float64 `json:"rms"`
}

// Inspect decodes r as a WAV file and measures it.
func Inspect(r io.ReadSeeker) (Info, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	info := Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return Info{}, fmt.Errorf("%w: %d Hz, %d channels", ErrInvalidWAV, info.SampleRate, info.Channels)
	}

	info.Frames = len(buf.Data) / info.Channels
	info.Duration = time.Duration(info.Frames) * time.Second / time.Duration(info.SampleRate)
	info.DurationMS = info.Duration.Milliseconds()

	if len(buf.Data) > 0 && info.BitDepth > 0 {
		full := math.Ldexp(1, info.BitDepth-1)
		var sum float64
		for _, v := range buf.Data {
			s := float64(v)
			if info.BitDepth == 8 {
				s -= 128
			}
			s /= full
			sum += s * s
			if a := math.Abs(s); a > info.Peak {
				info.Peak = a
			}
		}
		info.RMS = math.Sqrt(sum / float64(len(buf.Data)))
		info.Peak = math.Min(info.Peak, 1)
	}
	return info, nil
}
