package mic

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-audio/wav"
)

// Options selects and configures a driver.
type Options struct {
	Source     string // tone, wav or command
	SampleRate int
	ToneHz     float64
	WAVPath    string
	Command    []string
}

// NewDriver builds the driver named by o.Source.
func NewDriver(ctx context.Context, o Options) (Driver, error) {
	switch o.Source {
	case "", "tone":
		return NewToneDriver(o.SampleRate, o.ToneHz), nil
	case "wav":
		return LoadWAV(o.WAVPath, o.SampleRate)
	case "command":
		return StartCommand(ctx, o.Command, o.SampleRate)
	default:
		return nil, fmt.Errorf("unknown audio source %q", o.Source)
	}
}

// pacer holds a producer to real time: after n samples have been produced
// it sleeps until n/rate seconds have passed since the first call.
type pacer struct {
	rate     int
	start    time.Time
	produced int64
}

func (p *pacer) wait(ctx context.Context, n int) error {
	if p.rate <= 0 {
		return nil
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}
	p.produced += int64(n)
	due := p.start.Add(time.Duration(p.produced * int64(time.Second) / int64(p.rate)))
	d := time.Until(due)
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToneDriver synthesizes a continuous sine wave. Used when no microphone is
// attached so the whole pipeline can run on a workstation.
type ToneDriver struct {
	SampleRate int
	Freq       float64
	Amplitude  float64
	Paced      bool

	pos   int64
	pacer pacer
}

// NewToneDriver returns a real-time paced tone at freq Hz.
func NewToneDriver(sampleRate int, freq float64) *ToneDriver {
	if freq <= 0 {
		freq = 440
	}
	return &ToneDriver{
		SampleRate: sampleRate,
		Freq:       freq,
		Amplitude:  8000,
		Paced:      true,
	}
}

func (d *ToneDriver) Read(ctx context.Context, dst []int16) error {
	rate := float64(d.SampleRate)
	for i := range dst {
		t := float64(d.pos) / rate
		dst[i] = int16(d.Amplitude * math.Sin(2.0*math.Pi*d.Freq*t))
		d.pos++
	}
	if !d.Paced {
		return ctx.Err()
	}
	d.pacer.rate = d.SampleRate
	return d.pacer.wait(ctx, len(dst))
}

func (d *ToneDriver) Close() error { return nil }

// WAVDriver replays a decoded WAV file in a loop at real time.
type WAVDriver struct {
	samples []int16
	pos     int
	pacer   pacer
}

// LoadWAV decodes path once. Multi-channel files keep their first channel;
// samples are rescaled to 16 bits. The file's sample rate must match rate.
func LoadWAV(path string, rate int) (*WAVDriver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav source: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if rate > 0 && int(d.SampleRate) != rate {
		return nil, fmt.Errorf("%s is %d Hz, pipeline runs at %d Hz", path, d.SampleRate, rate)
	}

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}

	samples := make([]int16, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, to16(buf.Data[i], depth))
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s holds no samples", path)
	}

	return &WAVDriver{samples: samples, pacer: pacer{rate: int(d.SampleRate)}}, nil
}

func to16(v, depth int) int16 {
	switch {
	case depth > 16:
		return int16(v >> (depth - 16))
	case depth == 8:
		// 8-bit PCM is unsigned
		return int16((v - 128) << 8)
	case depth < 16 && depth > 0:
		return int16(v << (16 - depth))
	default:
		return int16(v)
	}
}

func (d *WAVDriver) Read(ctx context.Context, dst []int16) error {
	for i := range dst {
		dst[i] = d.samples[d.pos]
		d.pos++
		if d.pos == len(d.samples) {
			d.pos = 0
		}
	}
	return d.pacer.wait(ctx, len(dst))
}

func (d *WAVDriver) Close() error { return nil }

// DefaultCommand captures 16-bit mono little-endian PCM from the default
// ALSA device.
func DefaultCommand(rate int) []string {
	return []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", strconv.Itoa(rate)}
}

// CommandDriver reads raw little-endian samples from a capture process's
// stdout. When the process exits, the failing Read reports it and the next
// Read starts a new one. Everything stops at Close or when ctx is cancelled.
type CommandDriver struct {
	ctx  context.Context
	args []string

	cmd     *exec.Cmd
	out     *bufio.Reader
	scratch []byte
	spawns  int
}

// StartCommand spawns args (DefaultCommand when empty).
func StartCommand(ctx context.Context, args []string, rate int) (*CommandDriver, error) {
	if len(args) == 0 {
		args = DefaultCommand(rate)
	}
	d := &CommandDriver{ctx: ctx, args: args}
	if err := d.spawn(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *CommandDriver) spawn() error {
	cmd := exec.CommandContext(d.ctx, d.args[0], d.args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", d.args[0], err)
	}
	d.cmd, d.out = cmd, bufio.NewReaderSize(stdout, 8192)
	d.spawns++
	return nil
}

// reap waits for an exited capture process.
func (d *CommandDriver) reap() {
	if d.cmd == nil {
		return
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	d.cmd, d.out = nil, nil
}

func (d *CommandDriver) Read(_ context.Context, dst []int16) error {
	if d.out == nil {
		if err := d.spawn(); err != nil {
			return err
		}
	}
	need := len(dst) * 2
	if cap(d.scratch) < need {
		d.scratch = make([]byte, need)
	}
	buf := d.scratch[:need]
	if _, err := io.ReadFull(d.out, buf); err != nil {
		d.reap()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("capture command exited: %w", err)
		}
		return err
	}
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return nil
}

func (d *CommandDriver) Close() error {
	d.reap()
	return nil
}
