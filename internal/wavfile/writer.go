// Package wavfile writes the canonical 44-byte-preamble PCM WAV container
// incrementally. The preamble is reserved with placeholder sizes when the
// file is opened and patched with the real sizes when it is finalized.
package wavfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the length of the fixed preamble.
const HeaderSize = 44

// Byte offsets of the two size fields patched at finalize time.
const (
	riffSizeOffset = 4
	dataSizeOffset = 40
)

// Format describes the PCM stream stored in the container.
type Format struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
}

// Mono16 is the 16-bit mono format at the given sample rate.
func Mono16(sampleRate int) Format {
	return Format{SampleRate: uint32(sampleRate), Channels: 1, BitsPerSample: 16}
}

// ByteRate is sampleRate × channels × bitsPerSample / 8.
func (f Format) ByteRate() uint32 {
	return f.SampleRate * uint32(f.Channels) * uint32(f.BitsPerSample) / 8
}

// BlockAlign is channels × bitsPerSample / 8.
func (f Format) BlockAlign() uint16 {
	return f.Channels * f.BitsPerSample / 8
}

// writeHeader writes the RIFF/WAVE preamble with the given payload size. A
// zero payload yields the placeholder values (36 and 0).
func writeHeader(w io.Writer, f Format, dataSize uint32) error {
	h := struct {
		// RIFF header
		RiffID   [4]byte
		RiffSize uint32
		WaveID   [4]byte
		// fmt sub-chunk
		FmtID       [4]byte
		FmtSize     uint32
		AudioFormat uint16
		NumChannels uint16
		SampleRate  uint32
		ByteRate    uint32
		BlockAlign  uint16
		BitsPerSamp uint16
		// data sub-chunk
		DataID   [4]byte
		DataSize uint32
	}{
		RiffID:      [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:    36 + dataSize,
		WaveID:      [4]byte{'W', 'A', 'V', 'E'},
		FmtID:       [4]byte{'f', 'm', 't', ' '},
		FmtSize:     16,
		AudioFormat: 1, // PCM
		NumChannels: f.Channels,
		SampleRate:  f.SampleRate,
		ByteRate:    f.ByteRate(),
		BlockAlign:  f.BlockAlign(),
		BitsPerSamp: f.BitsPerSample,
		DataID:      [4]byte{'d', 'a', 't', 'a'},
		DataSize:    dataSize,
	}

	return binary.Write(w, binary.LittleEndian, &h)
}

// Writer appends conditioned samples to one container file. It is owned by
// a single recording session and is not safe for concurrent use.
type Writer struct {
	store  Storage
	format Format

	f         File
	path      string
	written   uint32
	scratch   []byte
	finalized bool
}

// NewWriter returns a writer that creates its files through store.
func NewWriter(store Storage, format Format) *Writer {
	return &Writer{store: store, format: format}
}

// Open truncates or creates path and reserves the preamble.
func (w *Writer) Open(path string) error {
	f, err := w.store.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeHeader(f, w.format, 0); err != nil {
		_ = f.Close()
		return fmt.Errorf("write preamble: %w", err)
	}

	w.f = f
	w.path = path
	w.written = 0
	w.finalized = false
	return nil
}

// MaxDataBytes is the largest payload whose RIFF size still fits 32 bits.
const MaxDataBytes = math.MaxUint32 - 36

// Append writes samples as little-endian 16-bit PCM. A write that stores
// fewer bytes than requested returns ErrShortWrite. A block that would push
// the payload past MaxDataBytes is refused whole with ErrTooLarge.
func (w *Writer) Append(samples []int16) error {
	if w.f == nil {
		return ErrNotOpen
	}
	need := len(samples) * 2
	if uint64(w.written)+uint64(need) > MaxDataBytes {
		return fmt.Errorf("append %d bytes at %d: %w", need, w.written, ErrTooLarge)
	}
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	buf := w.scratch[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	n, err := w.f.Write(buf)
	w.written += uint32(n)
	if err != nil {
		return fmt.Errorf("append %d bytes: %w", need, err)
	}
	if n != need {
		return fmt.Errorf("append: wrote %d of %d bytes: %w", n, need, ErrShortWrite)
	}
	return nil
}

// Finalize patches the RIFF size (offset 4) and data size (offset 40) with
// the bytes appended so far and closes the file. It must be called once,
// after the last Append.
func (w *Writer) Finalize() error {
	if w.finalized {
		return ErrFinalized
	}
	if w.f == nil {
		return ErrNotOpen
	}
	w.finalized = true

	f := w.f
	w.f = nil

	if err := patch(f, riffSizeOffset, 36+w.written); err != nil {
		_ = f.Close()
		return fmt.Errorf("patch riff size: %w", err)
	}
	if err := patch(f, dataSizeOffset, w.written); err != nil {
		_ = f.Close()
		return fmt.Errorf("patch data size: %w", err)
	}
	return f.Close()
}

// Abort closes the file without patching the preamble. The sizes on disk
// stay at their placeholder values.
func (w *Writer) Abort() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// BytesWritten returns the payload bytes appended since Open.
func (w *Writer) BytesWritten() uint32 { return w.written }

// Path returns the file most recently opened.
func (w *Writer) Path() string { return w.path }

func patch(f File, offset int64, v uint32) error {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, v)
}
