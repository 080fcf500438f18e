package wavfile

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return b
}

func TestWriter_OpenWritesPlaceholderPreamble(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(DirStorage{Root: dir}, Mono16(16000))
	if err := w.Open("rec.wav"); err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	data := readFile(t, filepath.Join(dir, "rec.wav"))
	if len(data) != HeaderSize {
		t.Fatalf("file size = %d, want %d", len(data), HeaderSize)
	}

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"riff", string(data[0:4]), "RIFF"},
		{"wave", string(data[8:12]), "WAVE"},
		{"fmt", string(data[12:16]), "fmt "},
		{"data", string(data[36:40]), "data"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s marker = %q, want %q", c.name, c.got, c.want)
		}
	}

	if got := binary.LittleEndian.Uint32(data[4:8]); got != 36 {
		t.Errorf("placeholder riff size = %d, want 36", got)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 0 {
		t.Errorf("placeholder data size = %d, want 0", got)
	}
	if got := binary.LittleEndian.Uint32(data[16:20]); got != 16 {
		t.Errorf("fmt size = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint16(data[20:22]); got != 1 {
		t.Errorf("audio format = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(data[32:34]); got != 2 {
		t.Errorf("block align = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
}

func TestWriter_FinalizePatchesSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		buffers [][]int16
	}{
		{"empty", nil},
		{"single sample", [][]int16{{12345}}},
		{"several buffers", [][]int16{{1, 2, 3}, {-4, -5}, make([]int16, 1024)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			w := NewWriter(DirStorage{Root: dir}, Mono16(16000))
			if err := w.Open("rec.wav"); err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			n := 0
			for _, b := range tt.buffers {
				if err := w.Append(b); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
				n += len(b)
			}
			if err := w.Finalize(); err != nil {
				t.Fatalf("Finalize() error = %v, want nil", err)
			}

			data := readFile(t, filepath.Join(dir, "rec.wav"))
			if len(data) != HeaderSize+2*n {
				t.Errorf("file size = %d, want %d", len(data), HeaderSize+2*n)
			}
			if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(2*n) {
				t.Errorf("data size = %d, want %d", got, 2*n)
			}
			if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(36+2*n) {
				t.Errorf("riff size = %d, want %d", got, 36+2*n)
			}
		})
	}
}

func TestWriter_DecodesWithGoAudio(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(DirStorage{Root: dir}, Mono16(8000))
	if err := w.Open("rec.wav"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	samples := []int16{0, 100, -100, 32767, -32768}
	if err := w.Append(samples); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "rec.wav"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer() error = %v", err)
	}
	if d.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", d.SampleRate)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Errorf("sample[%d] = %d, want %d", i, buf.Data[i], s)
		}
	}
}

func TestWriter_OpenTruncatesLeftover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rec.wav")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWriter(DirStorage{}, Mono16(16000))
	if err := w.Open(path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if got := len(readFile(t, path)); got != HeaderSize {
		t.Errorf("file size = %d, want %d", got, HeaderSize)
	}
}

func TestWriter_FinalizeTwice(t *testing.T) {
	t.Parallel()

	w := NewWriter(DirStorage{Root: t.TempDir()}, Mono16(16000))
	if err := w.Open("rec.wav"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if err := w.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize() error = %v, want ErrFinalized", err)
	}
}

func TestWriter_AppendWithoutOpen(t *testing.T) {
	t.Parallel()

	w := NewWriter(DirStorage{}, Mono16(16000))
	if err := w.Append([]int16{1}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Append() error = %v, want ErrNotOpen", err)
	}
}

// shortFile accepts the preamble then stores at most limit payload bytes.
type shortFile struct {
	limit int
	n     int
	hdr   bool
}

func (s *shortFile) Write(p []byte) (int, error) {
	if !s.hdr {
		s.hdr = true
		return len(p), nil
	}
	room := s.limit - s.n
	if room >= len(p) {
		s.n += len(p)
		return len(p), nil
	}
	s.n += room
	return room, nil
}

func (s *shortFile) Seek(int64, int) (int64, error) { return 0, nil }
func (s *shortFile) Close() error                   { return nil }

type shortStore struct {
	file *shortFile
}

func (s shortStore) Create(string) (File, error)      { return s.file, nil }
func (s shortStore) Open(string) (fs.File, error)     { return nil, fs.ErrNotExist }
func (s shortStore) Stat(string) (fs.FileInfo, error) { return nil, fs.ErrNotExist }
func (s shortStore) Remove(string) error              { return nil }

func TestWriter_ShortWrite(t *testing.T) {
	t.Parallel()

	w := NewWriter(shortStore{file: &shortFile{limit: 3}}, Mono16(16000))
	if err := w.Open("rec.wav"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	err := w.Append([]int16{1, 2, 3, 4})
	if !errors.Is(err, ErrShortWrite) {
		t.Fatalf("Append() error = %v, want ErrShortWrite", err)
	}
	if w.BytesWritten() != 3 {
		t.Errorf("BytesWritten() = %d, want 3", w.BytesWritten())
	}
}

var _ io.WriteSeeker = (*shortFile)(nil)

func TestWriter_RefusesToOverflowRIFFSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(DirStorage{Root: dir}, Mono16(16000))
	if err := w.Open("rec.wav"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	// Pretend the file already holds almost 4 GiB.
	w.written = MaxDataBytes - 2

	if err := w.Append(make([]int16, 2)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Append() past the limit error = %v, want ErrTooLarge", err)
	}
	if w.written != MaxDataBytes-2 {
		t.Errorf("refused block changed the byte count to %d", w.written)
	}
	if err := w.Append(make([]int16, 1)); err != nil {
		t.Fatalf("Append() up to the limit error = %v, want nil", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	data := readFile(t, filepath.Join(dir, "rec.wav"))
	if got := binary.LittleEndian.Uint32(data[4:8]); got != math.MaxUint32 {
		t.Errorf("riff size = %d, want %d", got, uint32(math.MaxUint32))
	}
}
