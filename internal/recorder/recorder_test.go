package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/pocketmic/internal/dsp"
	"github.com/large-farva/pocketmic/internal/indicator"
	"github.com/large-farva/pocketmic/internal/telemetry"
	"github.com/large-farva/pocketmic/internal/trigger"
	"github.com/large-farva/pocketmic/internal/upload"
	"github.com/large-farva/pocketmic/internal/wavfile"
)

const (
	rate    = 16000
	quantum = 1024
	// tick matches one quantum of audio at 16 kHz.
	tick = 64 * time.Millisecond
)

// fakeSource delivers quanta instantly. failOn makes the n-th Fill fail.
type fakeSource struct {
	fills   int
	flushes int
	failOn  int
}

func (s *fakeSource) Fill(_ context.Context, dst []int16) (int, error) {
	s.fills++
	if s.failOn > 0 && s.fills == s.failOn {
		return 0, errors.New("i2s read failed")
	}
	for i := range dst {
		dst[i] = 1000
	}
	return len(dst), nil
}

func (s *fakeSource) Flush()       { s.flushes++ }
func (s *fakeSource) Close() error { return nil }

type patterns struct {
	mu  sync.Mutex
	log []indicator.Pattern
}

func (p *patterns) Set(pat indicator.Pattern) {
	p.mu.Lock()
	p.log = append(p.log, pat)
	p.mu.Unlock()
}

func (p *patterns) last() indicator.Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.log) == 0 {
		return indicator.Idle
	}
	return p.log[len(p.log)-1]
}

// collector is a fake upload endpoint.
type collector struct {
	status  atomic.Int32
	hits    atomic.Int32
	mu      sync.Mutex
	body    []byte
	release chan struct{}
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.release != nil {
		<-c.release
	}
	b, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.body = b
	c.mu.Unlock()
	c.hits.Add(1)
	w.WriteHeader(int(c.status.Load()))
}

func (c *collector) lastBody() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

type rig struct {
	c      *Controller
	sw     *trigger.Switch
	src    *fakeSource
	ind    *patterns
	srv    *collector
	path   string
	events *events
}

type events struct {
	mu  sync.Mutex
	all []any
}

func (e *events) add(v any) {
	e.mu.Lock()
	e.all = append(e.all, v)
	e.mu.Unlock()
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newRig(t *testing.T, status int, mutate func(*Config, *Deps)) *rig {
	t.Helper()

	srv := &collector{}
	srv.status.Store(int32(status))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	path := filepath.Join(t.TempDir(), "recording.wav")
	sw := &trigger.Switch{}
	src := &fakeSource{}
	ind := &patterns{}
	ev := &events{}
	log := quiet()

	cfg := Config{
		FilePath:    path,
		Quantum:     quantum,
		MaxDuration: 30 * time.Second,
	}
	deps := Deps{
		Trigger:   trigger.NewDebouncer(sw, 50*time.Millisecond),
		Source:    src,
		Chain:     dsp.NewChain(dsp.Options{SampleRate: rate, Gain: 1.0}),
		Writer:    wavfile.NewWriter(wavfile.DirStorage{}, wavfile.Mono16(rate)),
		Uploader:  upload.New(ts.URL, wavfile.DirStorage{}, 5*time.Second, log),
		Indicator: ind,
		Log:       log,
		Notify:    ev.add,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	return &rig{c: New(cfg, deps), sw: sw, src: src, ind: ind, srv: srv, path: path, events: ev}
}

func checkPreamble(t *testing.T, data []byte) uint32 {
	t.Helper()
	if len(data) < wavfile.HeaderSize {
		t.Fatalf("container is %d bytes, shorter than the preamble", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Fatalf("bad preamble markers: % x", data[:wavfile.HeaderSize])
	}
	payload := binary.LittleEndian.Uint32(data[40:44])
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 36+payload {
		t.Errorf("riff size = %d, want %d", got, 36+payload)
	}
	if int(payload) != len(data)-wavfile.HeaderSize {
		t.Errorf("data size = %d, want %d", payload, len(data)-wavfile.HeaderSize)
	}
	return payload
}

func TestController_ScenarioTwoSecondPress(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusOK, nil)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	r.sw.Press()
	for at := time.Duration(0); at <= 3*time.Second; at += tick {
		if at >= 2*time.Second {
			r.sw.Release()
		}
		r.c.Tick(ctx, t0.Add(at))
	}

	st := r.c.Status()
	if st.State != StateIdle {
		t.Fatalf("State = %s, want IDLE", st.State)
	}
	if st.LastStop != StopRelease {
		t.Errorf("LastStop = %q, want %q", st.LastStop, StopRelease)
	}
	if r.srv.hits.Load() != 1 {
		t.Fatalf("uploads = %d, want 1", r.srv.hits.Load())
	}

	payload := checkPreamble(t, r.srv.lastBody())
	want := 2 * rate * 2
	if diff := int(payload) - want; diff < -2*quantum || diff > 2*quantum {
		t.Errorf("payload = %d bytes, want %d ± %d", payload, want, 2*quantum)
	}

	if _, err := os.Stat(r.path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("recording still on disk after successful upload: %v", err)
	}
	if r.ind.last() != indicator.Success {
		t.Errorf("indicator = %s, want success", r.ind.last())
	}
	if r.src.flushes != 1 {
		t.Errorf("source flushed %d times, want 1", r.src.flushes)
	}

	var started, stopped bool
	for _, e := range r.events.all {
		if s, ok := e.(telemetry.Session); ok {
			started = started || s.Action == "started"
			stopped = stopped || s.Action == "stopped"
		}
	}
	if !started || !stopped {
		t.Errorf("session events started=%v stopped=%v, want both", started, stopped)
	}
}

func TestController_ScenarioMaxDuration(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusOK, nil)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	r.sw.Press()
	var startedAt, stoppedAt time.Time
	for at := time.Duration(0); at <= 40*time.Second; at += tick {
		now := t0.Add(at)
		before := r.c.State()
		r.c.Tick(ctx, now)
		after := r.c.State()
		if before == StateIdle && after == StateRecording {
			startedAt = now
		}
		if before == StateRecording && after != StateRecording {
			stoppedAt = now
		}
	}

	if startedAt.IsZero() || stoppedAt.IsZero() {
		t.Fatalf("session never started or never stopped")
	}
	held := stoppedAt.Sub(startedAt)
	if held <= 30*time.Second || held > 30*time.Second+tick {
		t.Errorf("session lasted %s, want it stopped on the first tick past 30s", held)
	}

	st := r.c.Status()
	if st.LastStop != StopMaxDuration {
		t.Errorf("LastStop = %q, want %q", st.LastStop, StopMaxDuration)
	}
	if st.Counters.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1 while the button stays held", st.Counters.Sessions)
	}

	payload := checkPreamble(t, r.srv.lastBody())
	want := 2 * rate * 30
	if diff := int(payload) - want; diff < -2*quantum || diff > 2*quantum {
		t.Errorf("payload = %d bytes, want %d ± %d", payload, want, 2*quantum)
	}
}

func record(t *testing.T, c *Controller, from time.Time, n int) time.Time {
	t.Helper()
	ctx := context.Background()
	if err := c.Start(from); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	now := from
	for i := 0; i < n; i++ {
		c.Tick(ctx, now)
		now = now.Add(tick)
	}
	c.Stop(ctx, now)
	return now
}

func TestController_ScenarioUploadRejected(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusInternalServerError, nil)
	r.c.deps.Trigger = nil
	t0 := time.Unix(1_700_000_000, 0)

	now := record(t, r.c, t0, 5)

	st := r.c.Status()
	if st.State != StateIdle {
		t.Fatalf("State = %s, want IDLE", st.State)
	}
	if r.ind.last() != indicator.Failure {
		t.Errorf("indicator = %s, want failure", r.ind.last())
	}
	info, err := os.Stat(r.path)
	if err != nil {
		t.Fatalf("recording removed after rejected upload: %v", err)
	}
	if info.Size() != int64(wavfile.HeaderSize+5*quantum*2) {
		t.Errorf("kept file is %d bytes, want %d", info.Size(), wavfile.HeaderSize+5*quantum*2)
	}
	if st.Retained != r.path {
		t.Errorf("Retained = %q, want %q", st.Retained, r.path)
	}
	if st.LastUpload == nil || st.LastUpload.StatusCode != http.StatusInternalServerError {
		t.Errorf("LastUpload = %+v, want status 500", st.LastUpload)
	}

	// A fresh cycle is unaffected.
	r.srv.status.Store(http.StatusOK)
	record(t, r.c, now.Add(time.Second), 3)

	st = r.c.Status()
	if r.ind.last() != indicator.Success {
		t.Errorf("indicator = %s, want success", r.ind.last())
	}
	if st.Counters.Uploaded != 1 || st.Counters.UploadFailures != 1 {
		t.Errorf("Counters = %+v, want 1 uploaded 1 failed", st.Counters)
	}
	if _, err := os.Stat(r.path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("recording kept after successful upload: %v", err)
	}
}

func TestController_Idempotent(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusOK, nil)
	r.c.deps.Trigger = nil
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	before := r.c.Status()
	r.c.Stop(ctx, t0)
	if after := r.c.Status(); !reflect.DeepEqual(before, after) {
		t.Errorf("Stop() while idle changed status: %+v -> %+v", before, after)
	}
	if r.srv.hits.Load() != 0 {
		t.Errorf("Stop() while idle uploaded")
	}

	if err := r.c.Start(t0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.c.Tick(ctx, t0)
	first := r.c.Status()
	if err := r.c.Start(t0.Add(time.Second)); err != nil {
		t.Fatalf("second Start() error = %v, want nil", err)
	}
	second := r.c.Status()
	if !second.Session.StartedAt.Equal(first.Session.StartedAt) {
		t.Errorf("StartedAt moved from %s to %s", first.Session.StartedAt, second.Session.StartedAt)
	}
	if second.Session.BytesWritten != first.Session.BytesWritten || second.Counters.Sessions != 1 {
		t.Errorf("second Start() changed the session: %+v -> %+v", first, second)
	}
}

func TestController_AcquisitionErrorAborts(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusOK, nil)
	r.c.deps.Trigger = nil
	r.src.failOn = 3
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	if err := r.c.Start(t0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		r.c.Tick(ctx, t0.Add(time.Duration(i)*tick))
	}

	st := r.c.Status()
	if st.State != StateIdle {
		t.Errorf("State = %s, want IDLE", st.State)
	}
	if st.Counters.Aborted != 1 {
		t.Errorf("Aborted = %d, want 1", st.Counters.Aborted)
	}
	if st.LastError == "" {
		t.Error("LastError empty after abort")
	}
	if r.ind.last() != indicator.Failure {
		t.Errorf("indicator = %s, want failure", r.ind.last())
	}
	if r.srv.hits.Load() != 0 {
		t.Errorf("aborted session was uploaded")
	}
	if r.src.fills != 3 {
		t.Errorf("fills = %d, want 3 (no reads after the abort)", r.src.fills)
	}
}

type brokenWriter struct {
	*wavfile.Writer
	aborted bool
}

func (w *brokenWriter) Append([]int16) error { return wavfile.ErrShortWrite }
func (w *brokenWriter) Abort() error {
	w.aborted = true
	return w.Writer.Abort()
}

func TestController_WriteErrorAborts(t *testing.T) {
	t.Parallel()

	bw := &brokenWriter{Writer: wavfile.NewWriter(wavfile.DirStorage{}, wavfile.Mono16(rate))}
	r := newRig(t, http.StatusOK, func(_ *Config, d *Deps) {
		d.Trigger = nil
		d.Writer = bw
	})
	t0 := time.Unix(1_700_000_000, 0)

	if err := r.c.Start(t0); err != nil {
		t.Fatal(err)
	}
	r.c.Tick(context.Background(), t0)

	if !bw.aborted {
		t.Error("writer not closed on the error path")
	}
	if r.c.State() != StateIdle || r.ind.last() != indicator.Failure {
		t.Errorf("State = %s indicator = %s, want IDLE failure", r.c.State(), r.ind.last())
	}
	if r.srv.hits.Load() != 0 {
		t.Error("aborted session was uploaded")
	}
}

func TestController_StorageErrorOnStart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "flash")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	r := newRig(t, http.StatusOK, func(c *Config, d *Deps) {
		c.FilePath = filepath.Join(blocker, "recording.wav")
		d.Trigger = nil
	})

	if err := r.c.Start(time.Unix(0, 0)); err == nil {
		t.Fatal("Start() error = nil, want storage error")
	}
	if r.c.State() != StateIdle || r.ind.last() != indicator.Failure {
		t.Errorf("State = %s indicator = %s, want IDLE failure", r.c.State(), r.ind.last())
	}
}

func TestController_AsyncUploadBlocksNewSession(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusOK, func(c *Config, d *Deps) {
		c.AsyncUpload = true
		d.Trigger = nil
	})
	r.srv.release = make(chan struct{})
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	now := record(t, r.c, t0, 2)
	if r.c.State() != StateUploading {
		t.Fatalf("State = %s, want UPLOADING", r.c.State())
	}
	if err := r.c.Start(now); !errors.Is(err, ErrBusy) {
		t.Errorf("Start() during upload error = %v, want ErrBusy", err)
	}
	r.c.Tick(ctx, now)
	if r.c.State() != StateUploading {
		t.Errorf("State = %s, want UPLOADING until the upload finishes", r.c.State())
	}

	close(r.srv.release)
	deadline := time.Now().Add(5 * time.Second)
	for r.c.State() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("upload never completed")
		}
		now = now.Add(tick)
		r.c.Tick(ctx, now)
		time.Sleep(time.Millisecond)
	}
	if r.ind.last() != indicator.Success {
		t.Errorf("indicator = %s, want success", r.ind.last())
	}
	if err := r.c.Start(now); err != nil {
		t.Errorf("Start() after upload error = %v, want nil", err)
	}
}

func TestController_RetryAfterFailure(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusBadGateway, nil)
	r.c.deps.Trigger = nil
	t0 := time.Unix(1_700_000_000, 0)

	if err := r.c.Retry(context.Background(), t0); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("Retry() with nothing kept error = %v, want ErrNothingToRetry", err)
	}

	now := record(t, r.c, t0, 2)
	r.srv.status.Store(http.StatusOK)
	if err := r.c.Retry(context.Background(), now); err != nil {
		t.Fatalf("Retry() error = %v, want nil", err)
	}

	st := r.c.Status()
	if st.Retained != "" || r.ind.last() != indicator.Success {
		t.Errorf("Retained = %q indicator = %s, want empty success", st.Retained, r.ind.last())
	}
	if r.srv.hits.Load() != 2 {
		t.Errorf("uploads = %d, want 2", r.srv.hits.Load())
	}
}

func TestController_RetryForgetsVanishedFile(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusBadGateway, nil)
	r.c.deps.Trigger = nil
	t0 := time.Unix(1_700_000_000, 0)

	now := record(t, r.c, t0, 2)
	if st := r.c.Status(); st.Retained != r.path {
		t.Fatalf("Retained = %q, want %q", st.Retained, r.path)
	}
	if err := os.Remove(r.path); err != nil {
		t.Fatal(err)
	}

	if err := r.c.Retry(context.Background(), now); err != nil {
		t.Fatalf("Retry() error = %v, want nil", err)
	}
	st := r.c.Status()
	if st.Retained != "" {
		t.Errorf("Retained = %q after the file vanished, want empty", st.Retained)
	}
	if err := r.c.Retry(context.Background(), now); !errors.Is(err, ErrNothingToRetry) {
		t.Errorf("second Retry() error = %v, want ErrNothingToRetry", err)
	}
}

func TestController_CancelSkipsUpload(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusOK, nil)
	r.c.deps.Trigger = nil
	t0 := time.Unix(1_700_000_000, 0)

	if err := r.c.Cancel(t0); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Cancel() while idle error = %v, want ErrNotRecording", err)
	}
	if err := r.c.Start(t0); err != nil {
		t.Fatal(err)
	}
	r.c.Tick(context.Background(), t0)
	if err := r.c.Cancel(t0.Add(tick)); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	st := r.c.Status()
	if st.State != StateIdle || st.LastStop != StopCancel {
		t.Errorf("State = %s LastStop = %q, want IDLE cancel", st.State, st.LastStop)
	}
	if r.srv.hits.Load() != 0 {
		t.Error("cancelled session was uploaded")
	}
}

func TestLoop_Commands(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusOK, nil)
	l := NewLoop(r.c, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	send := func(typ string) CommandResult {
		t.Helper()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		res, err := l.Send(sctx, typ)
		if err != nil {
			t.Fatalf("Send(%s) error = %v", typ, err)
		}
		return res
	}

	if res := send("start"); !res.OK || res.State != StateRecording {
		t.Fatalf("start = %+v", res)
	}
	time.Sleep(30 * time.Millisecond)
	if res := send("stop"); !res.OK || res.State != StateIdle {
		t.Fatalf("stop = %+v", res)
	}
	if res := send("stop"); !res.OK || res.Message != "not recording" {
		t.Errorf("second stop = %+v", res)
	}
	if res := send("rewind"); res.OK {
		t.Errorf("unknown command = %+v, want error", res)
	}

	cancel()
	<-done
	if r.srv.hits.Load() != 1 {
		t.Errorf("uploads = %d, want 1", r.srv.hits.Load())
	}
}

func TestLoop_DropsCommandsTheCallerGaveUpOn(t *testing.T) {
	t.Parallel()

	r := newRig(t, http.StatusOK, nil)
	l := NewLoop(r.c, 5*time.Millisecond)

	// The loop is busy (not running yet), so the start command only queues.
	sctx, scancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err := l.Send(sctx, "start")
	scancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send(start) error = %v, want deadline exceeded", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Commands run in order, so this answer comes after the stale start.
	res, err := l.Send(context.Background(), "stop")
	if err != nil {
		t.Fatalf("Send(stop) error = %v", err)
	}
	if res.State != StateIdle || res.Message != "not recording" {
		t.Errorf("stop after a timed-out start = %+v, want IDLE not recording", res)
	}
}
