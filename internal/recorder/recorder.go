// Package recorder runs the recording session state machine. One Controller
// owns the microphone source, the conditioning chain and the container
// writer for the lifetime of a session; it is driven by Tick from a single
// cooperative loop.
//
// Lifecycle of a session:
//  1. IDLE: a start edge opens the container and flushes stale audio
//  2. RECORDING: every tick pulls one quantum, conditions it and appends it
//  3. FINALIZING: a stop edge or the duration limit patches the header
//  4. UPLOADING: the file is posted once; success removes it
//  5. back to IDLE
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/pocketmic/internal/dsp"
	"github.com/large-farva/pocketmic/internal/indicator"
	"github.com/large-farva/pocketmic/internal/mic"
	"github.com/large-farva/pocketmic/internal/telemetry"
	"github.com/large-farva/pocketmic/internal/upload"
)

// State is the controller's operating state.
type State string

const (
	StateIdle       State = "IDLE"
	StateRecording  State = "RECORDING"
	StateFinalizing State = "FINALIZING"
	StateUploading  State = "UPLOADING"
)

// Reasons a session ended.
const (
	StopRelease     = "release"
	StopMaxDuration = "max_duration"
	StopManual      = "manual"
	StopCancel      = "cancel"
	StopShutdown    = "shutdown"
)

// Trigger supplies debounced start/stop edges.
type Trigger interface {
	Poll(now time.Time) bool
	Pressed() bool
}

// Conditioner processes one buffer in place.
type Conditioner interface {
	Process(buf []int16)
	Reset()
	Stages() []string
}

// Container is the incremental file writer.
type Container interface {
	Open(path string) error
	Append(samples []int16) error
	Finalize() error
	Abort() error
	BytesWritten() uint32
}

// Uploader sends one finished file.
type Uploader interface {
	Upload(ctx context.Context, path string) (upload.Outcome, error)
}

// Config holds the session parameters. It is fixed for the controller's
// lifetime.
type Config struct {
	FilePath    string
	Quantum     int
	MaxDuration time.Duration
	AsyncUpload bool
}

// Deps are the collaborators the controller drives. Trigger may be nil when
// sessions are only started through Start and Stop.
type Deps struct {
	Trigger   Trigger
	Source    mic.Source
	Chain     Conditioner
	Writer    Container
	Uploader  Uploader
	Indicator indicator.Indicator
	Log       logrus.FieldLogger

	// Notify receives telemetry events. Optional.
	Notify func(v any)
}

// Session describes the active recording.
type Session struct {
	Active       bool      `json:"active"`
	StartedAt    time.Time `json:"started_at"`
	BytesWritten uint32    `json:"bytes_written"`
}

// UploadResult is the last upload attempt as seen by the controller.
type UploadResult struct {
	At         time.Time `json:"at"`
	Path       string    `json:"path"`
	OK         bool      `json:"ok"`
	StatusCode int       `json:"status_code"`
	Bytes      int64     `json:"bytes"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Counters accumulate over the controller's lifetime.
type Counters struct {
	Sessions       uint64 `json:"sessions"`
	Uploaded       uint64 `json:"uploaded"`
	UploadFailures uint64 `json:"upload_failures"`
	Aborted        uint64 `json:"aborted"`
}

// Status is a point-in-time snapshot safe to hand to other goroutines.
type Status struct {
	State      State         `json:"state"`
	Session    Session       `json:"session"`
	ElapsedMS  int64         `json:"elapsed_ms"`
	Level      float64       `json:"level"`
	Overruns   uint64        `json:"overruns"`
	Pattern    string        `json:"indicator"`
	LastStop   string        `json:"last_stop,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	LastUpload *UploadResult `json:"last_upload,omitempty"`
	Retained   string        `json:"retained,omitempty"`
	Counters   Counters      `json:"counters"`
}

type asyncResult struct {
	path string
	out  upload.Outcome
	err  error
}

// Controller is the recording session state machine.
type Controller struct {
	cfg  Config
	deps Deps
	log  logrus.FieldLogger

	// buf is the single raw sample buffer, reused every tick.
	buf []int16

	results chan asyncResult

	// Fields below are written only by the loop goroutine and read by
	// Status under mu.
	mu           sync.Mutex
	state        State
	session      Session
	now          time.Time
	level        float64
	pattern      indicator.Pattern
	lastStop     string
	lastErr      string
	lastUpload   *UploadResult
	retained     string
	counters     Counters
	overrunBase  uint64
	overruns     uint64
	lastProgress time.Time
}

// New allocates the sample buffer. cfg.Quantum defaults to 1024 samples and
// cfg.MaxDuration to 30 seconds.
func New(cfg Config, deps Deps) *Controller {
	if cfg.Quantum <= 0 {
		cfg.Quantum = 1024
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 30 * time.Second
	}
	if deps.Indicator == nil {
		deps.Indicator = indicator.Func(func(indicator.Pattern) {})
	}
	if deps.Log == nil {
		deps.Log = logrus.New()
	}

	return &Controller{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.WithField("component", "recorder"),
		buf:     make([]int16, cfg.Quantum),
		results: make(chan asyncResult, 1),
		state:   StateIdle,
	}
}

// Tick runs one iteration of the cooperative loop.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()

	c.collectUpload(now)

	if c.deps.Trigger != nil && c.deps.Trigger.Poll(now) {
		if c.deps.Trigger.Pressed() {
			if err := c.Start(now); err != nil {
				c.log.WithError(err).Warn("start edge ignored")
			}
		} else {
			c.stop(ctx, now, StopRelease)
		}
	}

	if c.state != StateRecording {
		return
	}
	if now.Sub(c.session.StartedAt) > c.cfg.MaxDuration {
		c.log.WithField("max", c.cfg.MaxDuration.String()).Info("maximum duration reached")
		c.stop(ctx, now, StopMaxDuration)
		return
	}
	c.capture(ctx, now)
}

// Start opens a new session. Calling it while recording is a no-op;
// calling it while a previous upload is still pending returns ErrBusy.
func (c *Controller) Start(now time.Time) error {
	switch c.state {
	case StateRecording:
		return nil
	case StateIdle:
	default:
		return fmt.Errorf("%s: %w", c.state, ErrBusy)
	}

	c.deps.Chain.Reset()
	if err := c.deps.Writer.Open(c.cfg.FilePath); err != nil {
		err = fmt.Errorf("open recording: %w", err)
		c.log.WithError(err).Error("recording not started")
		c.fail(err)
		return err
	}
	c.setPattern(indicator.Recording)
	c.deps.Source.Flush()

	c.mu.Lock()
	c.session = Session{Active: true, StartedAt: now}
	c.level = 0
	c.retained = ""
	c.lastErr = ""
	c.counters.Sessions++
	c.overrunBase = c.sourceOverruns()
	c.overruns = 0
	c.lastProgress = now
	c.mu.Unlock()
	c.setState(StateRecording)

	c.log.WithFields(logrus.Fields{
		"path":   c.cfg.FilePath,
		"stages": c.deps.Chain.Stages(),
	}).Info("recording started")
	c.notify(telemetry.Session{
		Event:  telemetry.NewEvent(telemetry.EventSession, "recorder"),
		Action: "started",
		Path:   c.cfg.FilePath,
		Stages: c.deps.Chain.Stages(),
	})
	return nil
}

// Stop ends the active session, finalizes the container and uploads it.
// Calling it while not recording is a no-op.
func (c *Controller) Stop(ctx context.Context, now time.Time) {
	c.stop(ctx, now, StopManual)
}

// Cancel discards the active session without uploading.
func (c *Controller) Cancel(now time.Time) error {
	if c.state != StateRecording {
		return ErrNotRecording
	}
	_ = c.deps.Writer.Abort()
	c.endSession(now, "cancelled", StopCancel, nil)
	c.setPattern(indicator.Idle)
	c.setState(StateIdle)
	return nil
}

// Retry uploads a finished recording kept after a failed upload.
func (c *Controller) Retry(ctx context.Context, now time.Time) error {
	if c.state != StateIdle {
		return fmt.Errorf("%s: %w", c.state, ErrBusy)
	}
	c.mu.Lock()
	path := c.retained
	c.mu.Unlock()
	if path == "" {
		return ErrNothingToRetry
	}
	c.beginUpload(ctx, now, path)
	return nil
}

// Shutdown aborts an active session. A pending asynchronous upload is left
// to finish or fail with its context.
func (c *Controller) Shutdown(now time.Time) {
	if c.state != StateRecording {
		return
	}
	_ = c.deps.Writer.Abort()
	c.endSession(now, "aborted", StopShutdown, nil)
	c.setPattern(indicator.Idle)
	c.setState(StateIdle)
}

func (c *Controller) capture(ctx context.Context, now time.Time) {
	n, err := c.deps.Source.Fill(ctx, c.buf)
	if err != nil {
		c.abort(now, fmt.Errorf("acquire audio: %w", err))
		return
	}

	block := c.buf[:n]
	c.deps.Chain.Process(block)
	level := dsp.RMS(block)

	if err := c.deps.Writer.Append(block); err != nil {
		c.abort(now, fmt.Errorf("write recording: %w", err))
		return
	}

	c.mu.Lock()
	c.session.BytesWritten = c.deps.Writer.BytesWritten()
	c.level = level
	c.overruns = c.sourceOverruns() - c.overrunBase
	report := now.Sub(c.lastProgress) >= time.Second
	if report {
		c.lastProgress = now
	}
	elapsed := now.Sub(c.session.StartedAt)
	bytes := c.session.BytesWritten
	c.mu.Unlock()

	if report {
		pct := float64(elapsed) / float64(c.cfg.MaxDuration) * 100
		if pct > 100 {
			pct = 100
		}
		c.notify(telemetry.Progress{
			Event:   telemetry.NewEvent(telemetry.EventProgress, "recorder"),
			Stage:   "recording",
			Percent: pct,
			Detail:  fmt.Sprintf("%d bytes, %s", bytes, elapsed.Truncate(time.Second)),
			Level:   level,
		})
	}
}

func (c *Controller) stop(ctx context.Context, now time.Time, reason string) {
	if c.state != StateRecording {
		return
	}
	c.setState(StateFinalizing)

	if err := c.deps.Writer.Finalize(); err != nil {
		c.abort(now, fmt.Errorf("finalize recording: %w", err))
		return
	}
	c.endSession(now, "stopped", reason, nil)
	c.beginUpload(ctx, now, c.cfg.FilePath)
}

func (c *Controller) beginUpload(ctx context.Context, now time.Time, path string) {
	c.setPattern(indicator.Uploading)
	c.setState(StateUploading)

	if c.cfg.AsyncUpload {
		go func() {
			out, err := c.deps.Uploader.Upload(ctx, path)
			c.results <- asyncResult{path: path, out: out, err: err}
		}()
		return
	}

	out, err := c.deps.Uploader.Upload(ctx, path)
	c.finishUpload(now, path, out, err)
}

// collectUpload picks up a finished asynchronous upload, if any.
func (c *Controller) collectUpload(now time.Time) {
	if c.state != StateUploading {
		return
	}
	select {
	case r := <-c.results:
		c.finishUpload(now, r.path, r.out, r.err)
	default:
	}
}

func (c *Controller) finishUpload(now time.Time, path string, out upload.Outcome, err error) {
	res := &UploadResult{
		At:         now,
		Path:       path,
		OK:         err == nil,
		StatusCode: out.StatusCode,
		Bytes:      out.Bytes,
		Response:   out.Body,
	}
	if err != nil {
		res.Error = err.Error()
	}

	c.mu.Lock()
	c.lastUpload = res
	if err == nil {
		c.counters.Uploaded++
		c.retained = ""
	} else {
		c.counters.UploadFailures++
		c.retained = path
		if errors.Is(err, upload.ErrMissingFile) {
			c.retained = ""
		}
		c.lastErr = res.Error
	}
	c.mu.Unlock()

	c.notify(telemetry.Upload{
		Event:      telemetry.NewEvent(telemetry.EventUpload, "recorder"),
		Path:       path,
		OK:         res.OK,
		StatusCode: res.StatusCode,
		Bytes:      res.Bytes,
		ElapsedMS:  out.Elapsed.Milliseconds(),
		Response:   res.Response,
		Error:      res.Error,
	})

	if err != nil {
		c.log.WithError(err).WithField("status", out.StatusCode).Error("upload failed, recording kept")
		c.setPattern(indicator.Failure)
	} else {
		c.setPattern(indicator.Success)
	}
	c.setState(StateIdle)
}

// abort ends the session after an acquisition or storage error. The file
// is closed without finalizing and nothing is uploaded.
func (c *Controller) abort(now time.Time, err error) {
	_ = c.deps.Writer.Abort()
	c.log.WithError(err).Error("recording aborted")
	c.endSession(now, "aborted", "", err)
	c.fail(err)
}

// fail reports an error that left the controller idle.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.setPattern(indicator.Failure)
	c.setState(StateIdle)
}

func (c *Controller) endSession(now time.Time, action, reason string, err error) {
	c.mu.Lock()
	elapsed := now.Sub(c.session.StartedAt)
	bytes := c.session.BytesWritten
	c.session.Active = false
	if reason != "" {
		c.lastStop = reason
	}
	if err != nil {
		c.counters.Aborted++
	}
	c.mu.Unlock()

	ev := telemetry.Session{
		Event:     telemetry.NewEvent(telemetry.EventSession, "recorder"),
		Action:    action,
		Reason:    reason,
		Path:      c.cfg.FilePath,
		Bytes:     bytes,
		ElapsedMS: elapsed.Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.notify(ev)

	c.log.WithFields(logrus.Fields{
		"action":  action,
		"reason":  reason,
		"bytes":   bytes,
		"elapsed": elapsed.Truncate(time.Millisecond).String(),
	}).Info("recording ended")
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	old := c.state
	c.state = s
	c.mu.Unlock()
	if old == s {
		return
	}
	c.notify(telemetry.StateTransition{
		Event: telemetry.NewEvent(telemetry.EventState, "recorder"),
		From:  string(old),
		To:    string(s),
	})
}

func (c *Controller) setPattern(p indicator.Pattern) {
	c.mu.Lock()
	c.pattern = p
	c.mu.Unlock()
	c.deps.Indicator.Set(p)
}

func (c *Controller) notify(v any) {
	if c.deps.Notify != nil {
		c.deps.Notify(v)
	}
}

type overrunCounter interface {
	Overruns() uint64
}

func (c *Controller) sourceOverruns() uint64 {
	if oc, ok := c.deps.Source.(overrunCounter); ok {
		return oc.Overruns()
	}
	return 0
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:     c.state,
		Session:   c.session,
		Level:     c.level,
		Overruns:  c.overruns,
		Pattern:   c.pattern.String(),
		LastStop:  c.lastStop,
		LastError: c.lastErr,
		Retained:  c.retained,
		Counters:  c.counters,
	}
	if c.session.Active {
		st.ElapsedMS = c.now.Sub(c.session.StartedAt).Milliseconds()
	}
	if c.lastUpload != nil {
		u := *c.lastUpload
		st.LastUpload = &u
	}
	return st
}
