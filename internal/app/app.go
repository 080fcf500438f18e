// Package app wires together the HTTP server, WebSocket hub, the recording
// pipeline and, optionally, the demo runner. It owns the daemon's lifecycle
// and is the single source of truth for the current operating phase.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/large-farva/pocketmic/internal/config"
	"github.com/large-farva/pocketmic/internal/demo"
	"github.com/large-farva/pocketmic/internal/dsp"
	"github.com/large-farva/pocketmic/internal/indicator"
	"github.com/large-farva/pocketmic/internal/mic"
	"github.com/large-farva/pocketmic/internal/recorder"
	"github.com/large-farva/pocketmic/internal/telemetry"
	"github.com/large-farva/pocketmic/internal/trigger"
	"github.com/large-farva/pocketmic/internal/upload"
	"github.com/large-farva/pocketmic/internal/wavfile"
	"github.com/large-farva/pocketmic/internal/ws"
)

// Daemon phases. While RUNNING the recorder's own state is reported too.
const (
	PhaseBooting = "BOOTING"
	PhaseRunning = "RUNNING"
	PhaseFault   = "FAULT"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *logrus.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string
}

// App is the top-level daemon process. It manages the HTTP server, the
// WebSocket event hub and the recorder loop.
type App struct {
	log        *logrus.Logger
	cfg        config.Config
	configPath string
	bind       string
	server     *http.Server

	startedAt time.Time
	phase     atomic.Value // BOOTING, RUNNING or FAULT
	fault     atomic.Value // init error message, empty when healthy

	wsHub   *ws.Hub
	logs    *logBuffer
	button  *trigger.Switch
	led     atomic.Bool
	blinker *indicator.Blinker

	// Set by setup.
	ring      *mic.Ring
	ctl       *recorder.Controller
	loop      *recorder.Loop
	indicator indicator.Multi
	mqtt      mqtt.Client
	demo      *demo.Runner
}

// New creates an App in the BOOTING phase. Call Run to start serving.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	a := &App{
		log:        logger,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		bind:       opts.Bind,
		startedAt:  time.Now(),
		wsHub:      ws.NewHub(),
		button:     &trigger.Switch{},
	}
	a.logs = newLogBuffer(500, a.wsHub)
	logger.AddHook(a.logs)

	a.blinker = indicator.NewBlinker(a.led.Store, nil)
	a.indicator = indicator.Multi{a.blinker, indicator.Events{Hub: a.wsHub, Component: "indicator"}}
	a.phase.Store(PhaseBooting)
	a.fault.Store("")
	return a
}

// Run starts the HTTP server, WebSocket hub, heartbeat ticker and the
// recorder loop. It blocks until the context is cancelled or the server
// returns an error. A pipeline that fails to initialize leaves the daemon
// serving status in the FAULT phase with the indicator playing SOS.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" && a.cfg.Server.Bind != "" {
		bind = a.cfg.Server.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8080"
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	a.log.WithField("component", "pocketmicd").Infof("listening on http://%s", bind)

	go a.wsHub.Run(ctx)
	go a.heartbeatLoop(ctx)

	go a.blinkLoop(ctx)

	loopDone := make(chan struct{})
	if err := a.setup(ctx); err != nil {
		a.enterFault(err)
		close(loopDone)
	} else {
		a.transition(PhaseRunning)
		a.indicator.Set(indicator.Ready)
		go func() {
			defer close(loopDone)
			a.loop.Run(ctx)
		}()
		if a.demo != nil {
			go a.demo.Run(ctx)
		}
	}

	go func() {
		<-ctx.Done()
		a.log.WithField("component", "pocketmicd").Info("shutdown requested")
		_ = a.server.Shutdown(context.Background())
	}()

	err = a.server.Serve(ln)
	<-loopDone
	a.teardown()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// setup builds the recording pipeline from the configuration.
func (a *App) setup(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Indicator.MQTTEnabled {
		mcfg := indicator.MQTTConfig{
			Broker:   cfg.Indicator.MQTTBroker,
			ClientID: cfg.Indicator.MQTTClientID,
			Username: cfg.Indicator.MQTTUsername,
			Password: cfg.Indicator.MQTTPassword,
			Topic:    cfg.Indicator.MQTTTopic,
			DeviceID: cfg.Indicator.DeviceID,
		}
		client, err := indicator.Connect(mcfg, a.log)
		if err != nil {
			a.log.WithError(err).WithField("component", "mqtt").Warn("MQTT indicator disabled")
		} else {
			a.mqtt = client
			m := indicator.NewMQTT(client, mcfg, a.log)
			go m.Run(ctx)
			a.indicator = append(a.indicator, m)
		}
	}

	drv, err := mic.NewDriver(ctx, mic.Options{
		Source:     cfg.Audio.Source,
		SampleRate: cfg.Audio.SampleRate,
		ToneHz:     cfg.Audio.ToneHz,
		WAVPath:    cfg.Audio.WAVPath,
		Command:    cfg.Audio.Command,
	})
	if err != nil {
		return fmt.Errorf("audio source %s: %w", cfg.Audio.Source, err)
	}
	a.ring = mic.NewRing(drv, mic.RingConfig{
		BufCount: cfg.Audio.DMABufCount,
		BufLen:   cfg.Audio.DMABufLen,
		Timeout:  cfg.Audio.ReadTimeout(),
	})

	c := cfg.Conditioning
	chain := dsp.NewChain(dsp.Options{
		SampleRate:      cfg.Audio.SampleRate,
		HighPassEnabled: c.HighPassEnabled,
		HighPassCutoff:  c.HighPassCutoffHz,
		AGCEnabled:      c.AGCEnabled,
		AGC: dsp.AGCConfig{
			TargetVolume: c.AGCTarget,
			Attack:       c.AGCAttack,
			Release:      c.AGCRelease,
		},
		Gain: c.Gain,
	})

	store := wavfile.DirStorage{}
	uploader := upload.New(cfg.Upload.URL, store, time.Duration(cfg.Upload.TimeoutSeconds)*time.Second, a.log)

	a.ctl = recorder.New(recorder.Config{
		FilePath:    cfg.Recording.FilePath,
		Quantum:     cfg.Audio.ReadQuantum,
		MaxDuration: cfg.Recording.MaxDuration(),
		AsyncUpload: cfg.Upload.Async,
	}, recorder.Deps{
		Trigger:   trigger.NewDebouncer(a.button, cfg.Recording.Debounce()),
		Source:    a.ring,
		Chain:     chain,
		Writer:    wavfile.NewWriter(store, wavfile.Mono16(cfg.Audio.SampleRate)),
		Uploader:  uploader,
		Indicator: a.indicator,
		Log:       a.log,
		Notify:    a.wsHub.BroadcastJSON,
	})
	a.loop = recorder.NewLoop(a.ctl, cfg.Recording.Tick())

	if cfg.Demo.Enabled {
		r := demo.New(a.wsHub, a.button)
		if cfg.Demo.IntervalSeconds > 0 {
			r.Interval = time.Duration(cfg.Demo.IntervalSeconds) * time.Second
		}
		if cfg.Demo.PressSeconds > 0 {
			r.Hold = time.Duration(cfg.Demo.PressSeconds) * time.Second
		}
		a.demo = r
	}

	a.log.WithFields(logrus.Fields{
		"component": "pocketmicd",
		"source":    cfg.Audio.Source,
		"rate":      cfg.Audio.SampleRate,
		"stages":    chain.Stages(),
		"path":      cfg.Recording.FilePath,
		"upload":    cfg.Upload.URL,
	}).Info("pipeline ready")
	return nil
}

func (a *App) enterFault(err error) {
	a.fault.Store(err.Error())
	a.log.WithError(err).WithField("component", "pocketmicd").Error("pipeline failed to start")
	a.indicator.Set(indicator.SOS)
	a.transition(PhaseFault)
}

func (a *App) teardown() {
	if a.ring != nil {
		if err := a.ring.Close(); err != nil {
			a.log.WithError(err).WithField("component", "mic").Warn("close audio source")
		}
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
	}
}

// transition atomically updates the daemon phase and broadcasts the change
// to all connected WebSocket clients.
func (a *App) transition(newPhase string) {
	old := a.phase.Load().(string)
	if old == newPhase {
		return
	}
	a.phase.Store(newPhase)

	a.wsHub.BroadcastJSON(telemetry.StateTransition{
		Event: telemetry.NewEvent(telemetry.EventState, "pocketmicd"),
		From:  old,
		To:    newPhase,
	})
}

// sourceErr is the audio driver's current error while running.
func (a *App) sourceErr() error {
	if a.phase.Load().(string) != PhaseRunning || a.ring == nil {
		return nil
	}
	return a.ring.Err()
}

// state is the recorder state while running, otherwise the daemon phase.
func (a *App) state() string {
	phase := a.phase.Load().(string)
	if phase == PhaseRunning && a.ctl != nil {
		return string(a.ctl.State())
	}
	return phase
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.wsHub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.NewEvent(telemetry.EventHeartbeat, "pocketmicd"),
				State:         a.state(),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
			})
		}
	}
}

// blinkLoop advances the LED timeline. It runs apart from the recorder loop,
// which a synchronous upload can hold for the whole request.
func (a *App) blinkLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			a.blinker.Update(now)
		}
	}
}

// recordingDir is the directory holding the recording file.
func (a *App) recordingDir() string {
	return filepath.Dir(a.cfg.Recording.FilePath)
}
