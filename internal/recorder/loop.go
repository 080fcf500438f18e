package recorder

import (
	"context"
	"errors"
	"time"
)

// Command represents an external command sent to the loop via its Commands
// channel. The Reply channel receives at most one result: a command whose
// Ctx is done by the time the loop reaches it is dropped unexecuted.
type Command struct {
	Ctx   context.Context
	Type  string // start, stop, cancel, retry
	Reply chan<- CommandResult
}

// CommandResult is the response sent back through a Command's Reply channel.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	State   State  `json:"state"`
}

// Loop is the single cooperative loop: it ticks the controller on a fixed
// period and serves commands between ticks, so the controller is only ever
// touched from one goroutine.
type Loop struct {
	C        *Controller
	Interval time.Duration

	// Commands receives external commands from HTTP handlers.
	Commands chan Command
}

// NewLoop ticks c every interval (10ms when non-positive).
func NewLoop(c *Controller, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &Loop{
		C:        c,
		Interval: interval,
		Commands: make(chan Command, 4),
	}
}

// Run blocks until ctx is cancelled. An active session is aborted on exit.
func (l *Loop) Run(ctx context.Context) {
	t := time.NewTicker(l.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			l.C.Shutdown(time.Now())
			return
		case now := <-t.C:
			l.C.Tick(ctx, now)
		case cmd := <-l.Commands:
			l.handleCommand(ctx, cmd)
		}
	}
}

// Send queues a command and waits for its result.
func (l *Loop) Send(ctx context.Context, typ string) (CommandResult, error) {
	reply := make(chan CommandResult, 1)
	select {
	case l.Commands <- Command{Ctx: ctx, Type: typ, Reply: reply}:
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// handleCommand dispatches an incoming command to the controller.
func (l *Loop) handleCommand(ctx context.Context, cmd Command) {
	if cmd.Ctx != nil && cmd.Ctx.Err() != nil {
		return
	}
	now := time.Now()
	var err error
	var msg string

	switch cmd.Type {
	case "start":
		if l.C.State() == StateRecording {
			msg = "already recording"
		} else if err = l.C.Start(now); err == nil {
			msg = "recording started"
		}
	case "stop":
		if l.C.State() != StateRecording {
			msg = "not recording"
		} else {
			l.C.Stop(ctx, now)
			msg = "recording stopped"
		}
	case "cancel":
		if err = l.C.Cancel(now); err == nil {
			msg = "recording cancelled"
		}
	case "retry":
		if err = l.C.Retry(ctx, now); err == nil {
			msg = "upload retried"
		}
	default:
		err = errors.New("unknown command: " + cmd.Type)
	}

	res := CommandResult{OK: err == nil, Message: msg, State: l.C.State()}
	if err != nil {
		res.Error = err.Error()
	}
	cmd.Reply <- res
}
