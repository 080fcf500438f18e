// Package mic adapts a streaming microphone driver to the blocking
// "fill this buffer" call the recorder needs.
//
// A Ring models the DMA buffering of an I2S peripheral: a fixed pool of
// slabs is filled by a pump goroutine and drained by the consumer. When the
// consumer falls behind, the oldest filled slab is recycled and counted as
// an overrun, the same way the hardware would overwrite it.
//
// A failed driver read is handed to the Fill waiting at that moment and the
// pump retries with backoff, so one fault ends one session and not the
// source.
package mic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Source is what the recorder pulls samples from.
type Source interface {
	// Fill blocks until len(dst) samples have been copied or the wait for
	// the next hardware buffer fails. It returns the samples copied.
	Fill(ctx context.Context, dst []int16) (int, error)
	// Flush discards audio buffered before the call.
	Flush()
	Close() error
}

// Driver produces raw samples. Read must fill dst completely or fail.
type Driver interface {
	Read(ctx context.Context, dst []int16) error
	Close() error
}

// RingConfig sizes the buffer pool. It is applied once at construction.
type RingConfig struct {
	BufCount int
	BufLen   int
	Timeout  time.Duration
}

// Retry delays after a failed driver read.
const (
	retryMin = 50 * time.Millisecond
	retryMax = 5 * time.Second
)

// DefaultRingConfig mirrors the I2S DMA setup of the reference hardware:
// 16 buffers of 256 samples and a one second read timeout.
func DefaultRingConfig() RingConfig {
	return RingConfig{BufCount: 16, BufLen: 256, Timeout: time.Second}
}

// Ring is a Source backed by a pool of fixed-size slabs.
type Ring struct {
	drv     Driver
	timeout time.Duration

	free chan []int16
	full chan []int16

	// consumer side, only touched by Fill and Flush
	cur []int16
	off int

	overruns atomic.Uint64

	// errc holds the newest driver error not yet seen by Fill.
	errc chan error

	done   chan struct{}
	errMu  sync.Mutex
	err    error // set while the driver is failing, cleared by a good read
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRing allocates the slab pool and starts pumping drv.
func NewRing(drv Driver, cfg RingConfig) *Ring {
	def := DefaultRingConfig()
	if cfg.BufCount <= 0 {
		cfg.BufCount = def.BufCount
	}
	if cfg.BufLen <= 0 {
		cfg.BufLen = def.BufLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	r := &Ring{
		drv:     drv,
		timeout: cfg.Timeout,
		free:    make(chan []int16, cfg.BufCount),
		full:    make(chan []int16, cfg.BufCount),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	for i := 0; i < cfg.BufCount; i++ {
		r.free <- make([]int16, cfg.BufLen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.pump(ctx)
	return r
}

func (r *Ring) pump(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.done)

	backoff := retryMin
	for {
		var slab []int16
		select {
		case slab = <-r.free:
		case <-ctx.Done():
			return
		default:
			// Nothing free: the consumer is behind. Reclaim the oldest
			// filled slab if there is one.
			select {
			case slab = <-r.full:
				r.overruns.Add(1)
			case slab = <-r.free:
			case <-ctx.Done():
				return
			}
		}

		if err := r.drv.Read(ctx, slab); err != nil {
			r.free <- slab
			if ctx.Err() != nil {
				return
			}
			r.setErr(err)
			r.report(err)

			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
			backoff = min(backoff*2, retryMax)
			continue
		}
		backoff = retryMin
		r.setErr(nil)
		r.full <- slab
	}
}

func (r *Ring) setErr(err error) {
	r.errMu.Lock()
	r.err = err
	r.errMu.Unlock()
}

// report replaces any unseen error with err.
func (r *Ring) report(err error) {
	for {
		select {
		case r.errc <- err:
			return
		default:
		}
		select {
		case <-r.errc:
		default:
		}
	}
}

// Fill copies len(dst) samples from filled slabs, waiting at most the
// configured timeout for each slab.
func (r *Ring) Fill(ctx context.Context, dst []int16) (int, error) {
	n := 0
	for n < len(dst) {
		if r.cur == nil {
			slab, err := r.next(ctx)
			if err != nil {
				return n, err
			}
			r.cur, r.off = slab, 0
		}

		c := copy(dst[n:], r.cur[r.off:])
		n += c
		r.off += c
		if r.off == len(r.cur) {
			r.free <- r.cur
			r.cur = nil
		}
	}
	return n, nil
}

func (r *Ring) next(ctx context.Context) ([]int16, error) {
	select {
	case slab := <-r.full:
		return slab, nil
	default:
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case slab := <-r.full:
		return slab, nil
	case err := <-r.errc:
		return nil, fmt.Errorf("microphone driver: %w", err)
	case <-r.done:
		select {
		case slab := <-r.full:
			return slab, nil
		default:
		}
		return nil, ErrClosed
	case <-timer.C:
		return nil, fmt.Errorf("after %s: %w", r.timeout, ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the last driver error, or nil once a read has succeeded
// again.
func (r *Ring) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Flush returns every filled slab, and the partially consumed one, to the
// free pool, and forgets driver errors nobody has seen yet.
func (r *Ring) Flush() {
	if r.cur != nil {
		r.free <- r.cur
		r.cur = nil
	}
	select {
	case <-r.errc:
	default:
	}
	for {
		select {
		case slab := <-r.full:
			r.free <- slab
		default:
			return
		}
	}
}

// Overruns counts slabs recycled before the consumer read them.
func (r *Ring) Overruns() uint64 { return r.overruns.Load() }

// Close stops the pump and closes the driver. Fill returns ErrClosed once
// the remaining slabs are drained.
func (r *Ring) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
		err = r.drv.Close()
	})
	return err
}
