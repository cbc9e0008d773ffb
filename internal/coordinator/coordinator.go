// Package coordinator polls a gateway's resource graph and publishes the
// result as an immutable, path-keyed Snapshot.
//
// One cycle crawls the root set sequentially. Failures on optional paths
// are skipped; failures on the primary root fail the cycle, and an
// authorization failure there stops polling until the user logs in again.
// Cycles never overlap: concurrent Refresh calls share the cycle in flight.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default scheduling.
const (
	DefaultInterval     = 60 * time.Second
	DefaultCycleTimeout = 120 * time.Second
)

const cycleKey = "cycle"

// flight is the cycle in progress. Its context is detached from the caller
// that started it and is canceled only once every waiter has given up.
type flight struct {
	waiters int
	cancel  context.CancelFunc
}

// Options configures a Coordinator. Zero fields take defaults.
type Options struct {
	Name         string // label for logs, usually the device id
	Roots        []string
	PrimaryRoot  string
	Interval     time.Duration
	CycleTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if len(o.Roots) == 0 {
		o.Roots = DefaultRoots
	}

	if o.PrimaryRoot == "" {
		o.PrimaryRoot = DefaultPrimaryRoot
	}

	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}

	if o.CycleTimeout <= 0 {
		o.CycleTimeout = DefaultCycleTimeout
	}

	o.Roots = slices.Clone(o.Roots)

	return o
}

// CycleResult describes one finished cycle, successful or not.
type CycleResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Fetched   int  // successful requests
	Skipped   int  // optional paths that failed
	Paths     int  // paths in the published snapshot
	Changed   bool // snapshot content differs from the previous one
	Err       error

	// Snapshot is the snapshot this cycle published, changed or not. Nil
	// when the cycle failed.
	Snapshot *Snapshot
}

// Stats is a point-in-time copy of the coordinator counters.
type Stats struct {
	CyclesSucceeded int64
	CyclesFailed    int64
	PathsSkipped    int64
}

type counters struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// Coordinator owns the published snapshot of one gateway.
type Coordinator struct {
	fetcher Fetcher
	opts    Options
	logger  *slog.Logger

	current atomic.Pointer[Snapshot]
	group   singleflight.Group

	flightMu sync.Mutex
	inFlight *flight

	// refreshCh carries out-of-band refresh requests to Run. Capacity 1
	// coalesces bursts into a single extra cycle.
	refreshCh chan struct{}

	mu          sync.Mutex
	listeners   map[int]func(*Snapshot)
	observers   map[int]func(CycleResult)
	nextID      int
	lastErr     error
	lastSuccess time.Time

	stats counters

	nowFunc func() time.Time
}

// New creates a Coordinator reading through fetcher.
func New(fetcher Fetcher, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	opts = opts.withDefaults()

	return &Coordinator{
		fetcher:   fetcher,
		opts:      opts,
		logger:    logger.With(slog.String("device", opts.Name)),
		refreshCh: make(chan struct{}, 1),
		listeners: make(map[int]func(*Snapshot)),
		observers: make(map[int]func(CycleResult)),
		nowFunc:   time.Now,
	}
}

// Options returns the effective options.
func (c *Coordinator) Options() Options {
	return c.opts
}

// Snapshot returns the most recently published snapshot, nil before the
// first successful cycle.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.current.Load()
}

// Seed installs a snapshot restored from storage. It has no effect once a
// snapshot has been published. Listeners are not notified.
func (c *Coordinator) Seed(s *Snapshot) bool {
	if s == nil {
		return false
	}

	return c.current.CompareAndSwap(nil, s)
}

// Available reports whether the last cycle succeeded and a snapshot exists.
func (c *Coordinator) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr == nil && !c.lastSuccess.IsZero()
}

// LastError returns the error of the most recent cycle, nil after success.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// LastSuccess is when the most recent successful cycle started.
func (c *Coordinator) LastSuccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastSuccess
}

// Stats returns a copy of the counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		CyclesSucceeded: c.stats.succeeded.Load(),
		CyclesFailed:    c.stats.failed.Load(),
		PathsSkipped:    c.stats.skipped.Load(),
	}
}

// Subscribe registers fn to receive every published snapshot whose content
// changed. fn runs on the polling goroutine and must not block. The
// returned func unregisters it.
func (c *Coordinator) Subscribe(fn func(*Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		delete(c.listeners, id)
	}
}

// OnCycle registers fn to receive the result of every finished cycle.
func (c *Coordinator) OnCycle(fn func(CycleResult)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.observers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		delete(c.observers, id)
	}
}

// RequestRefresh asks Run for an extra cycle as soon as possible. It never
// blocks; requests made while one is already pending are merged.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Refresh runs one cycle now and returns the published snapshot. If a
// cycle is already running the caller waits for that one instead. A caller
// that gives up does not cancel the cycle for the others.
func (c *Coordinator) Refresh(ctx context.Context) (*Snapshot, error) {
	ch, fl := c.join(ctx)

	select {
	case res := <-ch:
		c.leave(fl, false)

		if res.Err != nil {
			return nil, res.Err
		}

		snap, _ := res.Val.(*Snapshot)

		return snap, nil
	case <-ctx.Done():
		c.leave(fl, true)

		return nil, fmt.Errorf("coordinator: refresh canceled: %w", ctx.Err())
	}
}

func (c *Coordinator) join(ctx context.Context) (<-chan singleflight.Result, *flight) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	fl := c.inFlight
	if fl == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{cancel: cancel}
		c.inFlight = fl

		ch := c.group.DoChan(cycleKey, func() (any, error) {
			defer func() {
				c.flightMu.Lock()
				c.group.Forget(cycleKey)
				c.inFlight = nil
				c.flightMu.Unlock()

				cancel()
			}()

			return c.cycle(fctx)
		})
		fl.waiters++

		return ch, fl
	}

	fl.waiters++

	// inFlight is cleared only after Forget, so this joins the running call.
	return c.group.DoChan(cycleKey, nil), fl
}

func (c *Coordinator) leave(fl *flight, gaveUp bool) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	fl.waiters--
	if gaveUp && fl.waiters == 0 {
		fl.cancel()
	}
}

// Run polls until ctx is canceled, starting with an immediate cycle and
// then waiting Interval after each one (or less, if RequestRefresh is
// called). Failed cycles are logged and polling continues, except for an
// authentication failure, which stops the loop and is returned. Returns nil
// on cancellation.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting",
		slog.Duration("interval", c.opts.Interval),
		slog.Duration("cycle_timeout", c.opts.CycleTimeout),
		slog.Int("roots", len(c.opts.Roots)),
	)

	for {
		if _, err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if IsAuthFailure(err) {
				c.logger.Error("authentication failed, polling stopped until re-login",
					slog.String("error", err.Error()),
				)

				return err
			}

			c.logger.Warn("poll cycle failed", slog.String("error", err.Error()))
		}

		if !c.wait(ctx) {
			c.logger.Info("coordinator stopped")
			return nil
		}
	}
}

func (c *Coordinator) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.opts.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-c.refreshCh:
		c.logger.Debug("refresh requested")
		return true
	}
}

func (c *Coordinator) cycle(ctx context.Context) (*Snapshot, error) {
	start := c.nowFunc()

	cctx, cancel := context.WithTimeout(ctx, c.opts.CycleTimeout)
	defer cancel()

	res, err := crawl(cctx, c.fetcher, c.opts.Roots, c.opts.PrimaryRoot, c.logger)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a failed cycle.
			return nil, ctx.Err()
		}

		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = &UpdateError{Err: fmt.Errorf("cycle exceeded %s: %w", c.opts.CycleTimeout, context.DeadlineExceeded)}
		}

		c.finish(CycleResult{StartedAt: start, Duration: c.nowFunc().Sub(start), Err: err}, nil)

		return nil, err
	}

	snap := NewSnapshot(res.nodes, start)
	prev := c.current.Swap(snap)
	changed := prev == nil || !prev.SameContent(snap)

	c.stats.skipped.Add(int64(res.skipped))

	c.logger.Debug("poll cycle complete",
		slog.Int("paths", snap.Len()),
		slog.Int("skipped", res.skipped),
		slog.Bool("changed", changed),
		slog.Duration("duration", c.nowFunc().Sub(start)),
	)

	result := CycleResult{
		StartedAt: start,
		Duration:  c.nowFunc().Sub(start),
		Fetched:   res.fetched,
		Skipped:   res.skipped,
		Paths:     snap.Len(),
		Changed:   changed,
		Snapshot:  snap,
	}

	var notify *Snapshot
	if changed {
		notify = snap
	}

	c.finish(result, notify)

	return snap, nil
}

// finish records the outcome and calls observers, then listeners if snap
// is non-nil. Callbacks run outside the lock.
func (c *Coordinator) finish(result CycleResult, snap *Snapshot) {
	c.mu.Lock()

	c.lastErr = result.Err
	if result.Err == nil {
		c.lastSuccess = result.StartedAt
		c.stats.succeeded.Add(1)
	} else {
		c.stats.failed.Add(1)
	}

	observers := make([]func(CycleResult), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}

	var listeners []func(*Snapshot)
	if snap != nil {
		listeners = make([]func(*Snapshot), 0, len(c.listeners))
		for _, fn := range c.listeners {
			listeners = append(listeners, fn)
		}
	}

	c.mu.Unlock()

	for _, fn := range observers {
		fn(result)
	}

	for _, fn := range listeners {
		fn(snap)
	}
}
