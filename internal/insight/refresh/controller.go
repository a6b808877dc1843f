package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/internal/observability/metrics"
	"go.uber.org/zap"
)

// ComputeFunc produces a full snapshot as of asOf.
type ComputeFunc func(ctx context.Context, asOf time.Time) (domain.StatsSnapshot, error)

type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

var ErrClosed = errors.New("refresh_controller_closed")

// Controller owns the published StatsSnapshot. Refresh requests that arrive
// while a refresh runs collapse into at most one queued follow-up run, and
// each run replaces the snapshot atomically or not at all.
type Controller struct {
	compute ComputeFunc
	clock   clock.Clock
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.RefreshMetrics

	mu        sync.Mutex
	state     State
	pending   bool
	closed    bool
	requested uint64
	covering  uint64
	completed uint64
	done      chan struct{}
	lastErr   error
	wg        sync.WaitGroup

	snapshot   atomic.Pointer[domain.StatsSnapshot]
	generation atomic.Uint64
}

type Options struct {
	Clock   clock.Clock
	Timeout time.Duration
	Log     *zap.Logger
	Metrics *metrics.RefreshMetrics
}

func NewController(compute ComputeFunc, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Controller{
		compute: compute,
		clock:   opts.Clock,
		timeout: opts.Timeout,
		log:     opts.Log.Named("insight.refresh"),
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
}

// Request asks for a refresh without waiting for it.
func (c *Controller) Request(trigger string) {
	_, _ = c.request(trigger)
}

// RefreshAndWait requests a refresh and blocks until a run that started
// after the request finishes. Cancelling ctx stops the wait, never the run.
func (c *Controller) RefreshAndWait(ctx context.Context, trigger string) error {
	seq, err := c.request(trigger)
	if err != nil {
		return err
	}
	for {
		c.mu.Lock()
		if c.completed >= seq {
			err := c.lastErr
			c.mu.Unlock()
			return err
		}
		done := c.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) request(trigger string) (uint64, error) {
	c.metrics.IncRequest(trigger)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	c.requested++
	seq := c.requested

	switch {
	case c.state == StateIdle:
		c.state = StateRefreshing
		c.covering = seq
		c.wg.Add(1)
		go c.loop()
	case !c.pending:
		c.pending = true
	default:
		c.metrics.IncCoalesced()
	}
	return seq, nil
}

func (c *Controller) loop() {
	defer c.wg.Done()
	for {
		err := c.runOnce()

		c.mu.Lock()
		c.completed = c.covering
		if c.closed {
			// queued requests will never run
			c.completed = c.requested
		}
		c.lastErr = err
		close(c.done)
		c.done = make(chan struct{})
		if c.pending && !c.closed {
			c.pending = false
			c.covering = c.requested
			c.mu.Unlock()
			continue
		}
		c.pending = false
		c.state = StateIdle
		c.mu.Unlock()
		return
	}
}

func (c *Controller) runOnce() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	asOf := c.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: compute panicked: %v", domain.ErrPartialAggregation, r)
		}
		if err != nil {
			c.metrics.ObserveRun(time.Since(start), c.generation.Load(), err)
			c.log.Warn("stats refresh failed, keeping previous snapshot",
				zap.Uint64("generation", c.generation.Load()),
				zap.Error(err),
			)
		}
	}()

	snap, err := c.compute(ctx, asOf)
	if err != nil {
		return err
	}

	// Current must never pair the new snapshot with the previous run's error.
	c.mu.Lock()
	gen := c.generation.Add(1)
	snap.Generation = gen
	snap.ComputedAt = asOf
	c.snapshot.Store(&snap)
	c.lastErr = nil
	c.mu.Unlock()

	c.metrics.ObserveRun(time.Since(start), gen, nil)
	c.log.Debug("stats refreshed", zap.Uint64("generation", gen))
	return nil
}

// View is a consistent read of the controller's published state.
type View struct {
	Snapshot   *domain.StatsSnapshot
	Stale      bool
	LastError  error
	Refreshing bool
}

// Current returns the last published snapshot, which is nil until the
// first successful run, with the staleness of the most recent run.
func (c *Controller) Current() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Snapshot:   c.snapshot.Load(),
		Stale:      c.lastErr != nil,
		LastError:  c.lastErr,
		Refreshing: c.state == StateRefreshing,
	}
}

// Generation is the generation of the published snapshot; 0 before the
// first successful run.
func (c *Controller) Generation() uint64 {
	return c.generation.Load()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitIdle blocks until no refresh is running or queued.
func (c *Controller) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.state == StateIdle {
			c.mu.Unlock()
			return nil
		}
		done := c.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close rejects new requests, drops any queued run and waits for the
// in-flight one to finish.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
