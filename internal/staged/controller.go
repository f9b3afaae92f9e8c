// Package staged runs asynchronous work behind a fixed sequence of animated
// progress stages. Perceived progress is decoupled from the work: the stages
// advance the bar to 95% on their own schedule, the work is awaited only after
// that, and a minimum duration keeps fast work from flashing past.
package staged

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMinDuration = 4500 * time.Millisecond
	DefaultTick        = 50 * time.Millisecond

	// animatedShare is the part of the bar the stages may fill; the rest is
	// reserved for the transition to complete.
	animatedShare = 95.0

	trackTimeout = 10 * time.Second
)

// ErrAborted is returned by Run when the run was aborted, reset, or
// superseded by a newer run before it finished.
var ErrAborted = errors.New("processing aborted")

// Tracker records that a tool completed a run.
type Tracker interface {
	Track(ctx context.Context, toolID, locale string) error
}

type Config struct {
	Stages      []Stage
	MinDuration time.Duration
	Tick        time.Duration
	ToolID      string
	Locale      string
	Tracker     Tracker
	Logger      *zerolog.Logger
}

// DefaultConfig returns the standard three-stage configuration.
func DefaultConfig() Config {
	return Config{
		Stages:      DefaultStages(),
		MinDuration: DefaultMinDuration,
		Tick:        DefaultTick,
	}
}

// NoDelay strips all artificial timing from cfg, for batch and HTTP use.
func NoDelay(cfg Config) Config {
	stages := make([]Stage, len(cfg.Stages))
	for i, st := range cfg.Stages {
		st.Duration = 0
		stages[i] = st
	}
	cfg.Stages = stages
	cfg.MinDuration = 0
	return cfg
}

type Controller struct {
	cfg Config
	log zerolog.Logger

	// pub serializes mutation+notification so observers see snapshots in order.
	pub sync.Mutex

	mu        sync.Mutex
	state     Snapshot
	gen       uint64
	cancel    context.CancelFunc
	observers map[int]func(Snapshot)
	nextObs   int
}

func New(cfg Config) (*Controller, error) {
	for _, st := range cfg.Stages {
		switch st.Name {
		case Queued, Analyzing, Processing, Optimizing:
		default:
			return nil, fmt.Errorf("stage %q cannot be configured", st.Name)
		}
		if st.Duration < 0 {
			return nil, fmt.Errorf("stage %q has negative duration", st.Name)
		}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	return &Controller{
		cfg:       cfg,
		log:       log.With().Str("component", "staged").Str("tool", cfg.ToolID).Logger(),
		state:     Snapshot{Stage: Idle},
		observers: make(map[int]func(Snapshot)),
	}, nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive every published snapshot. fn runs
// synchronously with publication and must not call Abort, Reset or Run.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Abort stops the active run, if any, and forces the idle state with the
// cancellation message. The run's work is not interrupted; its outcome is
// discarded. Calling Abort repeatedly is harmless.
func (c *Controller) Abort() {
	c.force(Snapshot{Stage: Idle, Message: MessageCancelled})
}

// Reset returns the controller to a clean idle baseline.
func (c *Controller) Reset() {
	c.force(Snapshot{Stage: Idle})
}

func (c *Controller) force(s Snapshot) {
	c.pub.Lock()
	defer c.pub.Unlock()

	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = s
	obs := c.observerList()
	c.mu.Unlock()

	notify(obs, s)
}

// Run executes work under the controller's stage animation and returns its
// result. work receives ctx, not the run's own context: Abort stops the
// animation but leaves the work running. Cancelling ctx ends the run the same
// way Abort does.
func Run[T any](ctx context.Context, c *Controller, work func(context.Context) (T, error)) (T, error) {
	var zero T

	runCtx, gen := c.begin(ctx)
	defer c.end(gen)
	start := time.Now()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		v, err := work(ctx)
		done <- outcome{v: v, err: err}
	}()

	c.animate(runCtx, gen)

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		return zero, c.abandon(gen)
	}

	if remaining := c.cfg.MinDuration - time.Since(start); remaining > 0 {
		if err := sleep(runCtx, remaining); err != nil {
			return zero, c.abandon(gen)
		}
	}

	if out.err != nil {
		failed := c.update(gen, func(s *Snapshot) {
			*s = Snapshot{Stage: Error, Message: out.err.Error(), Err: out.err}
		})
		if !failed {
			return zero, ErrAborted
		}
		c.log.Debug().Err(out.err).Dur("elapsed", time.Since(start)).Msg("run failed")
		return zero, out.err
	}

	completed := c.update(gen, func(s *Snapshot) {
		*s = Snapshot{Stage: Complete, Progress: 100, StageProgress: 100, Message: MessageComplete}
	})
	if !completed {
		return zero, ErrAborted
	}
	c.log.Debug().Dur("elapsed", time.Since(start)).Msg("run complete")
	c.track()
	return out.v, nil
}

func (c *Controller) begin(ctx context.Context) (context.Context, uint64) {
	c.pub.Lock()
	defer c.pub.Unlock()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = Snapshot{Stage: Queued, Message: MessagePreparing}
	snap := c.state
	obs := c.observerList()
	c.mu.Unlock()

	notify(obs, snap)
	return runCtx, gen
}

func (c *Controller) end(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// abandon handles a run whose context ended. If the run still owns the
// controller its parent context was cancelled, which counts as an abort.
func (c *Controller) abandon(gen uint64) error {
	c.update(gen, func(s *Snapshot) {
		*s = Snapshot{Stage: Idle, Message: MessageCancelled}
	})
	return ErrAborted
}

func (c *Controller) animate(ctx context.Context, gen uint64) {
	stages := c.cfg.Stages
	if len(stages) == 0 {
		return
	}

	var total time.Duration
	for _, st := range stages {
		total += st.Duration
	}

	cumulative := 0.0
	for _, st := range stages {
		if ctx.Err() != nil {
			return
		}

		share := animatedShare / float64(len(stages))
		if total > 0 {
			share = float64(st.Duration) / float64(total) * animatedShare
		}

		if !c.update(gen, func(s *Snapshot) {
			s.Stage = st.Name
			s.Message = st.Message
			s.StageProgress = 0
		}) {
			return
		}

		steps := int(st.Duration / c.cfg.Tick)
		if steps < 1 {
			steps = 1
		}
		interval := st.Duration / time.Duration(steps)

		for i := 1; i <= steps; i++ {
			if err := sleep(ctx, interval); err != nil {
				return
			}
			overall := cumulative + share*float64(i)/float64(steps)
			stageProgress := 100 * float64(i) / float64(steps)
			if !c.update(gen, func(s *Snapshot) {
				s.Progress = max(s.Progress, overall)
				s.StageProgress = stageProgress
			}) {
				return
			}
		}
		cumulative += share
	}
}

// update applies fn if gen still owns the controller and publishes the result.
func (c *Controller) update(gen uint64, fn func(*Snapshot)) bool {
	c.pub.Lock()
	defer c.pub.Unlock()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	fn(&c.state)
	snap := c.state
	obs := c.observerList()
	c.mu.Unlock()

	notify(obs, snap)
	return true
}

// track emits the usage signal on a detached goroutine. Its outcome never
// reaches the run.
func (c *Controller) track() {
	if c.cfg.Tracker == nil || c.cfg.ToolID == "" {
		return
	}
	tracker, toolID, locale := c.cfg.Tracker, c.cfg.ToolID, c.cfg.Locale

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Warn().Interface("panic", r).Msg("usage tracking panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), trackTimeout)
		defer cancel()
		if err := tracker.Track(ctx, toolID, locale); err != nil {
			c.log.Warn().Err(err).Msg("usage tracking failed")
		}
	}()
}

func (c *Controller) observerList() []func(Snapshot) {
	if len(c.observers) == 0 {
		return nil
	}
	out := make([]func(Snapshot), 0, len(c.observers))
	for i := 0; i < c.nextObs; i++ {
		if fn, ok := c.observers[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(obs []func(Snapshot), s Snapshot) {
	for _, fn := range obs {
		fn(s)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
