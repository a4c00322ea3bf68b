package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultQuestionTimeout = 30 * time.Second
	DefaultSilenceTimeout  = 6 * time.Second

	// finalizeGrace bounds the wait for the stream's end callback after an
	// intentional stop.
	finalizeGrace = 1500 * time.Millisecond
)

// Options configures a Controller. Zero values use the defaults.
type Options struct {
	Clock           clockwork.Clock
	QuestionTimeout time.Duration
	SilenceTimeout  time.Duration
	// OnUpdate is called outside the controller's lock. Updates from
	// different timers may interleave; Epoch identifies the episode.
	OnUpdate func(Update)
}

// Controller is the capture state machine. Every timer and recognition
// callback carries the epoch it was created under and is ignored once the
// epoch moves on, so nothing from a finished episode can affect a later one.
type Controller struct {
	rec             Recognizer
	clock           clockwork.Clock
	questionTimeout time.Duration
	silenceTimeout  time.Duration
	onUpdate        func(Update)
	logger          *slog.Logger

	mu          sync.Mutex
	epoch       uint64
	state       State
	started     time.Time
	deadline    time.Time
	committed   []string
	interim     string
	intentional bool
	streaming   bool
	restarts    int
	countdown   clockwork.Timer
	ticker      clockwork.Timer
	watchdog    clockwork.Timer
	grace       clockwork.Timer
	out         chan Result
}

// NewController creates an idle controller around rec.
func NewController(rec Recognizer, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.QuestionTimeout <= 0 {
		opts.QuestionTimeout = DefaultQuestionTimeout
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = DefaultSilenceTimeout
	}
	return &Controller{
		rec:             rec,
		clock:           opts.Clock,
		questionTimeout: opts.QuestionTimeout,
		silenceTimeout:  opts.SilenceTimeout,
		onUpdate:        opts.OnUpdate,
		logger:          slog.Default(),
	}
}

// effects run after the lock is released, so recognizers and update
// callbacks may call back into the controller synchronously.
type effects []func()

func (fx effects) run() {
	for _, f := range fx {
		if f != nil {
			f()
		}
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins an episode. The returned channel receives exactly one
// Result. If recognition is unavailable the Result is already waiting and
// no timers are started.
func (c *Controller) Start() (<-chan Result, error) {
	out, _, err := c.start()
	return out, err
}

func (c *Controller) start() (<-chan Result, uint64, error) {
	c.mu.Lock()
	if c.active() {
		c.mu.Unlock()
		return nil, 0, ErrEpisodeActive
	}

	c.epoch++
	epoch := c.epoch
	out := make(chan Result, 1)
	c.out = out
	c.committed = nil
	c.interim = ""
	c.intentional = false
	c.streaming = false
	c.restarts = 0
	c.started = c.clock.Now()

	var fx effects
	if !c.rec.Available() {
		c.state = StateErrored
		fx = c.finishLocked(Result{Kind: KindError, Err: ErrUnavailable})
	} else {
		c.state = StateListening
		c.deadline = c.started.Add(c.questionTimeout)
		c.countdown = c.clock.AfterFunc(c.questionTimeout, func() { c.expire(epoch) })
		c.ticker = c.clock.AfterFunc(time.Second, func() { c.tick(epoch) })
		c.armWatchdogLocked(epoch)
		fx = effects{c.startStreamLocked(epoch), c.updateLocked()}
	}
	c.mu.Unlock()

	fx.run()
	return out, epoch, nil
}

// Capture runs one episode to completion. Cancelling ctx aborts it.
func (c *Controller) Capture(ctx context.Context) (Result, error) {
	out, epoch, err := c.start()
	if err != nil {
		return Result{}, err
	}
	select {
	case r := <-out:
		return r, nil
	case <-ctx.Done():
		c.abort(epoch)
		return <-out, nil
	}
}

// Stop is an explicit user stop. It is intentional: whatever was heard is
// finalized.
func (c *Controller) Stop() {
	c.mu.Lock()
	fx := c.requestStopLocked(c.epoch, "user")
	c.mu.Unlock()
	fx.run()
}

// Abort cancels the running episode, which reports KindError with
// ErrAborted. It returns false if no episode was active.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return c.abort(epoch)
}

func (c *Controller) abort(epoch uint64) bool {
	c.mu.Lock()
	if epoch != c.epoch || !c.active() {
		c.mu.Unlock()
		return false
	}
	c.state = StateErrored
	fx := c.finishLocked(Result{Kind: KindError, Err: ErrAborted})
	c.mu.Unlock()

	fx.run()
	return true
}

func (c *Controller) active() bool {
	return c.state == StateListening || c.state == StateFinalizing
}

func (c *Controller) current(epoch uint64) bool {
	return epoch == c.epoch && c.active()
}

func (c *Controller) startStreamLocked(epoch uint64) func() {
	c.streaming = true
	h := Handlers{
		OnResult: func(ev Event) { c.handleEvent(epoch, ev) },
		OnEnd:    func(err error) { c.handleEnd(epoch, err) },
	}
	return func() {
		if err := c.rec.Start(h); err != nil {
			c.handleStartError(epoch, err)
		}
	}
}

func (c *Controller) handleStartError(epoch uint64, err error) {
	c.mu.Lock()
	if !c.current(epoch) {
		c.mu.Unlock()
		return
	}
	c.streaming = false
	c.state = StateErrored
	fx := c.finishLocked(Result{Kind: KindError, Err: fmt.Errorf("starting recognition: %w", err)})
	c.mu.Unlock()
	fx.run()
}

func (c *Controller) handleEvent(epoch uint64, ev Event) {
	c.mu.Lock()
	if !c.current(epoch) {
		c.mu.Unlock()
		return
	}

	text := strings.TrimSpace(ev.Text)
	if ev.Final {
		if text != "" {
			c.committed = append(c.committed, text)
		}
		c.interim = ""
	} else {
		c.interim = text
	}

	if c.state == StateListening {
		c.armWatchdogLocked(epoch)
	}
	fx := effects{c.updateLocked()}
	c.mu.Unlock()
	fx.run()
}

func (c *Controller) handleEnd(epoch uint64, err error) {
	c.mu.Lock()
	if !c.current(epoch) {
		c.mu.Unlock()
		return
	}
	c.streaming = false

	var fx effects
	if c.state == StateListening && !c.intentional && len(c.committed) == 0 {
		c.restarts++
		c.logger.Debug("recognition ended spontaneously, restarting", "restarts", c.restarts, "error", err)
		fx = effects{c.startStreamLocked(epoch)}
	} else {
		c.state = StateFinalizing
		fx = c.finishLocked(Result{Kind: KindFinalized, Transcript: c.transcriptLocked(true)})
	}
	c.mu.Unlock()
	fx.run()
}

func (c *Controller) armWatchdogLocked(epoch uint64) {
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchdog = c.clock.AfterFunc(c.silenceTimeout, func() {
		c.mu.Lock()
		fx := c.requestStopLocked(epoch, "silence")
		c.mu.Unlock()
		fx.run()
	})
}

// requestStopLocked moves a listening episode to Finalizing and asks the
// stream to stop. The episode finishes when the stream reports its end or
// when the grace timer fires, whichever comes first.
func (c *Controller) requestStopLocked(epoch uint64, reason string) effects {
	if epoch != c.epoch || c.state != StateListening {
		return nil
	}
	c.intentional = true
	c.state = StateFinalizing
	stopTimer(&c.countdown)
	stopTimer(&c.ticker)
	stopTimer(&c.watchdog)
	c.logger.Debug("stopping recognition", "reason", reason)

	if !c.streaming {
		return c.finishLocked(Result{Kind: KindFinalized, Transcript: c.transcriptLocked(true)})
	}
	c.grace = c.clock.AfterFunc(finalizeGrace, func() {
		c.mu.Lock()
		var fx effects
		if c.current(epoch) && c.state == StateFinalizing {
			fx = c.finishLocked(Result{Kind: KindFinalized, Transcript: c.transcriptLocked(true)})
		}
		c.mu.Unlock()
		fx.run()
	})
	return effects{c.updateLocked(), c.rec.Stop}
}

// tick publishes the remaining time once a second. The timeout itself is
// owned by the countdown timer.
func (c *Controller) tick(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	if c.remainingLocked() > time.Second {
		c.ticker = c.clock.AfterFunc(time.Second, func() { c.tick(epoch) })
	}
	fx := effects{c.updateLocked()}
	c.mu.Unlock()
	fx.run()
}

// expire ends a listening episode as a timeout, whatever was heard so far.
func (c *Controller) expire(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.state = StateTimedOut
	fx := c.finishLocked(Result{Kind: KindTimeout})
	c.mu.Unlock()
	fx.run()
}

// remainingLocked is the countdown value, rounded up to whole seconds.
func (c *Controller) remainingLocked() time.Duration {
	left := c.deadline.Sub(c.clock.Now())
	if left <= 0 {
		return 0
	}
	return (left + time.Second - 1).Truncate(time.Second)
}

// finishLocked ends the episode with r: it cancels every timer, invalidates
// the epoch, stops the stream if it is still running and delivers r.
func (c *Controller) finishLocked(r Result) effects {
	stopTimer(&c.countdown)
	stopTimer(&c.ticker)
	stopTimer(&c.watchdog)
	stopTimer(&c.grace)

	r.Elapsed = c.clock.Now().Sub(c.started)
	if r.Kind != KindFinalized {
		r.Transcript = ""
	}

	var fx effects
	if c.streaming {
		c.streaming = false
		fx = append(fx, c.rec.Stop)
	}
	fx = append(fx, c.updateLocked())

	out := c.out
	c.out = nil
	c.epoch++
	c.state = StateIdle
	fx = append(fx, c.updateLocked(), func() { out <- r })

	c.logger.Debug("capture finished", "kind", r.Kind, "elapsed", r.Elapsed, "restarts", c.restarts)
	return fx
}

// transcriptLocked joins committed fragments; withInterim folds the pending
// interim text in as well.
func (c *Controller) transcriptLocked(withInterim bool) string {
	parts := c.committed
	if withInterim && c.interim != "" {
		parts = append(append([]string(nil), parts...), c.interim)
	}
	return strings.Join(parts, " ")
}

func (c *Controller) updateLocked() func() {
	if c.onUpdate == nil {
		return nil
	}
	u := Update{
		Epoch:      c.epoch,
		State:      c.state,
		Remaining:  c.remainingLocked(),
		Transcript: c.transcriptLocked(false),
		Interim:    c.interim,
	}
	if c.state != StateListening {
		u.Remaining = 0
	}
	return func() { c.onUpdate(u) }
}

func stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
