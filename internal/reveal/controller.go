// Package reveal opens commitments once their release key is published.
//
// A Controller owns one release event. Commitments are added per slot, and
// on each clock tick the controller checks readiness against a fresh clock
// read before it fetches the key. Transient "not yet published" answers
// send it back to waiting; any other error ends the session.
package reveal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"timelock/internal/clock"
	"timelock/internal/codec"
	"timelock/internal/commit"
	"timelock/internal/log"
	"timelock/internal/metrics"
	"timelock/internal/timeauth"
)

var (
	// ErrNotAccepting is returned when commitments are added after the
	// controller stopped accepting them.
	ErrNotAccepting = errors.New("controller no longer accepts commitments")

	// ErrSlotTaken is returned when a slot already holds a commitment.
	ErrSlotTaken = errors.New("slot already holds a commitment")

	// ErrNoSuchSlot is returned for slot indexes out of range.
	ErrNoSuchSlot = errors.New("no such slot")
)

// Snapshot is a consistent view of a controller.
type Snapshot struct {
	State        State
	Registration *timeauth.Registration
	// Remaining is the display countdown in seconds. It never gates a fetch.
	Remaining int64
	// Plaintexts holds one entry per slot once Revealed.
	Plaintexts []string
	Failure    *Failure
}

// Controller drives one release event from commitment to reveal.
type Controller struct {
	cipher  timeauth.Cipher
	keys    *KeyCache
	source  clock.Source
	margin  time.Duration
	logger  *log.Logger
	metrics metrics.RevealMetrics

	mu           sync.Mutex
	state        State
	slots        []*commit.Commitment
	registration *timeauth.Registration
	release      *clock.ReleaseClock
	plaintexts   []string
	failure      *Failure
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source for readiness checks.
func WithClock(source clock.Source) Option {
	return func(c *Controller) { c.source = source }
}

// WithMargin sets how long after the release timestamp the key is fetched.
func WithMargin(margin time.Duration) Option {
	return func(c *Controller) { c.margin = margin }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithKeyCache shares a key cache between controllers.
func WithKeyCache(keys *KeyCache) Option {
	return func(c *Controller) { c.keys = keys }
}

// NewController creates a controller expecting one commitment per slot.
func NewController(registry timeauth.Registry, cipher timeauth.Cipher, slots int, opts ...Option) (*Controller, error) {
	if slots <= 0 {
		return nil, fmt.Errorf("invalid slot count %d", slots)
	}
	c := &Controller{
		cipher:  cipher,
		source:  clock.System,
		margin:  clock.DefaultMargin,
		logger:  log.NewNopLogger(),
		metrics: metrics.NewRevealMetrics("timelock"),
		state:   Idle,
		slots:   make([]*commit.Commitment, slots),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.keys == nil {
		keys, err := NewKeyCache(registry, DefaultKeyCacheSize)
		if err != nil {
			return nil, err
		}
		c.keys = keys
	}
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Clock returns the release clock, or nil before the first commitment.
func (c *Controller) Clock() *clock.ReleaseClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release
}

// Snapshot returns the current state and results.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{State: c.state, Failure: c.failure}
	if c.registration != nil {
		reg := *c.registration
		s.Registration = &reg
		s.Remaining = c.release.Remaining()
	}
	if c.state == Revealed {
		s.Plaintexts = append([]string{}, c.plaintexts...)
	}
	return s
}

func (c *Controller) transition(to State) {
	from := c.state
	c.state = to
	c.metrics.Transitions(from.String(), to.String()).Inc()
	c.logger.Debug("state transition", "from", from, "to", to)
}

func (c *Controller) fail(f *Failure) {
	c.failure = f
	c.transition(Failed)
	c.logger.Warn("reveal failed", "code", f.Code, "err", f.Cause)
}

// Begin marks that a commitment is being created.
func (c *Controller) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Idle:
		c.transition(Committing)
		return nil
	case Committing:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNotAccepting, c.state)
	}
}

// AddCommitment stores cm in slot. Every commitment must share the
// registration of the first one. Once all slots are filled the controller
// waits for the release.
func (c *Controller) AddCommitment(slot int, cm commit.Commitment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle && c.state != Committing {
		return fmt.Errorf("%w: %s", ErrNotAccepting, c.state)
	}
	if slot < 0 || slot >= len(c.slots) {
		return fmt.Errorf("%w: %d", ErrNoSuchSlot, slot)
	}
	if c.slots[slot] != nil {
		return fmt.Errorf("%w: %d", ErrSlotTaken, slot)
	}
	if err := cm.Registration.Validate(); err != nil {
		return err
	}
	if c.registration != nil && !c.registration.Matches(cm.Registration) {
		return fmt.Errorf("%w: identity %s", commit.ErrRegistrationMismatch, cm.Registration.Identity)
	}

	if c.registration == nil {
		reg := cm.Registration
		c.registration = &reg
		c.release = clock.NewReleaseClock(c.source, reg.ReleaseTimestamp, c.margin)
	}
	stored := cm
	c.slots[slot] = &stored

	if c.state == Idle {
		c.transition(Committing)
	}
	for _, s := range c.slots {
		if s == nil {
			return nil
		}
	}
	c.transition(AwaitingRelease)
	return nil
}

// Close stops accepting commitments. Empty slots make the reveal fail.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Idle, Committing:
		if c.registration == nil {
			c.fail(revealFailure("nothing was committed", nil))
			return
		}
		c.transition(AwaitingRelease)
	}
}

// Fail ends the session with err unless it already ended.
func (c *Controller) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Terminal() {
		return
	}
	c.fail(Classify(err))
}

// Tick advances the controller by at most one key fetch and returns the
// resulting state. It does nothing unless the controller is waiting and the
// release time has passed on a fresh clock read.
func (c *Controller) Tick(ctx context.Context) State {
	c.mu.Lock()
	if c.state != AwaitingRelease || !c.release.Ready() {
		state := c.state
		c.mu.Unlock()
		return state
	}
	for slot, cm := range c.slots {
		if cm == nil {
			c.fail(revealFailure(fmt.Sprintf("no commitment was submitted for slot %d", slot), nil))
			c.mu.Unlock()
			return Failed
		}
	}
	c.transition(KeyFetchInFlight)
	identity := c.registration.Identity
	c.mu.Unlock()

	key, err := c.keys.Fetch(ctx, identity)

	c.mu.Lock()
	defer c.mu.Unlock()

	// The session may have been failed while the fetch was in flight.
	if c.state != KeyFetchInFlight {
		return c.state
	}

	switch {
	case err == nil:
		c.reveal(key)
	case errors.Is(err, timeauth.ErrKeyNotYetAvailable):
		c.logger.Debug("release key not published yet", "identity", identity)
		c.transition(AwaitingRelease)
	case ctx.Err() != nil:
		c.transition(AwaitingRelease)
	default:
		c.fail(revealFailure("could not fetch the release key", err))
	}
	return c.state
}

// reveal decrypts every slot with key. c.mu must be held.
func (c *Controller) reveal(key codec.Hex) {
	plaintexts := make([]string, len(c.slots))
	for i, cm := range c.slots {
		payload, err := c.cipher.Decrypt(cm.Ciphertext, key)
		if err != nil {
			c.fail(revealFailure("could not decrypt a commitment", err))
			return
		}
		text, err := codec.PayloadToText(payload)
		if err != nil {
			c.fail(revealFailure("a commitment holds malformed data", err))
			return
		}
		plaintexts[i] = text
	}

	c.plaintexts = plaintexts
	c.transition(Revealed)
	c.logger.Info("revealed", "identity", c.registration.Identity, "commitments", len(plaintexts))
}

// Run calls Tick for every tick until the controller reaches a terminal
// state, ctx ends or ticks is closed.
func (c *Controller) Run(ctx context.Context, ticks <-chan clock.Tick) (Snapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				if err := ctx.Err(); err != nil {
					return c.Snapshot(), err
				}
				return c.Snapshot(), errors.New("clock stopped")
			}
		}

		if c.Tick(ctx).Terminal() {
			s := c.Snapshot()
			if s.Failure != nil {
				return s, s.Failure
			}
			return s, nil
		}
	}
}
