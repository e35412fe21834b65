package rps

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"timelock/internal/clock"
	"timelock/internal/codec"
	"timelock/internal/commit"
	"timelock/internal/log"
	"timelock/internal/reveal"
	"timelock/internal/timeauth"
)

// DefaultDelay is how far in the future the release is placed.
const DefaultDelay = 120 * time.Second

var (
	// ErrAlreadySubmitted is returned when a player submits twice.
	ErrAlreadySubmitted = errors.New("move already submitted")

	// ErrInvalidSlot is returned for unknown players.
	ErrInvalidSlot = errors.New("invalid player slot")
)

// Slot identifies a player.
type Slot int

const (
	PlayerA Slot = iota
	PlayerB
)

func (s Slot) String() string {
	switch s {
	case PlayerA:
		return "player A"
	case PlayerB:
		return "player B"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// PlayerSlot is one player's submission. It is written once.
type PlayerSlot struct {
	Move       Move
	Commitment *commit.Commitment
	Submitted  bool
}

// Result is a finished round.
type Result struct {
	Moves   [2]Move
	Outcome Outcome
}

// Status is a view of a game in progress.
type Status struct {
	State     reveal.State
	Release   int64
	Remaining int64
	Submitted [2]bool
	Failure   *reveal.Failure
}

// Game is one round between two players sharing a release event.
type Game struct {
	ID string

	engine     *commit.Engine
	controller *reveal.Controller
	source     clock.Source
	delay      time.Duration
	margin     time.Duration
	tick       time.Duration
	logger     *log.Logger

	mu      sync.Mutex
	release int64
	slots   [2]PlayerSlot
	pending [2]bool
}

// Option configures a Game.
type Option func(*Game)

// WithClock sets the time source.
func WithClock(source clock.Source) Option {
	return func(g *Game) { g.source = source }
}

// WithDelay sets how far after the first submission the moves are revealed.
func WithDelay(delay time.Duration) Option {
	return func(g *Game) { g.delay = delay }
}

// WithMargin sets the post-release margin.
func WithMargin(margin time.Duration) Option {
	return func(g *Game) { g.margin = margin }
}

// WithTickInterval sets how often Play checks readiness.
func WithTickInterval(tick time.Duration) Option {
	return func(g *Game) { g.tick = tick }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Game) { g.logger = logger }
}

// NewGame creates a game on top of a key-release network and primitive.
func NewGame(registry timeauth.Registry, cipher timeauth.Cipher, opts ...Option) (*Game, error) {
	g := &Game{
		ID:     uuid.New().String(),
		source: clock.System,
		delay:  DefaultDelay,
		margin: clock.DefaultMargin,
		tick:   clock.DefaultTickInterval,
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.delay <= 0 {
		return nil, fmt.Errorf("invalid delay %v", g.delay)
	}
	g.logger = g.logger.With("game", g.ID)

	g.engine = commit.NewEngine(registry, cipher,
		commit.WithClock(g.source),
		commit.WithLogger(g.logger),
	)
	controller, err := reveal.NewController(registry, cipher, len(g.slots),
		reveal.WithClock(g.source),
		reveal.WithMargin(g.margin),
		reveal.WithLogger(g.logger),
	)
	if err != nil {
		return nil, err
	}
	g.controller = controller
	return g, nil
}

// Submit commits a player's move. The release timestamp is fixed by the
// first submission, and both moves are encrypted under the same identity.
// A failed submission can be retried.
func (g *Game) Submit(ctx context.Context, slot Slot, move Move) error {
	if slot != PlayerA && slot != PlayerB {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, int(slot))
	}
	if !move.Valid() {
		return fmt.Errorf("invalid move %q", move)
	}

	g.mu.Lock()
	if g.slots[slot].Submitted || g.pending[slot] {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, slot)
	}
	if g.release == 0 {
		g.release = g.source.Now().Add(g.delay).Unix()
	}
	release := g.release
	g.pending[slot] = true
	g.mu.Unlock()

	cm, err := g.submit(ctx, slot, move, release)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[slot] = false
	if err != nil {
		if errors.Is(err, commit.ErrInvalidReleaseTime) && !g.bound() {
			// Nothing is bound to the release yet, so the next attempt picks a new one.
			g.release = 0
		}
		return err
	}
	g.slots[slot] = PlayerSlot{Move: move, Commitment: &cm, Submitted: true}
	g.logger.Info("move submitted", "player", slot, "release", release)
	return nil
}

// bound reports whether a move is committed or being committed under the
// current release. Callers hold g.mu.
func (g *Game) bound() bool {
	for i := range g.slots {
		if g.slots[i].Submitted || g.pending[i] {
			return true
		}
	}
	return false
}

func (g *Game) submit(ctx context.Context, slot Slot, move Move, release int64) (commit.Commitment, error) {
	if err := g.controller.Begin(); err != nil {
		return commit.Commitment{}, err
	}
	cm, err := g.engine.Commit(ctx, string(move), release, nil)
	if err != nil {
		if errors.Is(err, codec.ErrEntropyUnavailable) {
			g.controller.Fail(err)
		}
		return commit.Commitment{}, err
	}
	if err := g.controller.AddCommitment(int(slot), cm); err != nil {
		return commit.Commitment{}, err
	}
	return cm, nil
}

// Slot returns a copy of a player's slot.
func (g *Game) Slot(slot Slot) PlayerSlot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slots[slot]
}

// Forfeit stops waiting for missing moves. A game with a missing move fails
// at reveal time.
func (g *Game) Forfeit() {
	g.controller.Close()
}

// Status returns the current state of the game.
func (g *Game) Status() Status {
	s := g.controller.Snapshot()

	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		State:     s.State,
		Release:   g.release,
		Remaining: s.Remaining,
		Submitted: [2]bool{g.slots[PlayerA].Submitted, g.slots[PlayerB].Submitted},
		Failure:   s.Failure,
	}
}

// Play waits for the release, reveals both moves and resolves the round.
// With nil ticks it polls the release clock at the tick interval.
func (g *Game) Play(ctx context.Context, ticks <-chan clock.Tick) (Result, error) {
	if ticks == nil {
		rc := g.controller.Clock()
		if rc == nil {
			g.controller.Close()
			if f := g.controller.Snapshot().Failure; f != nil {
				return Result{}, f
			}
			return Result{}, reveal.Classify(reveal.ErrRevealFailure)
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ticks = rc.Ticks(ctx, g.tick)
		return g.play(ctx, ticks)
	}
	return g.play(ctx, ticks)
}

func (g *Game) play(ctx context.Context, ticks <-chan clock.Tick) (Result, error) {
	s, err := g.controller.Run(ctx, ticks)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for i, text := range s.Plaintexts {
		m, err := ParseMove(text)
		if err != nil {
			return Result{}, reveal.Classify(fmt.Errorf("%w: %s: %v", reveal.ErrRevealFailure, Slot(i), err))
		}
		res.Moves[i] = m
	}
	res.Outcome = Resolve(res.Moves[PlayerA], res.Moves[PlayerB])
	g.logger.Info("round resolved", "outcome", res.Outcome)
	return res, nil
}
