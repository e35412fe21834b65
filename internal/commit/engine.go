// Package commit creates time-locked commitments.
//
// All commitments of one release event share the registration returned by a
// single RegisterIdentity call, so they all open with the same release key.
package commit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"timelock/internal/clock"
	"timelock/internal/codec"
	"timelock/internal/log"
	"timelock/internal/metrics"
	"timelock/internal/timeauth"
)

var (
	// ErrInvalidReleaseTime is returned for release timestamps not in the future.
	ErrInvalidReleaseTime = errors.New("release timestamp must be in the future")

	// ErrRegistrationMismatch is returned when an existing registration is
	// reused for a different release timestamp.
	ErrRegistrationMismatch = errors.New("registration belongs to another release")
)

// Commitment is a payload encrypted to a future release. It is never
// mutated after creation.
type Commitment struct {
	ID           string                `json:"id"`
	Ciphertext   codec.Hex             `json:"ciphertext"`
	Registration timeauth.Registration `json:"registration"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Engine turns plaintexts into commitments.
type Engine struct {
	registry timeauth.Registry
	cipher   timeauth.Cipher
	clock    clock.Source
	entropy  io.Reader
	logger   *log.Logger
	metrics  metrics.RevealMetrics

	group singleflight.Group

	mu            sync.Mutex
	registrations map[int64]timeauth.Registration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used to reject past release timestamps.
func WithClock(source clock.Source) Option {
	return func(e *Engine) { e.clock = source }
}

// WithEntropy sets the blinding value source. It must be cryptographically
// secure outside of tests.
func WithEntropy(r io.Reader) Option {
	return func(e *Engine) { e.entropy = r }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine on top of a registry and a primitive.
func NewEngine(registry timeauth.Registry, cipher timeauth.Cipher, opts ...Option) *Engine {
	e := &Engine{
		registry:      registry,
		cipher:        cipher,
		clock:         clock.System,
		entropy:       rand.Reader,
		logger:        log.NewNopLogger(),
		metrics:       metrics.NewRevealMetrics("timelock"),
		registrations: make(map[int64]timeauth.Registration),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register returns the registration for releaseTimestamp, asking the
// registry only the first time. Concurrent first calls share one request,
// and failures are not remembered.
func (e *Engine) Register(ctx context.Context, releaseTimestamp int64) (timeauth.Registration, error) {
	if releaseTimestamp <= e.clock.Now().Unix() {
		return timeauth.Registration{}, fmt.Errorf("%w: %d", ErrInvalidReleaseTime, releaseTimestamp)
	}

	if reg, ok := e.cached(releaseTimestamp); ok {
		return reg, nil
	}

	v, err, _ := e.group.Do(strconv.FormatInt(releaseTimestamp, 10), func() (interface{}, error) {
		if reg, ok := e.cached(releaseTimestamp); ok {
			return reg, nil
		}

		reg, err := e.registry.RegisterIdentity(ctx, releaseTimestamp)
		if err == nil {
			err = e.checkRegistration(reg, releaseTimestamp)
		}
		if err != nil {
			e.metrics.Registrations(e.registry.Name(), "error").Inc()
			if !errors.Is(err, timeauth.ErrRegistrationFailure) {
				err = fmt.Errorf("%w: %w", timeauth.ErrRegistrationFailure, err)
			}
			return nil, err
		}
		e.metrics.Registrations(e.registry.Name(), "ok").Inc()

		e.mu.Lock()
		e.registrations[releaseTimestamp] = reg
		e.mu.Unlock()

		e.logger.Info("registered identity",
			"registry", e.registry.Name(),
			"release", releaseTimestamp,
			"identity", reg.Identity,
		)
		return reg, nil
	})
	if err != nil {
		return timeauth.Registration{}, err
	}
	return v.(timeauth.Registration), nil
}

func (e *Engine) cached(releaseTimestamp int64) (timeauth.Registration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.registrations[releaseTimestamp]
	return reg, ok
}

func (e *Engine) checkRegistration(reg timeauth.Registration, releaseTimestamp int64) error {
	if reg.ReleaseTimestamp != releaseTimestamp {
		return fmt.Errorf("registry answered for release %d, want %d", reg.ReleaseTimestamp, releaseTimestamp)
	}
	return reg.Validate()
}

// Commit encrypts plaintext so it opens only with the release key of
// releaseTimestamp. When existing is given it is used instead of asking the
// registry.
func (e *Engine) Commit(ctx context.Context, plaintext string, releaseTimestamp int64, existing *timeauth.Registration) (Commitment, error) {
	c, err := e.commit(ctx, plaintext, releaseTimestamp, existing)
	if err != nil {
		e.metrics.Commitments("error").Inc()
		return Commitment{}, err
	}
	e.metrics.Commitments("ok").Inc()
	return c, nil
}

func (e *Engine) commit(ctx context.Context, plaintext string, releaseTimestamp int64, existing *timeauth.Registration) (Commitment, error) {
	now := e.clock.Now()
	if releaseTimestamp <= now.Unix() {
		return Commitment{}, fmt.Errorf("%w: %d", ErrInvalidReleaseTime, releaseTimestamp)
	}

	var reg timeauth.Registration
	if existing != nil {
		if existing.ReleaseTimestamp != releaseTimestamp {
			return Commitment{}, fmt.Errorf("%w: %d != %d", ErrRegistrationMismatch, existing.ReleaseTimestamp, releaseTimestamp)
		}
		if err := existing.Validate(); err != nil {
			return Commitment{}, fmt.Errorf("%w: %v", ErrRegistrationMismatch, err)
		}
		reg = *existing
	} else {
		var err error
		if reg, err = e.Register(ctx, releaseTimestamp); err != nil {
			return Commitment{}, err
		}
	}

	sigma, err := codec.FreshBlindingValue(e.entropy)
	if err != nil {
		return Commitment{}, err
	}
	defer sigma.Zero()

	ct, err := e.cipher.Encrypt(codec.TextToPayload(plaintext), reg.Identity, reg.EonKey, &sigma)
	if err != nil {
		return Commitment{}, fmt.Errorf("encrypt: %w", err)
	}

	c := Commitment{
		ID:           uuid.New().String(),
		Ciphertext:   ct,
		Registration: reg,
		CreatedAt:    now.UTC(),
	}
	e.logger.Debug("created commitment", "id", c.ID, "identity", reg.Identity, "release", releaseTimestamp)
	return c, nil
}
