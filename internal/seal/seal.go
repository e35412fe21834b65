// Package seal is the single-party application: it seals a message until a
// release time and unseals it once the key-release network publishes the
// key. Envelopes are stored on disk so sealing and unsealing can happen in
// different processes.
package seal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"timelock/internal/clock"
	"timelock/internal/codec"
	"timelock/internal/commit"
	"timelock/internal/log"
	"timelock/internal/reveal"
	"timelock/internal/timeauth"
)

// DefaultDelay places the release this far in the future when no release
// time is given.
const DefaultDelay = 120 * time.Second

// ParseReleaseTime parses a release time relative to now. It accepts an
// RFC3339 timestamp or a positive duration such as "90s" or "2h".
// Returns time normalized to UTC and truncated to whole seconds.
func ParseReleaseTime(s string, now time.Time) (time.Time, error) {
	var t time.Time
	if d, err := time.ParseDuration(s); err == nil {
		if d < time.Second {
			return time.Time{}, fmt.Errorf("release must be at least 1s away")
		}
		t = now.Add(d)
	} else {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time format, expected RFC3339 or a duration")
		}
	}

	t = time.Unix(t.Unix(), 0).UTC()
	if t.Unix() <= now.Unix() {
		return time.Time{}, fmt.Errorf("release time must be in the future")
	}

	return t, nil
}

// PipedStdin returns r unless it is an interactive terminal, in which case
// it returns nil.
func PipedStdin(r io.Reader) io.Reader {
	f, ok := r.(*os.File)
	if !ok {
		return r
	}
	stat, err := f.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	return r
}

// ReadInput reads input from either a file path or stdin, which is nil when
// nothing is piped in. Enforces the maximum size and UTF-8 text.
func ReadInput(path string, stdin io.Reader) ([]byte, InputSource, error) {
	if path != "" && stdin != nil {
		return nil, 0, errors.New("cannot read from both file and stdin")
	}
	if path == "" && stdin == nil {
		return nil, 0, errors.New("no input provided (use file path or pipe to stdin)")
	}

	var data []byte
	var source InputSource

	if path != "" {
		source = InputSourceFile
		file, err := os.Open(path)
		if err != nil {
			return nil, 0, fmt.Errorf("cannot open file: %w", err)
		}
		defer file.Close()

		fileInfo, err := file.Stat()
		if err != nil {
			return nil, 0, fmt.Errorf("cannot stat file: %w", err)
		}
		if fileInfo.Size() > MaxInputSize {
			return nil, 0, fmt.Errorf("input exceeds maximum size of %d bytes", MaxInputSize)
		}

		data, err = io.ReadAll(io.LimitReader(file, MaxInputSize+1))
		if err != nil {
			return nil, 0, fmt.Errorf("cannot read file: %w", err)
		}
	} else {
		source = InputSourceStdin
		var err error
		data, err = io.ReadAll(io.LimitReader(stdin, MaxInputSize+1))
		if err != nil {
			return nil, 0, fmt.Errorf("cannot read stdin: %w", err)
		}
	}

	if len(data) == 0 {
		return nil, 0, errors.New("input is empty")
	}
	if len(data) > MaxInputSize {
		return nil, 0, fmt.Errorf("input exceeds maximum size of %d bytes", MaxInputSize)
	}
	if !utf8.Valid(data) {
		return nil, 0, errors.New("input is not UTF-8 text")
	}

	return data, source, nil
}

// Sealer seals and unseals envelopes in a Store.
type Sealer struct {
	store    *Store
	registry timeauth.Registry
	cipher   timeauth.Cipher
	engine   *commit.Engine
	keys     *reveal.KeyCache

	source clock.Source
	delay  time.Duration
	margin time.Duration
	tick   time.Duration
	logger *log.Logger
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithClock sets the time source.
func WithClock(source clock.Source) Option {
	return func(s *Sealer) { s.source = source }
}

// WithDelay sets the default distance to the release.
func WithDelay(delay time.Duration) Option {
	return func(s *Sealer) { s.delay = delay }
}

// WithMargin sets the post-release margin.
func WithMargin(margin time.Duration) Option {
	return func(s *Sealer) { s.margin = margin }
}

// WithTickInterval sets how often a waiting unseal checks readiness.
func WithTickInterval(tick time.Duration) Option {
	return func(s *Sealer) { s.tick = tick }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Sealer) { s.logger = logger }
}

// NewSealer creates a sealer for a registry and primitive.
func NewSealer(store *Store, registry timeauth.Registry, cipher timeauth.Cipher, opts ...Option) (*Sealer, error) {
	s := &Sealer{
		store:    store,
		registry: registry,
		cipher:   cipher,
		source:   clock.System,
		delay:    DefaultDelay,
		margin:   clock.DefaultMargin,
		tick:     clock.DefaultTickInterval,
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	keys, err := reveal.NewKeyCache(registry, reveal.DefaultKeyCacheSize)
	if err != nil {
		return nil, err
	}
	s.keys = keys
	s.engine = commit.NewEngine(registry, cipher,
		commit.WithClock(s.source),
		commit.WithLogger(s.logger),
	)
	return s, nil
}

// Store returns the envelope store.
func (s *Sealer) Store() *Store {
	return s.store
}

// LockRequest contains parameters for sealing content.
type LockRequest struct {
	InputPath string
	// Stdin is read when InputPath is empty. Nil means nothing was piped.
	Stdin io.Reader
	// ReleaseTime is RFC3339 or a duration; empty uses the default delay.
	ReleaseTime string
}

// LockResult contains the result of a lock operation.
type LockResult struct {
	ID          string
	ReleaseTime time.Time
	Identity    codec.Hex
}

// Lock encrypts content to a future release and stores the envelope.
func (s *Sealer) Lock(ctx context.Context, req LockRequest) (LockResult, error) {
	now := s.source.Now()
	release := time.Unix(now.Add(s.delay).Unix(), 0).UTC()
	if req.ReleaseTime != "" {
		var err error
		if release, err = ParseReleaseTime(req.ReleaseTime, now); err != nil {
			return LockResult{}, err
		}
	}

	inputData, inputSrc, err := ReadInput(req.InputPath, req.Stdin)
	if err != nil {
		return LockResult{}, err
	}

	cm, err := s.engine.Commit(ctx, string(inputData), release.Unix(), nil)
	if err != nil {
		return LockResult{}, err
	}
	ciphertext, err := codec.DecodeHex(cm.Ciphertext)
	if err != nil {
		return LockResult{}, err
	}

	if err := os.MkdirAll(s.store.Dir(), 0700); err != nil {
		return LockResult{}, fmt.Errorf("cannot create data directory: %w", err)
	}
	itemDir := s.store.ItemDir(cm.ID)
	if err := os.Mkdir(itemDir, 0700); err != nil {
		return LockResult{}, fmt.Errorf("cannot create item directory: %w", err)
	}

	env := Envelope{
		ID:           cm.ID,
		State:        StateSealed,
		ReleaseTime:  release,
		InputType:    inputSrc.String(),
		OriginalPath: req.InputPath,
		Registry:     s.registry.Name(),
		CreatedAt:    cm.CreatedAt,
		CommitmentID: cm.ID,
		Registration: cm.Registration,
	}

	// The payload goes first so a listed envelope always has one.
	if err := os.WriteFile(filepath.Join(itemDir, payloadFile), ciphertext, 0600); err != nil {
		return LockResult{}, fmt.Errorf("cannot write payload: %w", err)
	}
	if err := saveMetadata(itemDir, env); err != nil {
		return LockResult{}, err
	}

	s.logger.Info("sealed", "id", env.ID, "release", release.Unix(), "identity", cm.Registration.Identity)

	return LockResult{
		ID:          env.ID,
		ReleaseTime: release,
		Identity:    cm.Registration.Identity,
	}, nil
}
