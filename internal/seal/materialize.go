package seal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"timelock/internal/clock"
	"timelock/internal/reveal"
)

// ErrStillSealed is returned when an envelope cannot be opened yet.
var ErrStillSealed = errors.New("still sealed")

// recoverPendingUnseal handles incomplete unseal transactions.
// If unsealed.pending exists:
//   - If state=unlocked: complete the transaction (rename pending → unsealed)
//   - If state=sealed: abort the transaction (remove pending)
func recoverPendingUnseal(env Envelope, itemDir string) error {
	pendingPath := filepath.Join(itemDir, "unsealed.pending")
	unsealedPath := filepath.Join(itemDir, "unsealed")

	if _, err := os.Stat(pendingPath); os.IsNotExist(err) {
		return nil
	}

	switch env.State {
	case StateUnlocked:
		// Metadata was committed but the rename didn't complete.
		if err := os.Rename(pendingPath, unsealedPath); err != nil {
			if _, statErr := os.Stat(unsealedPath); statErr == nil {
				os.Remove(pendingPath)
				return nil
			}
			return fmt.Errorf("failed to recover pending unseal: %w", err)
		}
		return nil

	case StateSealed:
		// Crash before the metadata update: abort.
		os.Remove(pendingPath)
		return nil

	default:
		// Unknown state - leave pending file for manual inspection
		return nil
	}
}

// TryMaterialize unlocks an envelope if its release key is published.
// Envelopes sealed with another registry, or not yet released, are returned
// unchanged. Decrypted data is written to <itemDir>/unsealed, which must not
// exist while the envelope is sealed.
func (s *Sealer) TryMaterialize(ctx context.Context, env Envelope) (Envelope, error) {
	return s.materialize(ctx, env, false)
}

func (s *Sealer) materialize(ctx context.Context, env Envelope, wait bool) (Envelope, error) {
	itemDir := s.store.ItemDir(env.ID)

	if err := recoverPendingUnseal(env, itemDir); err != nil {
		return env, fmt.Errorf("failed to recover pending transaction: %w", err)
	}
	if env.State == StateUnlocked {
		return env, nil
	}
	if env.Registry != s.registry.Name() {
		if wait {
			return env, fmt.Errorf("item %s was sealed with registry %s, not %s", env.ID, env.Registry, s.registry.Name())
		}
		return env, nil
	}

	ciphertext, err := loadPayload(itemDir)
	if err != nil {
		return env, err
	}

	ctl, err := reveal.NewController(s.registry, s.cipher, 1,
		reveal.WithClock(s.source),
		reveal.WithMargin(s.margin),
		reveal.WithLogger(s.logger.With("id", env.ID)),
		reveal.WithKeyCache(s.keys),
	)
	if err != nil {
		return env, err
	}
	if err := ctl.AddCommitment(0, env.Commitment(ciphertext)); err != nil {
		return env, err
	}

	var snap reveal.Snapshot
	if wait {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if snap, err = ctl.Run(runCtx, ctl.Clock().Ticks(runCtx, s.tick)); err != nil {
			return env, err
		}
	} else {
		ctl.Tick(ctx)
		snap = ctl.Snapshot()
		switch snap.State {
		case reveal.Revealed:
		case reveal.Failed:
			return env, snap.Failure
		default:
			return env, nil
		}
	}

	return commitUnsealed(env, itemDir, []byte(snap.Plaintexts[0]))
}

// commitUnsealed writes plaintext and marks the envelope unlocked.
//
// Two-phase commit protocol for crash-safety:
// Phase 1: Write unsealed data with .pending suffix (not yet committed)
// Phase 2: Update metadata to unlocked, then rename .pending to final name
//
// - If crash before metadata update: .pending exists but state=sealed (will be cleaned up)
// - If crash after metadata update: .pending exists and state=unlocked (will be recovered)
// - If crash after rename: unsealed exists and state=unlocked (fully committed)
func commitUnsealed(env Envelope, itemDir string, plaintext []byte) (Envelope, error) {
	unsealedPath := filepath.Join(itemDir, "unsealed")
	pendingPath := unsealedPath + ".pending"

	if err := os.WriteFile(pendingPath, plaintext, 0600); err != nil {
		return env, fmt.Errorf("failed to write unsealed data: %w", err)
	}

	pendingFile, err := os.OpenFile(pendingPath, os.O_RDONLY, 0)
	if err != nil {
		os.Remove(pendingPath)
		return env, fmt.Errorf("failed to open unsealed data for sync: %w", err)
	}
	if err := pendingFile.Sync(); err != nil {
		pendingFile.Close()
		os.Remove(pendingPath)
		return env, fmt.Errorf("failed to sync unsealed data: %w", err)
	}
	pendingFile.Close()

	// The metadata update is the commit point.
	env.State = StateUnlocked
	if err := saveMetadata(itemDir, env); err != nil {
		os.Remove(pendingPath)
		env.State = StateSealed
		return env, err
	}

	if err := os.Rename(pendingPath, unsealedPath); err != nil {
		// Recovered on the next run by recoverPendingUnseal.
		return env, fmt.Errorf("failed to finalize unsealed data: %w", err)
	}

	if err := ValidateItemState(env, itemDir); err != nil {
		return env, fmt.Errorf("internal error: post-materialization validation failed: %w", err)
	}

	return env, nil
}

// UnsealResult is an opened envelope.
type UnsealResult struct {
	Envelope  Envelope
	Plaintext []byte
}

// Unseal opens envelope id. Without wait it fails with ErrStillSealed when
// the release key is not available yet; with wait it blocks until the
// release or until ctx ends.
func (s *Sealer) Unseal(ctx context.Context, id string, wait bool) (UnsealResult, error) {
	env, err := s.store.Load(id)
	if err != nil {
		return UnsealResult{}, err
	}
	itemDir := s.store.ItemDir(id)
	if err := ValidateItemState(env, itemDir); err != nil {
		return UnsealResult{}, err
	}

	env, err = s.materialize(ctx, env, wait)
	if err != nil {
		return UnsealResult{Envelope: env}, err
	}
	if env.State != StateUnlocked {
		remaining := clock.Remaining(s.source.Now(), env.ReleaseTime.Unix())
		return UnsealResult{Envelope: env}, fmt.Errorf("%w: item %s opens in %ds", ErrStillSealed, id, remaining)
	}

	plaintext, err := os.ReadFile(filepath.Join(itemDir, "unsealed"))
	if err != nil {
		return UnsealResult{Envelope: env}, fmt.Errorf("failed to read unsealed data: %w", err)
	}
	s.logger.Info("unsealed", "id", id)
	return UnsealResult{Envelope: env, Plaintext: plaintext}, nil
}
