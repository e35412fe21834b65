package seal

import (
	"fmt"
	"os"
	"path/filepath"
)

// State invariants:
//
// If state == StateSealed:
//     unsealed file MUST NOT exist
//     unsealed.pending MAY exist (will be cleaned up by recovery)
//     payload.bin MUST exist
//
// If state == StateUnlocked:
//     unsealed file MUST exist (or unsealed.pending if recovery incomplete)
//
// These invariants apply to every envelope directory.

// ValidateItemState verifies that an envelope's state is consistent with
// filesystem state. It never repairs anything and never mutates disk.
// unsealed.pending files are handled by recovery, not validation.
func ValidateItemState(env Envelope, itemDir string) error {
	unsealedPath := filepath.Join(itemDir, "unsealed")
	pendingPath := filepath.Join(itemDir, "unsealed.pending")

	_, unsealedErr := os.Stat(unsealedPath)
	unsealedExists := unsealedErr == nil

	_, pendingErr := os.Stat(pendingPath)
	pendingExists := pendingErr == nil

	switch env.State {
	case StateSealed:
		if unsealedExists {
			return fmt.Errorf("item %s: state is sealed but unsealed file exists (corrupted)", env.ID)
		}
		if _, err := os.Stat(filepath.Join(itemDir, payloadFile)); err != nil {
			return fmt.Errorf("item %s: state is sealed but payload is missing (corrupted)", env.ID)
		}
		if err := env.Registration.Validate(); err != nil {
			return fmt.Errorf("item %s: %w", env.ID, err)
		}
		return nil

	case StateUnlocked:
		if !unsealedExists && !pendingExists {
			if os.IsNotExist(unsealedErr) {
				return fmt.Errorf("item %s: state is unlocked but unsealed file missing (corrupted)", env.ID)
			}
			return fmt.Errorf("item %s: state is unlocked but cannot verify unsealed file: %w", env.ID, unsealedErr)
		}
		return nil

	default:
		return fmt.Errorf("item %s: unknown state %q", env.ID, env.State)
	}
}
