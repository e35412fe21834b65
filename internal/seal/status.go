package seal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"timelock/internal/clock"
)

// StatusResult contains the results of a status check.
type StatusResult struct {
	Items                 []Envelope
	MaterializationFailed bool
	FirstError            error
	ValidationFailed      bool
	ValidationErrors      []error
}

// Status lists every envelope and unlocks those whose key is published.
func (s *Sealer) Status(ctx context.Context) (StatusResult, error) {
	items, err := s.store.List()
	if err != nil {
		return StatusResult{}, err
	}

	var result StatusResult
	for i := range items {
		itemDir := s.store.ItemDir(items[i].ID)

		if err := ValidateItemState(items[i], itemDir); err != nil {
			result.ValidationFailed = true
			result.ValidationErrors = append(result.ValidationErrors, err)
			continue
		}

		// Idempotent: a no-op for unlocked envelopes.
		updated, err := s.TryMaterialize(ctx, items[i])
		if err != nil {
			if !result.MaterializationFailed {
				result.FirstError = err
				result.MaterializationFailed = true
			}
			continue
		}
		items[i] = updated
	}
	result.Items = items

	return result, nil
}

// FormatStatusOutput formats status items for display. The countdown is
// informational only.
func FormatStatusOutput(items []Envelope, now time.Time) string {
	if len(items) == 0 {
		return "no sealed items"
	}

	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "id: %s\nstate: %s\nrelease_time: %s\nregistry: %s\n",
			item.ID,
			item.State,
			item.ReleaseTime.Format(time.RFC3339),
			item.Registry)
		if item.State == StateSealed {
			remaining := clock.Remaining(now, item.ReleaseTime.Unix())
			fmt.Fprintf(&b, "remaining: %s\n", time.Duration(remaining)*time.Second)
		}
		b.WriteString("\n")
	}

	return b.String()
}
