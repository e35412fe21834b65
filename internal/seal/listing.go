package seal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// List returns all envelopes, sorted by creation time (oldest first).
// It is read-only and never materializes anything.
func (s *Store) List() ([]Envelope, error) {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return []Envelope{}, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read data directory: %w", err)
	}

	envelopes := []Envelope{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		env, err := loadMetadata(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			// Skip incomplete or foreign directories.
			continue
		}
		envelopes = append(envelopes, env)
	}

	sort.Slice(envelopes, func(i, j int) bool {
		return envelopes[i].CreatedAt.Before(envelopes[j].CreatedAt)
	})

	return envelopes, nil
}
