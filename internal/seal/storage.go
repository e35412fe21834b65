package seal

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"timelock/internal/codec"
	"timelock/internal/timeauth"
)

const (
	metaFile    = "meta.json"
	payloadFile = "payload.bin"
	secretFile  = "devnet.secret"
)

// GetBaseDir returns the OS-appropriate base directory for timelock data.
func GetBaseDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot get home directory: %w", err)
		}
		baseDir = filepath.Join(home, "Library", "Application Support", "timelock")

	case "windows":
		appData := os.Getenv("AppData")
		if appData == "" {
			return "", errors.New("AppData environment variable not set")
		}
		baseDir = filepath.Join(appData, "timelock")

	default: // Linux and other Unix-like systems
		xdgDataHome := os.Getenv("XDG_DATA_HOME")
		if xdgDataHome != "" {
			baseDir = filepath.Join(xdgDataHome, "timelock")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot get home directory: %w", err)
			}
			baseDir = filepath.Join(home, ".local", "share", "timelock")
		}
	}

	return baseDir, nil
}

// Store keeps envelopes under a base directory, one directory per envelope.
type Store struct {
	dir string
}

// NewStore opens a store in dir, or in GetBaseDir() when dir is empty.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		var err error
		if dir, err = GetBaseDir(); err != nil {
			return nil, err
		}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string {
	return s.dir
}

// ItemDir returns the directory of envelope id.
func (s *Store) ItemDir(id string) string {
	return filepath.Join(s.dir, id)
}

// Load reads envelope id.
func (s *Store) Load(id string) (Envelope, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return Envelope{}, fmt.Errorf("invalid id %q", id)
	}
	env, err := loadMetadata(s.ItemDir(id))
	if errors.Is(err, os.ErrNotExist) {
		return Envelope{}, fmt.Errorf("no sealed item %s", id)
	}
	return env, err
}

// loadMetadata loads and parses the metadata file for an item.
func loadMetadata(itemDir string) (Envelope, error) {
	metaPath := filepath.Join(itemDir, metaFile)
	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(metaData, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	return env, nil
}

// saveMetadata saves the metadata file for an item atomically.
func saveMetadata(itemDir string, env Envelope) error {
	metaPath := filepath.Join(itemDir, metaFile)
	metaJSON, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tmpMetaPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpMetaPath, metaJSON, 0600); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := os.Rename(tmpMetaPath, metaPath); err != nil {
		os.Remove(tmpMetaPath)
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	return nil
}

// loadPayload reads the ciphertext of an item.
func loadPayload(itemDir string) ([]byte, error) {
	ct, err := os.ReadFile(filepath.Join(itemDir, payloadFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return ct, nil
}

// DevnetSecret returns the devnet master secret kept in the store, creating
// it on first use. Every process using the same store then shares one
// local network.
func (s *Store) DevnetSecret() ([]byte, error) {
	path := filepath.Join(s.dir, secretFile)

	data, err := os.ReadFile(path)
	if err == nil {
		secret, err := codec.DecodeHex(codec.Hex(strings.TrimSpace(string(data))))
		if err != nil {
			return nil, fmt.Errorf("corrupted devnet secret: %w", err)
		}
		if len(secret) < timeauth.MinDevnetSecretSize {
			return nil, errors.New("corrupted devnet secret: too short")
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot read devnet secret: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create data directory: %w", err)
	}
	secret := make([]byte, timeauth.MinDevnetSecretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrEntropyUnavailable, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		// Another process created it first.
		return s.DevnetSecret()
	}
	if err != nil {
		return nil, fmt.Errorf("cannot create devnet secret: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(string(codec.EncodeHex(secret)) + "\n"); err != nil {
		return nil, fmt.Errorf("cannot write devnet secret: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("cannot sync devnet secret: %w", err)
	}
	return secret, nil
}
