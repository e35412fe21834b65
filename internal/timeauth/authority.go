// Package timeauth talks to the key-release network: it registers future
// identities, fetches release keys once they are published, and adapts the
// identity-based encryption primitive.
package timeauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"timelock/internal/codec"
)

var (
	// ErrRegistrationFailure wraps any transport or service error raised
	// while registering an identity.
	ErrRegistrationFailure = errors.New("identity registration failed")

	// ErrKeyNotYetAvailable means the network has not published the release
	// key yet. It is transient and only means "keep waiting".
	ErrKeyNotYetAvailable = errors.New("release key not yet available")
)

// Registration is the (eon key, identity) pair returned by one
// registration call. Every commitment that must reveal together shares it.
type Registration struct {
	ReleaseTimestamp int64     `json:"release_timestamp"`
	EonKey           codec.Hex `json:"eon_key"`
	Identity         codec.Hex `json:"identity"`
}

// Validate checks the values the network handed back.
func (r Registration) Validate() error {
	if r.ReleaseTimestamp <= 0 {
		return fmt.Errorf("invalid release timestamp %d", r.ReleaseTimestamp)
	}
	if !codec.IsHex(r.EonKey) {
		return fmt.Errorf("invalid eon key %q", r.EonKey)
	}
	if !codec.IsHex(r.Identity) {
		return fmt.Errorf("invalid identity %q", r.Identity)
	}
	return nil
}

// Matches reports whether two registrations name the same release event.
func (r Registration) Matches(other Registration) bool {
	return r.ReleaseTimestamp == other.ReleaseTimestamp &&
		codec.NormalizeHex(string(r.EonKey)) == codec.NormalizeHex(string(other.EonKey)) &&
		codec.NormalizeHex(string(r.Identity)) == codec.NormalizeHex(string(other.Identity))
}

// Registry is the key-release network boundary.
type Registry interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// RegisterIdentity obtains the eon key and identity for a release
	// timestamp. Failures wrap ErrRegistrationFailure.
	RegisterIdentity(ctx context.Context, releaseTimestamp int64) (Registration, error)

	// FetchReleaseKey returns the decryption key for identity, or
	// ErrKeyNotYetAvailable before it is published.
	FetchReleaseKey(ctx context.Context, identity codec.Hex) (codec.Hex, error)
}

// Cipher is the identity-based encryption primitive.
type Cipher interface {
	// Encrypt seals payload under identity and eonKey, blinded by sigma.
	Encrypt(payload, identity, eonKey codec.Hex, sigma *codec.Sigma) (codec.Hex, error)

	// Decrypt opens a commitment with the released key.
	Decrypt(commitment, key codec.Hex) (codec.Hex, error)
}

// Authority is a backend that serves as both registry and primitive.
type Authority interface {
	Registry
	Cipher
}

// HTTPDoer is satisfied by *http.Client and lets tests inject fakes.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}
