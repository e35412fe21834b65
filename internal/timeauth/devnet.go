package timeauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"timelock/internal/clock"
	"timelock/internal/codec"
)

// Accepted devnet master secret sizes.
const (
	MinDevnetSecretSize = 32
	MaxDevnetSecretSize = 64
)

const devnetTagSize = 24

var (
	devnetEonLabel      = []byte("timelock/devnet/eon")
	devnetIdentityLabel = []byte("timelock/devnet/identity")
	devnetKeyInfo       = []byte("timelock/devnet/release-key")
)

// ErrUnknownIdentity is returned for keys of identities never registered.
var ErrUnknownIdentity = errors.New("unknown identity")

// Devnet is a single-process key-release network. It derives identities
// from release timestamps, publishes release keys once the timestamp has
// passed, and provides a symmetric stand-in for the IBE primitive.
//
// Whoever holds the master secret can decrypt early, so it is only meant for
// local runs and tests.
type Devnet struct {
	secret []byte
	eonKey codec.Hex
	clock  clock.Source
}

var _ Authority = (*Devnet)(nil)

// NewDevnet creates a devnet from a master secret.
func NewDevnet(secret []byte, source clock.Source) (*Devnet, error) {
	if len(secret) < MinDevnetSecretSize || len(secret) > MaxDevnetSecretSize {
		return nil, fmt.Errorf("devnet secret must be %d to %d bytes", MinDevnetSecretSize, MaxDevnetSecretSize)
	}
	if source == nil {
		source = clock.System
	}

	eon := blake2b.Sum256(append(append([]byte{}, devnetEonLabel...), secret...))

	return &Devnet{
		secret: append([]byte{}, secret...),
		eonKey: codec.EncodeHex(eon[:]),
		clock:  source,
	}, nil
}

func (d *Devnet) Name() string {
	return "devnet"
}

// EonKey returns the network's public eon key.
func (d *Devnet) EonKey() codec.Hex {
	return d.eonKey
}

// RegisterIdentity implements Registry. The same timestamp always yields the
// same identity, and the identity carries its timestamp so a restarted
// devnet with the same secret still serves it.
func (d *Devnet) RegisterIdentity(ctx context.Context, releaseTimestamp int64) (Registration, error) {
	if err := ctx.Err(); err != nil {
		return Registration{}, fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
	}
	if releaseTimestamp <= 0 {
		return Registration{}, fmt.Errorf("%w: invalid release timestamp %d", ErrRegistrationFailure, releaseTimestamp)
	}

	return Registration{
		ReleaseTimestamp: releaseTimestamp,
		EonKey:           d.eonKey,
		Identity:         codec.EncodeHex(d.identity(releaseTimestamp)),
	}, nil
}

// identity is tag(eon, ts) || ts.
func (d *Devnet) identity(releaseTimestamp int64) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(releaseTimestamp))

	mac, _ := blake2b.New(devnetTagSize, d.secret)
	mac.Write(devnetIdentityLabel)
	mac.Write([]byte(d.eonKey))
	mac.Write(ts[:])
	return append(mac.Sum(nil), ts[:]...)
}

// ReleaseTimestamp returns when identity's key is published. It fails for
// identities this network did not issue.
func (d *Devnet) ReleaseTimestamp(identity codec.Hex) (int64, error) {
	id, err := codec.DecodeHex(identity)
	if err != nil || len(id) != devnetTagSize+8 {
		return 0, fmt.Errorf("%w %s", ErrUnknownIdentity, identity)
	}
	release := int64(binary.BigEndian.Uint64(id[devnetTagSize:]))
	if release <= 0 || !hmac.Equal(id, d.identity(release)) {
		return 0, fmt.Errorf("%w %s", ErrUnknownIdentity, identity)
	}
	return release, nil
}

// FetchReleaseKey implements Registry.
func (d *Devnet) FetchReleaseKey(ctx context.Context, identity codec.Hex) (codec.Hex, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	identity = codec.NormalizeHex(string(identity))

	release, err := d.ReleaseTimestamp(identity)
	if err != nil {
		return "", err
	}
	if d.clock.Now().Unix() < release {
		return "", ErrKeyNotYetAvailable
	}

	key, err := d.releaseKey(identity)
	if err != nil {
		return "", err
	}
	defer zero(key)

	return codec.EncodeHex(key), nil
}

func (d *Devnet) releaseKey(identity codec.Hex) ([]byte, error) {
	id, err := codec.DecodeHex(identity)
	if err != nil {
		return nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, d.secret, id, devnetKeyInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt implements Cipher. The nonce is derived from sigma, so distinct
// blinding values give unlinkable commitments of equal payloads.
func (d *Devnet) Encrypt(payload, identity, eonKey codec.Hex, sigma *codec.Sigma) (codec.Hex, error) {
	if sigma == nil {
		return "", errors.New("devnet: missing blinding value")
	}
	if codec.NormalizeHex(string(eonKey)) != d.eonKey {
		return "", errors.New("devnet: eon key does not belong to this network")
	}
	plaintext, err := codec.DecodeHex(payload)
	if err != nil {
		return "", fmt.Errorf("devnet: payload: %w", err)
	}

	key, err := d.releaseKey(codec.NormalizeHex(string(identity)))
	if err != nil {
		return "", fmt.Errorf("devnet: identity: %w", err)
	}
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	seed := blake2b.Sum256(sigma[:])
	nonce := seed[:chacha20poly1305.NonceSizeX]
	out := aead.Seal(append([]byte{}, nonce...), nonce, plaintext, nil)

	return codec.EncodeHex(out), nil
}

// Decrypt implements Cipher. It needs only the released key.
func (d *Devnet) Decrypt(commitment, key codec.Hex) (codec.Hex, error) {
	ct, err := codec.DecodeHex(commitment)
	if err != nil {
		return "", fmt.Errorf("devnet: commitment: %w", err)
	}
	if len(ct) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", errors.New("devnet: commitment too short")
	}
	k, err := codec.DecodeHex(key)
	if err != nil {
		return "", fmt.Errorf("devnet: key: %w", err)
	}
	defer zero(k)

	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return "", fmt.Errorf("devnet: key: %w", err)
	}

	nonce, sealed := ct[:chacha20poly1305.NonceSizeX], ct[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.New("devnet: commitment does not open with this key")
	}

	return codec.EncodeHex(plaintext), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
