package timeauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/drand/tlock"
	thttp "github.com/drand/tlock/networks/http"

	"timelock/internal/codec"
)

// drandQuicknetChainHash is the chain hash for drand quicknet.
const drandQuicknetChainHash = "52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971"

// DrandBaseURL is the public drand HTTP relay.
const DrandBaseURL = "https://api.drand.sh"

// TimelockBox abstracts tlock encryption/decryption for testing.
type TimelockBox interface {
	// Encrypt time-locks data to the target round.
	Encrypt(data []byte, targetRound uint64) ([]byte, error)

	// Decrypt opens tlock ciphertext once its round has been published.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// DrandAuthority uses the drand beacon as key-release network. The identity
// is the target round, the eon key is the chain public key and the release
// key is the round signature.
type DrandAuthority struct {
	NetworkName string
	BaseURL     string
	ChainHash   string
	HTTPClient  HTTPDoer    // injectable HTTP client
	Timelock    TimelockBox // injectable tlock implementation

	mu   sync.Mutex
	info *DrandInfo // cached network info
}

var _ Authority = (*DrandAuthority)(nil)

type DrandInfo struct {
	PublicKey   string `json:"public_key"`
	Period      int    `json:"period"`
	GenesisTime int64  `json:"genesis_time"`
	Hash        string `json:"hash"`
	GroupHash   string `json:"groupHash"`
	SchemeID    string `json:"schemeID"`
	BeaconID    string `json:"beaconID"`
}

type drandPublicResponse struct {
	Round      uint64 `json:"round"`
	Randomness string `json:"randomness"`
	Signature  string `json:"signature"`
}

func (d *DrandAuthority) Name() string {
	return "drand"
}

// RoundAt calculates the first drand round at or after unlockTime.
func (d *DrandAuthority) RoundAt(ctx context.Context, unlockTime time.Time) (uint64, error) {
	info, err := d.FetchInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch drand info: %w", err)
	}
	if info.Period <= 0 {
		return 0, fmt.Errorf("drand info has invalid period %d", info.Period)
	}

	// Round number = (unix_time - genesis_time) / period, rounded up.
	elapsedSeconds := unlockTime.Unix() - info.GenesisTime
	if elapsedSeconds < 0 {
		return 0, fmt.Errorf("unlock time is before drand genesis")
	}

	targetRound := uint64(elapsedSeconds) / uint64(info.Period)
	if uint64(elapsedSeconds)%uint64(info.Period) != 0 {
		targetRound++
	}

	return targetRound, nil
}

// RoundIdentity encodes a round as an identity.
func RoundIdentity(round uint64) codec.Hex {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], round)
	return codec.EncodeHex(b[:])
}

// IdentityRound decodes an identity produced by RoundIdentity.
func IdentityRound(identity codec.Hex) (uint64, error) {
	b, err := codec.DecodeHex(identity)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("drand identity must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// RegisterIdentity implements Registry.
func (d *DrandAuthority) RegisterIdentity(ctx context.Context, releaseTimestamp int64) (Registration, error) {
	round, err := d.RoundAt(ctx, time.Unix(releaseTimestamp, 0))
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
	}

	info, err := d.FetchInfo(ctx)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
	}
	eonKey := info.PublicKey
	if eonKey == "" {
		eonKey = info.Hash
	}

	reg := Registration{
		ReleaseTimestamp: releaseTimestamp,
		EonKey:           codec.NormalizeHex(eonKey),
		Identity:         RoundIdentity(round),
	}
	if err := reg.Validate(); err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrRegistrationFailure, err)
	}
	return reg, nil
}

// FetchReleaseKey implements Registry.
func (d *DrandAuthority) FetchReleaseKey(ctx context.Context, identity codec.Hex) (codec.Hex, error) {
	round, err := IdentityRound(identity)
	if err != nil {
		return "", err
	}

	resp, err := d.fetchRound(ctx, round)
	if err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", ErrKeyNotYetAvailable
	}
	if resp.Round != round {
		return "", fmt.Errorf("drand returned round %d, want %d", resp.Round, round)
	}

	sig := codec.NormalizeHex(resp.Signature)
	if !codec.IsHex(sig) {
		return "", errors.New("drand returned a malformed signature")
	}
	return sig, nil
}

// Encrypt implements Cipher. tlock draws its own blinding randomness, so
// sigma only has to be present.
func (d *DrandAuthority) Encrypt(payload, identity, eonKey codec.Hex, sigma *codec.Sigma) (codec.Hex, error) {
	if sigma == nil {
		return "", errors.New("missing blinding value")
	}
	round, err := IdentityRound(identity)
	if err != nil {
		return "", err
	}
	data, err := codec.DecodeHex(payload)
	if err != nil {
		return "", err
	}

	ct, err := d.Timelock.Encrypt(data, round)
	if err != nil {
		return "", err
	}
	return codec.EncodeHex(ct), nil
}

// Decrypt implements Cipher. tlock verifies the round signature against the
// chain itself, so key gates the call but is not consumed.
func (d *DrandAuthority) Decrypt(commitment, key codec.Hex) (codec.Hex, error) {
	if !codec.IsHex(key) {
		return "", errors.New("missing release key")
	}
	ct, err := codec.DecodeHex(commitment)
	if err != nil {
		return "", err
	}

	plaintext, err := d.Timelock.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return codec.EncodeHex(plaintext), nil
}

func (d *DrandAuthority) FetchInfo(ctx context.Context) (*DrandInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Return cached info if available
	if d.info != nil {
		return d.info, nil
	}

	body, status, err := d.get(ctx, d.BaseURL+"/info")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("drand info request failed: %d", status)
	}

	var info DrandInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, err
	}

	d.info = &info
	return &info, nil
}

func (d *DrandAuthority) fetchRound(ctx context.Context, round uint64) (drandPublicResponse, error) {
	body, status, err := d.get(ctx, fmt.Sprintf("%s/public/%d", d.BaseURL, round))
	if err != nil {
		return drandPublicResponse{}, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusTooEarly:
		return drandPublicResponse{}, ErrKeyNotYetAvailable
	default:
		return drandPublicResponse{}, fmt.Errorf("drand round %d request failed: %d", round, status)
	}

	var publicResp drandPublicResponse
	if err := json.Unmarshal(body, &publicResp); err != nil {
		return drandPublicResponse{}, err
	}
	return publicResp, nil
}

func (d *DrandAuthority) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// RealTimelockBox implements TimelockBox using the actual tlock library.
type RealTimelockBox struct {
	BaseURL   string
	ChainHash string
}

// Encrypt time-locks data using tlock.
func (r *RealTimelockBox) Encrypt(data []byte, targetRound uint64) ([]byte, error) {
	network, err := thttp.NewNetwork(r.BaseURL, r.ChainHash)
	if err != nil {
		return nil, fmt.Errorf("failed to create tlock network: %w", err)
	}

	var ciphertext bytes.Buffer
	if err := tlock.New(network).Encrypt(&ciphertext, bytes.NewReader(data), targetRound); err != nil {
		return nil, fmt.Errorf("failed to tlock encrypt: %w", err)
	}

	return ciphertext.Bytes(), nil
}

// Decrypt decrypts tlock ciphertext.
func (r *RealTimelockBox) Decrypt(ciphertext []byte) ([]byte, error) {
	network, err := thttp.NewNetwork(r.BaseURL, r.ChainHash)
	if err != nil {
		return nil, fmt.Errorf("failed to create tlock network: %w", err)
	}

	var plaintext bytes.Buffer
	if err := tlock.New(network).Decrypt(&plaintext, bytes.NewReader(ciphertext)); err != nil {
		return nil, err
	}

	return plaintext.Bytes(), nil
}

// NewDrandAuthority creates a drand authority for the quicknet network.
func NewDrandAuthority() *DrandAuthority {
	return NewDrandAuthorityWithDeps(http.DefaultClient, nil)
}

// NewDrandAuthorityWithDeps creates a drand authority with injectable dependencies.
func NewDrandAuthorityWithDeps(httpClient HTTPDoer, timelock TimelockBox) *DrandAuthority {
	if timelock == nil {
		timelock = &RealTimelockBox{
			BaseURL:   DrandBaseURL,
			ChainHash: drandQuicknetChainHash,
		}
	}

	return &DrandAuthority{
		NetworkName: "quicknet",
		BaseURL:     DrandBaseURL + "/" + drandQuicknetChainHash,
		ChainHash:   drandQuicknetChainHash,
		HTTPClient:  httpClient,
		Timelock:    timelock,
	}
}
