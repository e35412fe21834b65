package timeauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"timelock/internal/codec"
)

// Paths served by a key-release service.
const (
	RegisterIdentityPath = "/register_identity"
	DecryptionKeyPath    = "/get_decryption_key"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// RegisterIdentityRequest is the registration request body.
type RegisterIdentityRequest struct {
	DecryptionTimestamp int64 `json:"decryption_timestamp"`
}

// RegisterIdentityResponse is the registration response body.
type RegisterIdentityResponse struct {
	EonKey   codec.Hex `json:"eon_key"`
	Identity codec.Hex `json:"identity"`
}

// DecryptionKeyResponse is the key fetch response body.
type DecryptionKeyResponse struct {
	DecryptionKey codec.Hex `json:"decryption_key"`
	Identity      codec.Hex `json:"identity,omitempty"`
}

// HTTPRegistry is a Registry backed by a JSON HTTP key-release service.
// Everything the service returns is checked before it is used.
type HTTPRegistry struct {
	BaseURL    string
	HTTPClient HTTPDoer
	// Timeout bounds each call when positive.
	Timeout time.Duration
}

var _ Registry = (*HTTPRegistry)(nil)

// NewHTTPRegistry creates a registry client for baseURL.
func NewHTTPRegistry(baseURL string, client HTTPDoer) *HTTPRegistry {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRegistry{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: client,
	}
}

func (h *HTTPRegistry) Name() string {
	return "http"
}

func (h *HTTPRegistry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout > 0 {
		return context.WithTimeout(ctx, h.Timeout)
	}
	return context.WithCancel(ctx)
}

// RegisterIdentity implements Registry.
func (h *HTTPRegistry) RegisterIdentity(ctx context.Context, releaseTimestamp int64) (Registration, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(RegisterIdentityRequest{DecryptionTimestamp: releaseTimestamp})
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrRegistrationFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+RegisterIdentityPath, bytes.NewReader(body))
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrRegistrationFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %w", ErrRegistrationFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Registration{}, fmt.Errorf("%w: read response: %v", ErrRegistrationFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		return Registration{}, fmt.Errorf("%w: service returned %d", ErrRegistrationFailure, resp.StatusCode)
	}

	var out RegisterIdentityResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Registration{}, fmt.Errorf("%w: decode response: %v", ErrRegistrationFailure, err)
	}

	reg := Registration{
		ReleaseTimestamp: releaseTimestamp,
		EonKey:           codec.NormalizeHex(string(out.EonKey)),
		Identity:         codec.NormalizeHex(string(out.Identity)),
	}
	if err := reg.Validate(); err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrRegistrationFailure, err)
	}

	return reg, nil
}

// FetchReleaseKey implements Registry.
func (h *HTTPRegistry) FetchReleaseKey(ctx context.Context, identity codec.Hex) (codec.Hex, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	identity = codec.NormalizeHex(string(identity))
	u := h.BaseURL + DecryptionKeyPath + "?identity=" + url.QueryEscape(string(identity))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch release key: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusTooEarly:
		return "", ErrKeyNotYetAvailable
	default:
		return "", fmt.Errorf("fetch release key: service returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("fetch release key: read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", ErrKeyNotYetAvailable
	}

	var out DecryptionKeyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("fetch release key: decode response: %w", err)
	}

	if out.DecryptionKey.Empty() {
		return "", ErrKeyNotYetAvailable
	}
	if out.Identity != "" && codec.NormalizeHex(string(out.Identity)) != identity {
		return "", fmt.Errorf("fetch release key: response is for identity %s", out.Identity)
	}

	key := codec.NormalizeHex(string(out.DecryptionKey))
	if !codec.IsHex(key) {
		return "", fmt.Errorf("fetch release key: malformed key")
	}

	return key, nil
}
