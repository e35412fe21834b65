// Package codec converts between text and the 0x-prefixed hex payloads the
// encryption primitive consumes, and draws blinding values.
package codec

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrEntropyUnavailable is returned when the random source cannot produce a
// blinding value. There is no fallback.
var ErrEntropyUnavailable = errors.New("entropy source unavailable")

// SigmaSize is the length of a blinding value in bytes.
const SigmaSize = 32

// Hex is a 0x-prefixed lowercase hex string.
type Hex string

// Bytes decodes h.
func (h Hex) Bytes() ([]byte, error) {
	return DecodeHex(h)
}

// Empty reports whether h carries no bytes.
func (h Hex) Empty() bool {
	return h == "" || h == "0x"
}

// Sigma is a single-use blinding value.
type Sigma [SigmaSize]byte

// String never prints the value.
func (s Sigma) String() string {
	return "sigma(redacted)"
}

// GoString never prints the value.
func (s Sigma) GoString() string {
	return s.String()
}

// Hex returns the encoded value for handing to the primitive.
func (s *Sigma) Hex() Hex {
	return EncodeHex(s[:])
}

// Zero wipes the value.
func (s *Sigma) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// TextToPayload encodes UTF-8 text as a hex payload. The empty string maps to "0x".
func TextToPayload(text string) Hex {
	return EncodeHex([]byte(text))
}

// PayloadToText decodes a hex payload back to text.
func PayloadToText(payload Hex) (string, error) {
	b, err := DecodeHex(payload)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("payload is not valid UTF-8")
	}
	return string(b), nil
}

// FreshBlindingValue reads SigmaSize bytes from r, which must be a
// cryptographically secure source such as crypto/rand.Reader.
func FreshBlindingValue(r io.Reader) (Sigma, error) {
	var s Sigma
	if r == nil {
		return s, ErrEntropyUnavailable
	}
	if _, err := io.ReadFull(r, s[:]); err != nil {
		s.Zero()
		return s, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return s, nil
}

// NormalizeHex adds the 0x marker when it is missing and lowercases the digits.
func NormalizeHex(value string) Hex {
	v := strings.TrimSpace(value)
	if len(v) >= 2 && (v[:2] == "0x" || v[:2] == "0X") {
		v = v[2:]
	}
	return Hex("0x" + strings.ToLower(v))
}

// EncodeHex encodes b with the 0x marker.
func EncodeHex(b []byte) Hex {
	return Hex(hexutil.Encode(b))
}

// DecodeHex decodes a hex string, accepting values without the marker.
func DecodeHex(h Hex) ([]byte, error) {
	b, err := hexutil.Decode(string(NormalizeHex(string(h))))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// IsHex reports whether value decodes to at least one byte.
func IsHex(value Hex) bool {
	b, err := DecodeHex(value)
	return err == nil && len(b) > 0
}
