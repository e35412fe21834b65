package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeHTTPDoer is a mock HTTP client for testing.
type FakeHTTPDoer struct {
	// Responses maps URL path suffixes to responses
	Responses map[string]*http.Response
	// Errors maps URL path suffixes to errors
	Errors map[string]error

	mu       sync.Mutex
	requests []string
}

func (f *FakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	path := req.URL.Path

	f.mu.Lock()
	f.requests = append(f.requests, path)
	f.mu.Unlock()

	for suffix, err := range f.Errors {
		if strings.HasSuffix(path, suffix) {
			return nil, err
		}
	}
	for suffix, resp := range f.Responses {
		if strings.HasSuffix(path, suffix) {
			return CloneResponse(resp), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

// Requests returns the paths requested so far.
func (f *FakeHTTPDoer) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.requests...)
}

// CloneResponse copies resp with a fresh body reader so the canned response
// can be served again.
func CloneResponse(resp *http.Response) *http.Response {
	bodyBytes, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewReader(bodyBytes)),
	}
}

// JSONResponse builds a response with v encoded as the body.
func JSONResponse(status int, v interface{}) *http.Response {
	body, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// DrandPublicKey is the public key served by MakeDrandInfoResponse.
const DrandPublicKey = "83cf0f2896adee7eb8b5f01fcad3912212c437e0073e911fb90022d3e760183c8c4b450b6a0a6c3ac6a5776a2d1064510d1fec758c921cc22b0e17e63aaf4bcb5ed66304de9cf809bd274ca73bab4af5a6e9c76a4bc09e76eae8991ef5ece45a"

// MakeDrandInfoResponse creates a fake drand /info response.
func MakeDrandInfoResponse() *http.Response {
	return JSONResponse(http.StatusOK, map[string]interface{}{
		"public_key":   DrandPublicKey,
		"period":       3,
		"genesis_time": 1677685200, // Fixed genesis time for deterministic tests
		"hash":         "52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971",
		"schemeID":     "bls-unchained-on-g1",
		"beaconID":     "quicknet",
	})
}

// MakeDrandPublicResponse creates a fake drand /public/<round> response.
func MakeDrandPublicResponse(round uint64, signature string) *http.Response {
	return JSONResponse(http.StatusOK, map[string]interface{}{
		"round":      round,
		"randomness": "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
		"signature":  signature,
	})
}

// FakeTimelockBox is a mock tlock implementation for testing.
// It uses a reversible prefix instead of actual encryption.
type FakeTimelockBox struct {
	// EncryptError can be set to simulate encryption failures
	EncryptError error
	// DecryptError can be set to simulate decryption failures
	DecryptError error
}

var fakeTlockPrefix = []byte("FAKE_TLOCK:")

func (f *FakeTimelockBox) Encrypt(data []byte, targetRound uint64) ([]byte, error) {
	if f.EncryptError != nil {
		return nil, f.EncryptError
	}
	out := append([]byte{}, fakeTlockPrefix...)
	out = strconv.AppendUint(out, targetRound, 10)
	out = append(out, ':')
	return append(out, data...), nil
}

func (f *FakeTimelockBox) Decrypt(ciphertext []byte) ([]byte, error) {
	if f.DecryptError != nil {
		return nil, f.DecryptError
	}
	if !bytes.HasPrefix(ciphertext, fakeTlockPrefix) {
		return nil, io.ErrUnexpectedEOF
	}
	rest := ciphertext[len(fakeTlockPrefix):]
	i := bytes.IndexByte(rest, ':')
	if i < 0 {
		return nil, errors.New("malformed fake tlock ciphertext")
	}
	return rest[i+1:], nil
}

// FormatRoundURL converts a round number to a URL path component.
func FormatRoundURL(round uint64) string {
	return "/public/" + strconv.FormatUint(round, 10)
}

// DevnetSecret is a fixed devnet master secret for tests.
func DevnetSecret() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

// SetupTestEnv points the data directory at a fresh temporary directory for
// the duration of the test and returns it.
func SetupTestEnv(t *testing.T) string {
	t.Helper()
	dataHome := t.TempDir()
	t.Setenv("HOME", dataHome)
	t.Setenv("XDG_DATA_HOME", dataHome)
	return dataHome
}

// UUIDRegex is a compiled regex for validating UUID format.
var UUIDRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsUUID validates that a string is a valid UUID.
func IsUUID(s string) bool {
	return UUIDRegex.MatchString(s)
}
