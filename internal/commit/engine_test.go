package commit

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timelock/internal/clock"
	"timelock/internal/codec"
	"timelock/internal/testutil"
	"timelock/internal/timeauth"
)

const testNow = int64(1_700_000_000)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *timeauth.FakeRegistry, *timeauth.Devnet, *clock.Manual) {
	t.Helper()
	manual := clock.NewManual(time.Unix(testNow, 0))
	devnet, err := timeauth.NewDevnet(testutil.DevnetSecret(), manual)
	require.NoError(t, err)

	registry := &timeauth.FakeRegistry{Inner: devnet}
	opts = append([]Option{WithClock(manual)}, opts...)
	return NewEngine(registry, devnet, opts...), registry, devnet, manual
}

func TestCommit_RejectsPastRelease(t *testing.T) {
	engine, registry, _, _ := newTestEngine(t)

	for _, release := range []int64{testNow, testNow - 1, 0} {
		_, err := engine.Commit(context.Background(), "rock", release, nil)
		require.ErrorIs(t, err, ErrInvalidReleaseTime)
	}
	require.Zero(t, registry.RegisterCalls(), "no network call for an invalid release")
}

func TestCommit_OpensAfterRelease(t *testing.T) {
	engine, _, devnet, manual := newTestEngine(t)
	release := testNow + 120

	c, err := engine.Commit(context.Background(), "hello", release, nil)
	require.NoError(t, err)
	require.True(t, testutil.IsUUID(c.ID))
	require.Equal(t, release, c.Registration.ReleaseTimestamp)
	require.NotContains(t, string(c.Ciphertext), string(codec.TextToPayload("hello"))[2:])

	manual.Set(time.Unix(release, 0))
	key, err := devnet.FetchReleaseKey(context.Background(), c.Registration.Identity)
	require.NoError(t, err)
	payload, err := devnet.Decrypt(c.Ciphertext, key)
	require.NoError(t, err)
	text, err := codec.PayloadToText(payload)
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestCommit_SharesRegistrationPerRelease(t *testing.T) {
	engine, registry, _, _ := newTestEngine(t)
	release := testNow + 120

	a, err := engine.Commit(context.Background(), "rock", release, nil)
	require.NoError(t, err)
	b, err := engine.Commit(context.Background(), "paper", release, nil)
	require.NoError(t, err)

	require.Equal(t, a.Registration, b.Registration)
	require.Equal(t, int64(1), registry.RegisterCalls())

	other, err := engine.Commit(context.Background(), "paper", release+60, nil)
	require.NoError(t, err)
	require.NotEqual(t, a.Registration.Identity, other.Registration.Identity)
	require.Equal(t, int64(2), registry.RegisterCalls())
}

func TestCommit_ConcurrentFirstCommitsRegisterOnce(t *testing.T) {
	engine, registry, _, _ := newTestEngine(t)
	release := testNow + 120

	var wg sync.WaitGroup
	regs := make([]timeauth.Registration, 16)
	errs := make([]error, 16)
	for i := range regs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := engine.Commit(context.Background(), "scissors", release, nil)
			regs[i], errs[i] = c.Registration, err
		}(i)
	}
	wg.Wait()

	for i := range regs {
		require.NoError(t, errs[i])
		require.Equal(t, regs[0], regs[i])
	}
	require.Equal(t, int64(1), registry.RegisterCalls())
}

func TestCommit_UsesExistingRegistration(t *testing.T) {
	engine, registry, devnet, _ := newTestEngine(t)
	release := testNow + 120

	reg, err := devnet.RegisterIdentity(context.Background(), release)
	require.NoError(t, err)

	c, err := engine.Commit(context.Background(), "rock", release, &reg)
	require.NoError(t, err)
	require.Equal(t, reg, c.Registration)
	require.Zero(t, registry.RegisterCalls())

	_, err = engine.Commit(context.Background(), "rock", release+1, &reg)
	require.ErrorIs(t, err, ErrRegistrationMismatch)

	broken := reg
	broken.Identity = "0x"
	_, err = engine.Commit(context.Background(), "rock", release, &broken)
	require.ErrorIs(t, err, ErrRegistrationMismatch)
}

func TestCommit_RegistrationFailure(t *testing.T) {
	engine, registry, _, _ := newTestEngine(t)
	release := testNow + 120

	registry.RegisterError = errors.New("connection refused")
	_, err := engine.Commit(context.Background(), "rock", release, nil)
	require.ErrorIs(t, err, timeauth.ErrRegistrationFailure)

	// Failures are not cached: the next attempt asks again.
	registry.RegisterError = nil
	_, err = engine.Commit(context.Background(), "rock", release, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), registry.RegisterCalls())
}

func TestCommit_RejectsMalformedRegistration(t *testing.T) {
	manual := clock.NewManual(time.Unix(testNow, 0))
	devnet, err := timeauth.NewDevnet(testutil.DevnetSecret(), manual)
	require.NoError(t, err)

	registry := &timeauth.FakeRegistry{
		Registration: timeauth.Registration{EonKey: "0x", Identity: "0x01"},
	}
	engine := NewEngine(registry, devnet, WithClock(manual))

	_, err = engine.Commit(context.Background(), "rock", testNow+120, nil)
	require.ErrorIs(t, err, timeauth.ErrRegistrationFailure)
}

// countingReader records how many bytes were drawn.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestCommit_FreshBlindingValuePerCommitment(t *testing.T) {
	entropy := &countingReader{r: rand.Reader}
	engine, _, _, _ := newTestEngine(t, WithEntropy(entropy))
	release := testNow + 120

	a, err := engine.Commit(context.Background(), "rock", release, nil)
	require.NoError(t, err)
	b, err := engine.Commit(context.Background(), "rock", release, nil)
	require.NoError(t, err)

	require.Equal(t, 2*codec.SigmaSize, entropy.n)
	require.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestCommit_EntropyUnavailable(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, WithEntropy(bytes.NewReader(nil)))

	c, err := engine.Commit(context.Background(), "rock", testNow+120, nil)
	require.ErrorIs(t, err, codec.ErrEntropyUnavailable)
	require.Equal(t, Commitment{}, c)
}
