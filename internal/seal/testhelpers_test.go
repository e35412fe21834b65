package seal

import (
	"context"
	"strings"
	"testing"
	"time"

	"timelock/internal/clock"
	"timelock/internal/testutil"
	"timelock/internal/timeauth"
)

const testNow = int64(1_700_000_000)

// testSealer bundles a sealer on a devnet with a manual clock and a
// registry that counts calls.
type testSealer struct {
	*Sealer
	clock    *clock.Manual
	devnet   *timeauth.Devnet
	registry *timeauth.FakeRegistry
}

func newTestSealer(t *testing.T) *testSealer {
	t.Helper()
	manual := clock.NewManual(time.Unix(testNow, 0))
	devnet, err := timeauth.NewDevnet(testutil.DevnetSecret(), manual)
	if err != nil {
		t.Fatalf("failed to create devnet: %v", err)
	}
	registry := &timeauth.FakeRegistry{RegistryName: devnet.Name(), Inner: devnet}

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	s, err := NewSealer(store, registry, devnet, WithClock(manual), WithTickInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create sealer: %v", err)
	}
	return &testSealer{Sealer: s, clock: manual, devnet: devnet, registry: registry}
}

// lock seals text read from a fake stdin.
func (s *testSealer) lock(t *testing.T, text, release string) LockResult {
	t.Helper()
	res, err := s.Lock(context.Background(), LockRequest{Stdin: strings.NewReader(text), ReleaseTime: release})
	if err != nil {
		t.Fatalf("failed to lock: %v", err)
	}
	return res
}

// release moves the clock past the release time and margin of res.
func (s *testSealer) release(res LockResult) {
	s.clock.Set(res.ReleaseTime.Add(clock.DefaultMargin))
}
