package seal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"timelock/internal/reveal"
	"timelock/internal/timeauth"
)

func TestTryMaterialize_BeforeRelease(t *testing.T) {
	s, env, itemDir := sealedItem(t)

	updated, err := s.TryMaterialize(context.Background(), env)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if updated.State != StateSealed {
		t.Errorf("expected sealed, got %s", updated.State)
	}
	if _, err := os.Stat(filepath.Join(itemDir, "unsealed")); !os.IsNotExist(err) {
		t.Error("unsealed file written before release")
	}
	// Readiness is decided locally; nothing is fetched early.
	if s.registry.FetchCalls() != 0 {
		t.Errorf("expected no key fetch before release, got %d", s.registry.FetchCalls())
	}
}

func TestTryMaterialize_WithinMargin(t *testing.T) {
	s, env, _ := sealedItem(t)
	s.clock.Set(env.ReleaseTime.Add(time.Second))

	updated, err := s.TryMaterialize(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	if updated.State != StateSealed || s.registry.FetchCalls() != 0 {
		t.Error("envelope must stay sealed inside the release margin")
	}
}

func TestTryMaterialize_AfterRelease(t *testing.T) {
	s, env, itemDir := sealedItem(t)
	s.clock.Set(env.ReleaseTime.Add(10 * time.Second))

	updated, err := s.TryMaterialize(context.Background(), env)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if updated.State != StateUnlocked {
		t.Fatalf("expected unlocked, got %s", updated.State)
	}

	data, err := os.ReadFile(filepath.Join(itemDir, "unsealed"))
	if err != nil {
		t.Fatalf("unsealed file missing: %v", err)
	}
	if string(data) != "secret" {
		t.Errorf("expected 'secret', got %q", data)
	}
	if _, err := os.Stat(filepath.Join(itemDir, "unsealed.pending")); !os.IsNotExist(err) {
		t.Error("pending file left behind")
	}

	onDisk, err := s.Store().Load(env.ID)
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.State != StateUnlocked {
		t.Errorf("metadata not updated, got %s", onDisk.State)
	}

	// Idempotent.
	again, err := s.TryMaterialize(context.Background(), updated)
	if err != nil || again.State != StateUnlocked {
		t.Errorf("second materialization changed the envelope: %v", err)
	}
}

func TestTryMaterialize_KeyNotPublishedYet(t *testing.T) {
	s, env, _ := sealedItem(t)
	s.clock.Set(env.ReleaseTime.Add(10 * time.Second))
	s.registry.FetchError = timeauth.ErrKeyNotYetAvailable

	updated, err := s.TryMaterialize(context.Background(), env)
	if err != nil {
		t.Fatalf("a late key is not an error, got: %v", err)
	}
	if updated.State != StateSealed {
		t.Errorf("expected sealed, got %s", updated.State)
	}
	if s.registry.FetchCalls() != 1 {
		t.Errorf("expected one fetch attempt, got %d", s.registry.FetchCalls())
	}
}

func TestTryMaterialize_FetchFailure(t *testing.T) {
	s, env, itemDir := sealedItem(t)
	s.clock.Set(env.ReleaseTime.Add(10 * time.Second))
	s.registry.FetchError = errors.New("service unavailable")

	_, err := s.TryMaterialize(context.Background(), env)
	if !errors.Is(err, reveal.ErrRevealFailure) {
		t.Fatalf("expected reveal failure, got: %v", err)
	}
	onDisk, _ := s.Store().Load(env.ID)
	if onDisk.State != StateSealed {
		t.Errorf("failed reveal must leave the envelope sealed, got %s", onDisk.State)
	}
	if _, err := os.Stat(filepath.Join(itemDir, "unsealed")); !os.IsNotExist(err) {
		t.Error("unsealed file written after a failed reveal")
	}
}

func TestTryMaterialize_OtherRegistry(t *testing.T) {
	s, env, _ := sealedItem(t)
	s.clock.Set(env.ReleaseTime.Add(10 * time.Second))
	env.Registry = "drand"

	updated, err := s.TryMaterialize(context.Background(), env)
	if err != nil {
		t.Fatalf("expected no-op, got: %v", err)
	}
	if updated.State != StateSealed || s.registry.FetchCalls() != 0 {
		t.Error("envelopes of another registry must be left alone")
	}
}

func TestRecoverPendingUnseal(t *testing.T) {
	testCases := []struct {
		name         string
		state        string
		wantPending  bool
		wantUnsealed bool
	}{
		{"sealed aborts", StateSealed, false, false},
		{"unlocked completes", StateUnlocked, false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, env, itemDir := sealedItem(t)
			env.State = tc.state
			if err := os.WriteFile(filepath.Join(itemDir, "unsealed.pending"), []byte("secret"), 0600); err != nil {
				t.Fatal(err)
			}

			if err := recoverPendingUnseal(env, itemDir); err != nil {
				t.Fatalf("recovery failed: %v", err)
			}

			_, err := os.Stat(filepath.Join(itemDir, "unsealed.pending"))
			if (err == nil) != tc.wantPending {
				t.Errorf("pending exists = %v, want %v", err == nil, tc.wantPending)
			}
			_, err = os.Stat(filepath.Join(itemDir, "unsealed"))
			if (err == nil) != tc.wantUnsealed {
				t.Errorf("unsealed exists = %v, want %v", err == nil, tc.wantUnsealed)
			}
		})
	}
}

func TestUnseal_StillSealed(t *testing.T) {
	s := newTestSealer(t)
	res := s.lock(t, "hello", "90s")

	_, err := s.Unseal(context.Background(), res.ID, false)
	if !errors.Is(err, ErrStillSealed) {
		t.Fatalf("expected ErrStillSealed, got: %v", err)
	}
	if !strings.Contains(err.Error(), "opens in 90s") {
		t.Errorf("expected remaining time in error, got: %v", err)
	}
}

func TestUnseal_AfterRelease(t *testing.T) {
	s := newTestSealer(t)
	res := s.lock(t, "hello world", "")
	s.release(res)

	out, err := s.Unseal(context.Background(), res.ID, false)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(out.Plaintext) != "hello world" {
		t.Errorf("expected 'hello world', got %q", out.Plaintext)
	}
	if out.Envelope.State != StateUnlocked {
		t.Errorf("expected unlocked, got %s", out.Envelope.State)
	}

	// Opening again reads the materialized file without a new fetch.
	fetches := s.registry.FetchCalls()
	again, err := s.Unseal(context.Background(), res.ID, false)
	if err != nil || string(again.Plaintext) != "hello world" {
		t.Errorf("second unseal failed: %v", err)
	}
	if s.registry.FetchCalls() != fetches {
		t.Error("second unseal fetched the key again")
	}
}

func TestUnseal_SharedKeyFetchedOnce(t *testing.T) {
	s := newTestSealer(t)
	a := s.lock(t, "first", "5m")
	b := s.lock(t, "second", "5m")
	s.release(a)

	for _, id := range []string{a.ID, b.ID} {
		if _, err := s.Unseal(context.Background(), id, false); err != nil {
			t.Fatalf("unseal %s: %v", id, err)
		}
	}
	if s.registry.FetchCalls() != 1 {
		t.Errorf("expected one key fetch for a shared identity, got %d", s.registry.FetchCalls())
	}
}

func TestUnseal_Wait(t *testing.T) {
	s := newTestSealer(t)
	res := s.lock(t, "patience", "")

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.release(res)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := s.Unseal(ctx, res.ID, true)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(out.Plaintext) != "patience" {
		t.Errorf("expected 'patience', got %q", out.Plaintext)
	}
}

func TestUnseal_WaitCanceled(t *testing.T) {
	s := newTestSealer(t)
	res := s.lock(t, "never", "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Unseal(ctx, res.ID, true)
	if err == nil {
		t.Fatal("expected error when the wait is canceled")
	}

	onDisk, _ := s.Store().Load(res.ID)
	if onDisk.State != StateSealed {
		t.Errorf("expected sealed, got %s", onDisk.State)
	}
}

func TestUnseal_WaitOtherRegistry(t *testing.T) {
	s, env, itemDir := sealedItem(t)
	env.Registry = "drand"
	if err := saveMetadata(itemDir, env); err != nil {
		t.Fatal(err)
	}

	_, err := s.Unseal(context.Background(), env.ID, true)
	if err == nil || !strings.Contains(err.Error(), "sealed with registry drand") {
		t.Errorf("expected registry mismatch error, got: %v", err)
	}
}

func TestUnseal_CorruptedItem(t *testing.T) {
	s, env, itemDir := sealedItem(t)
	if err := os.WriteFile(filepath.Join(itemDir, "unsealed"), []byte("leak"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Unseal(context.Background(), env.ID, false); err == nil {
		t.Error("expected validation error for corrupted item")
	}
}
