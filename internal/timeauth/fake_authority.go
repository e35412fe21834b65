package timeauth

import (
	"context"
	"sync/atomic"

	"timelock/internal/codec"
)

// FakeRegistry is a Registry for tests. It counts calls, injects failures
// and otherwise forwards to Inner, or answers with the fixed values.
type FakeRegistry struct {
	// RegistryName is returned by Name().
	RegistryName string

	// Inner serves calls that are not failed. Optional.
	Inner Registry

	// Registration and Key are returned when Inner is nil.
	Registration Registration
	Key          codec.Hex

	// RegisterError simulates registration failures.
	RegisterError error

	// FetchError simulates key fetch failures.
	FetchError error

	registerCalls atomic.Int64
	fetchCalls    atomic.Int64
}

var _ Registry = (*FakeRegistry)(nil)

func (f *FakeRegistry) Name() string {
	if f.RegistryName == "" {
		return "fake"
	}
	return f.RegistryName
}

func (f *FakeRegistry) RegisterIdentity(ctx context.Context, releaseTimestamp int64) (Registration, error) {
	f.registerCalls.Add(1)
	if f.RegisterError != nil {
		return Registration{}, f.RegisterError
	}
	if f.Inner != nil {
		return f.Inner.RegisterIdentity(ctx, releaseTimestamp)
	}
	reg := f.Registration
	reg.ReleaseTimestamp = releaseTimestamp
	return reg, nil
}

func (f *FakeRegistry) FetchReleaseKey(ctx context.Context, identity codec.Hex) (codec.Hex, error) {
	f.fetchCalls.Add(1)
	if f.FetchError != nil {
		return "", f.FetchError
	}
	if f.Inner != nil {
		return f.Inner.FetchReleaseKey(ctx, identity)
	}
	if f.Key.Empty() {
		return "", ErrKeyNotYetAvailable
	}
	return f.Key, nil
}

// RegisterCalls returns how many times RegisterIdentity was called.
func (f *FakeRegistry) RegisterCalls() int64 {
	return f.registerCalls.Load()
}

// FetchCalls returns how many times FetchReleaseKey was called.
func (f *FakeRegistry) FetchCalls() int64 {
	return f.fetchCalls.Load()
}
