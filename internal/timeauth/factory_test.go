package timeauth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"timelock/internal/testutil"
)

func TestNewAuthority(t *testing.T) {
	reg, cipher, err := NewAuthority(Options{Backend: BackendDevnet, DevnetSecret: testutil.DevnetSecret()})
	require.NoError(t, err)
	require.IsType(t, &Devnet{}, reg)
	require.IsType(t, &Devnet{}, cipher)

	reg, _, err = NewAuthority(Options{DevnetSecret: testutil.DevnetSecret()})
	require.NoError(t, err)
	require.Equal(t, BackendDevnet, reg.Name())

	reg, cipher, err = NewAuthority(Options{Backend: BackendHTTP, URL: "http://localhost:8080", DevnetSecret: testutil.DevnetSecret()})
	require.NoError(t, err)
	require.IsType(t, &HTTPRegistry{}, reg)
	require.IsType(t, &Devnet{}, cipher)

	reg, _, err = NewAuthority(Options{Backend: BackendDrand, URL: "http://relay.example"})
	require.NoError(t, err)
	drand, ok := reg.(*DrandAuthority)
	require.True(t, ok)
	require.Equal(t, "http://relay.example/"+drand.ChainHash, drand.BaseURL)
}

func TestNewAuthority_Errors(t *testing.T) {
	for name, opts := range map[string]Options{
		"unknown backend":   {Backend: "carrier-pigeon"},
		"devnet no secret":  {Backend: BackendDevnet},
		"http no url":       {Backend: BackendHTTP, DevnetSecret: testutil.DevnetSecret()},
		"http short secret": {Backend: BackendHTTP, URL: "http://x", DevnetSecret: []byte("short")},
	} {
		_, _, err := NewAuthority(opts)
		require.Error(t, err, name)
	}
}
