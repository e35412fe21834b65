package timeauth

import (
	"fmt"
	"net/http"
	"time"

	"timelock/internal/clock"
)

// Backend names accepted by NewAuthority.
const (
	BackendDevnet = "devnet"
	BackendHTTP   = "http"
	BackendDrand  = "drand"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// URL is the service base URL for the http and drand backends.
	URL     string
	Timeout time.Duration
	// DevnetSecret keys the devnet network. The http backend talks to a
	// devnet server, so it needs the same secret for the primitive.
	DevnetSecret []byte
	Clock        clock.Source
	HTTPClient   HTTPDoer
}

// NewAuthority builds the registry and primitive for opts.Backend.
func NewAuthority(opts Options) (Registry, Cipher, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	switch opts.Backend {
	case BackendDevnet, "":
		d, err := NewDevnet(opts.DevnetSecret, opts.Clock)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil

	case BackendHTTP:
		if opts.URL == "" {
			return nil, nil, fmt.Errorf("http backend requires a url")
		}
		cipher, err := NewDevnet(opts.DevnetSecret, opts.Clock)
		if err != nil {
			return nil, nil, err
		}
		reg := NewHTTPRegistry(opts.URL, client)
		reg.Timeout = opts.Timeout
		return reg, cipher, nil

	case BackendDrand:
		d := NewDrandAuthorityWithDeps(client, nil)
		if opts.URL != "" {
			d.BaseURL = opts.URL + "/" + d.ChainHash
			d.Timelock = &RealTimelockBox{BaseURL: opts.URL, ChainHash: d.ChainHash}
		}
		return d, d, nil

	default:
		return nil, nil, fmt.Errorf("unknown registry backend %q", opts.Backend)
	}
}
