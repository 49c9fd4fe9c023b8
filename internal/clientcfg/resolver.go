package clientcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gaspardpetit/detpay/internal/logx"
)

// ErrConfiguration indicates the configuration could not be obtained. The
// caller must treat it as "feature unavailable".
var ErrConfiguration = errors.New("client configuration unavailable")

// DefaultEndpoint is the configuration API used when none is configured.
const DefaultEndpoint = "http://localhost:3000/clients/"

const maxBodyBytes = 1 << 20

// Fetcher resolves a client configuration by id.
type Fetcher interface {
	Fetch(ctx context.Context, clientID string) (*ClientConfiguration, error)
}

// Resolver fetches configurations from a well-known HTTP endpoint.
type Resolver struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewResolver returns a Resolver for endpoint. A nil client uses
// http.DefaultClient; a zero timeout disables the per-fetch deadline.
func NewResolver(endpoint string, client *http.Client, timeout time.Duration) *Resolver {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{endpoint: endpoint, client: client, timeout: timeout}
}

// Endpoint returns the configured endpoint.
func (r *Resolver) Endpoint() string { return r.endpoint }

// Fetch performs a single GET <endpoint>/<clientID>. Any failure returns an
// error wrapping ErrConfiguration and no configuration.
func (r *Resolver) Fetch(ctx context.Context, clientID string) (*ClientConfiguration, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: empty client id", ErrConfiguration)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	target := strings.TrimRight(r.endpoint, "/") + "/" + url.PathEscape(clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	req.Header.Set("Accept", "application/json")
	logx.Log.Debug().Str("url", target).Msg("fetching client configuration")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: HTTP error! status: %d", ErrConfiguration, resp.StatusCode)
	}
	var cfg ClientConfiguration
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrConfiguration, err)
	}
	if cfg.ID != "" && cfg.ID != clientID {
		return nil, fmt.Errorf("%w: response for client %q", ErrConfiguration, cfg.ID)
	}
	if cfg.ID == "" {
		cfg.ID = clientID
	}
	return &cfg, nil
}
