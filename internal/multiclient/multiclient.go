// Package multiclient constructs and initializes one OIDC client per
// named audience (frontend, service, websocket, admin, tracker),
// sharing a server URL and realm but each with its own client
// credentials and scopes. Uses hashicorp/go-multierror to collect
// partial-failure results from parallel client initialization, so
// some audiences can fail without aborting the whole factory.
package multiclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/hivewarden-like/idpguard/internal/oidc"
)

// ClientSpec configures one named client entry.
type ClientSpec struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Config is the shared factory configuration: server URL and realm
// common to every audience, plus the per-audience specs. FrontendURL
// and APIBaseURL are carried through from configuration for callers
// that need the externally-visible URLs of the services this identity
// provider fronts (CORS origins, absolute redirect/callback links) —
// the factory itself doesn't consume them.
type Config struct {
	ServerURL   string
	Realm       string
	FrontendURL string
	APIBaseURL  string
	Clients     []ClientSpec
}

// Factory builds and holds one oidc.Client per successfully
// initialized audience.
type Factory struct {
	deps oidc.Deps

	mu      sync.RWMutex
	clients map[string]*oidc.Client
	failed  map[string]error
}

// New constructs a Factory. Call Init to build and initialize the
// configured clients.
func New(deps oidc.Deps) *Factory {
	return &Factory{
		deps:    deps,
		clients: map[string]*oidc.Client{},
		failed:  map[string]error{},
	}
}

type initResult struct {
	name   string
	client *oidc.Client
	err    error
}

// Init constructs one oidc.Client per spec in cfg.Clients and
// initializes them concurrently. A client whose discovery fetch fails
// is not returned by Client and is recorded in Failed(); Init itself only
// returns an error if every single configured client failed.
func (f *Factory) Init(ctx context.Context, cfg Config) error {
	results := make(chan initResult, len(cfg.Clients))

	for _, spec := range cfg.Clients {
		spec := spec
		go func() {
			oidcCfg := oidc.Config{
				ServerURL:    cfg.ServerURL,
				Realm:        cfg.Realm,
				ClientID:     spec.ClientID,
				ClientSecret: spec.ClientSecret,
				RedirectURI:  spec.RedirectURI,
				Scopes:       spec.Scopes,
			}
			client := oidc.New(oidcCfg, f.deps)
			if err := client.Initialize(ctx); err != nil {
				results <- initResult{name: spec.Name, err: fmt.Errorf("multiclient: init %q: %w", spec.Name, err)}
				return
			}
			results <- initResult{name: spec.Name, client: client}
		}()
	}

	var errs *multierror.Error
	f.mu.Lock()
	for range cfg.Clients {
		r := <-results
		if r.err != nil {
			f.failed[r.name] = r.err
			errs = multierror.Append(errs, r.err)
			continue
		}
		f.clients[r.name] = r.client
	}
	numClients := len(f.clients)
	f.mu.Unlock()

	if numClients == 0 && len(cfg.Clients) > 0 {
		return fmt.Errorf("multiclient: every client failed to initialize: %w", errs.ErrorOrNil())
	}
	return nil
}

// Client returns the named audience's client, or false if it was never
// configured or failed to initialize.
func (f *Factory) Client(name string) (*oidc.Client, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.clients[name]
	return c, ok
}

// Failed returns the initialization errors for every audience that
// could not be constructed, keyed by name.
func (f *Factory) Failed() map[string]error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]error, len(f.failed))
	for k, v := range f.failed {
		out[k] = v
	}
	return out
}

// Shutdown disposes every successfully initialized client, releasing
// their caches.
func (f *Factory) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		c.Dispose()
	}
}
