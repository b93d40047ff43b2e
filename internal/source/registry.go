package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// RegistrationEvent is emitted (never fatal to the registry) when one
// adapter fails to register. Isolating the failure keeps the rest of the
// registry usable.
type RegistrationEvent struct {
	SourceID string
	Err      error
}

type entry struct {
	metadata    Metadata
	constructor Constructor
	enabled     bool

	mu       sync.Mutex
	adapter  Adapter
	built    bool
	buildErr error

	breaker *gobreaker.CircuitBreaker
}

// Registry owns lazy construction, feature flags, and name normalization
// for every registered source. A per-source circuit breaker composes with
// the run-scoped rate-limit cooldown: three consecutive
// server/network/timeout failures for one source trip its breaker open,
// independent of any single-goal retry budget.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry // keyed by normalized id
	onFailed func(RegistrationEvent)
}

// NewRegistry creates an empty Registry. onFailed, if non-nil, is invoked
// for every source_registration_failed condition instead of the registry
// refusing to start.
func NewRegistry(onFailed func(RegistrationEvent)) *Registry {
	if onFailed == nil {
		onFailed = func(e RegistrationEvent) {
			slog.Warn("source registration failed", "source_id", e.SourceID, "error", e.Err)
		}
	}
	return &Registry{entries: make(map[string]*entry), onFailed: onFailed}
}

// Register validates structural consistency (metadata.id normalizes to
// itself, a constructor is present, a required API key env var is set) and
// stores the constructor for lazy construction. enabled gates the feature
// flag without affecting normalization or lookup by alias. A registration
// failure is isolated to this source; the rest of the registry loads.
func (r *Registry) Register(meta Metadata, enabled bool, ctor Constructor) {
	id := NormalizeName(meta.ID)
	if id != meta.ID {
		r.onFailed(RegistrationEvent{SourceID: meta.ID, Err: fmt.Errorf("metadata.id %q does not satisfy norm(id)==id (want %q)", meta.ID, id)})
		return
	}
	if ctor == nil {
		r.onFailed(RegistrationEvent{SourceID: meta.ID, Err: fmt.Errorf("no constructor provided")})
		return
	}
	if meta.RequiresAPIKey && meta.APIKeyEnvVar != "" && os.Getenv(meta.APIKeyEnvVar) == "" {
		r.onFailed(RegistrationEvent{SourceID: meta.ID, Err: fmt.Errorf("required environment variable %s is not set", meta.APIKeyEnvVar)})
		return
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Interval:    0, // counts never reset mid-run
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &entry{metadata: meta, constructor: ctor, enabled: enabled, breaker: breaker}
}

// ErrDisabled is returned by Get when a source is registered but disabled
// by feature flag.
var ErrDisabled = fmt.Errorf("source disabled")

// ErrUnknownSource is returned by Get/Metadata for an unregistered or
// unrecognized source id/alias.
var ErrUnknownSource = fmt.Errorf("unknown source")

// Get lazily constructs (once) and returns the Adapter for id or any known
// alias of it.
func (r *Registry) Get(id string) (Adapter, error) {
	norm := NormalizeName(id)
	r.mu.RLock()
	e, ok := r.entries[norm]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSource
	}
	if !e.enabled {
		return nil, ErrDisabled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built {
		return e.adapter, e.buildErr
	}
	adapter, err := e.constructor()
	e.adapter, e.buildErr, e.built = adapter, err, true
	if err != nil {
		r.onFailed(RegistrationEvent{SourceID: norm, Err: err})
	}
	return adapter, err
}

// Metadata returns the registered metadata without constructing the
// adapter, for use by the selector and assessor prompts.
func (r *Registry) Metadata(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[NormalizeName(id)]
	if !ok {
		return Metadata{}, false
	}
	return e.metadata, true
}

// All returns the metadata of every enabled, registered source.
func (r *Registry) All() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.metadata)
		}
	}
	return out
}

// ExecuteSearch runs fn through the source's circuit breaker. When the
// breaker is open, it returns gobreaker.ErrOpenState without calling fn,
// so the agent can treat it the same as a classified server/network
// failure without spending a real network round trip.
func (r *Registry) ExecuteSearch(ctx context.Context, id string, fn func(context.Context) (QueryResult, error)) (QueryResult, error) {
	r.mu.RLock()
	e, ok := r.entries[NormalizeName(id)]
	r.mu.RUnlock()
	if !ok {
		return QueryResult{}, ErrUnknownSource
	}

	var callErr error // the real error from fn, if any; distinct from the breaker's own error
	result, breakerErr := e.breaker.Execute(func() (any, error) {
		res, err := fn(ctx)
		callErr = err
		if err != nil {
			return res, err
		}
		if !res.Success && isBreakerWorthy(res.HTTPCode) {
			return res, fmt.Errorf("source error http_code=%d", res.HTTPCode)
		}
		return res, nil
	})

	if breakerErr == gobreaker.ErrOpenState || breakerErr == gobreaker.ErrTooManyRequests {
		return QueryResult{}, breakerErr
	}
	qr, _ := result.(QueryResult)
	return qr, callErr
}

func isBreakerWorthy(httpCode int) bool {
	switch httpCode {
	case 0, 500, 502, 503, 408, 504:
		return true
	default:
		return false
	}
}
