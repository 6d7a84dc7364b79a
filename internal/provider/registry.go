package provider

import (
	"sync/atomic"

	"github.com/driveline/driveline/pkg/config"
	"github.com/driveline/driveline/pkg/resilience"
)

// State couples a provider client with its circuit breaker and in-flight
// counter. The router consults it before every dispatch.
type State struct {
	Client  Client
	Breaker *resilience.Breaker

	maxConcurrency int64
	inFlight       int64
}

// NewState wraps a client with a breaker built from the router config
func NewState(client Client, maxConcurrency int, rc config.RouterConfig, onStateChange func(name string, open bool)) *State {
	return &State{
		Client: client,
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:             client.Name(),
			FailureThreshold: rc.FailureThreshold,
			ResetAfter:       rc.ResetAfter,
			CallTimeout:      rc.CallTimeout,
			OnStateChange:    onStateChange,
		}),
		maxConcurrency: int64(maxConcurrency),
	}
}

// TryAcquire reserves an in-flight slot. Returns false when the provider is
// already at its concurrency cap.
func (s *State) TryAcquire() bool {
	for {
		cur := atomic.LoadInt64(&s.inFlight)
		if s.maxConcurrency > 0 && cur >= s.maxConcurrency {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.inFlight, cur, cur+1) {
			return true
		}
	}
}

// Release returns an in-flight slot acquired with TryAcquire
func (s *State) Release() {
	atomic.AddInt64(&s.inFlight, -1)
}

// InFlight reports the current number of reserved slots
func (s *State) InFlight() int64 {
	return atomic.LoadInt64(&s.inFlight)
}

// Registry holds per-provider state keyed by provider name. The map is
// populated once at startup and read-only afterwards.
type Registry struct {
	states map[string]*State
}

// NewRegistry builds provider state for every enabled backend
func NewRegistry(cfg *config.Config, onStateChange func(name string, open bool)) *Registry {
	states := make(map[string]*State)
	for name, client := range FromConfig(cfg) {
		pc, _ := cfg.ProviderByName(name)
		states[name] = NewState(client, pc.MaxConcurrency, cfg.Router, onStateChange)
	}
	return &Registry{states: states}
}

// NewRegistryFromStates builds a registry over pre-built states; used by tests
// and by callers that wire custom clients.
func NewRegistryFromStates(states map[string]*State) *Registry {
	return &Registry{states: states}
}

// Get returns the state for a provider name, or nil when unknown or disabled
func (r *Registry) Get(name string) *State {
	return r.states[name]
}

// Names lists the registered provider names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.states))
	for name := range r.states {
		names = append(names, name)
	}
	return names
}
