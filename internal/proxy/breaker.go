package proxy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the per-API circuit breakers. Zero values take the
// defaults below.
type BreakerSettings struct {
	Disabled bool
	// MinRequests is the number of requests in an interval before the
	// failure ratio is considered.
	MinRequests uint32
	// FailureRatio trips the breaker when reached.
	FailureRatio float64
	// Interval resets closed-state counts.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probes are allowed while half-open.
	HalfOpenRequests uint32
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.MinRequests == 0 {
		s.MinRequests = 5
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.6
	}
	if s.Interval <= 0 {
		s.Interval = 10 * time.Second
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 3
	}
	return s
}

// breakerSet lazily creates one breaker per API name.
type breakerSet struct {
	settings BreakerSettings
	log      *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet(settings BreakerSettings, log *slog.Logger) *breakerSet {
	return &breakerSet{
		settings: settings.withDefaults(),
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *breakerSet) get(api string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[api]; ok {
		return cb
	}
	s := b.settings
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        api,
		MaxRequests: s.HalfOpenRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn("proxy circuit breaker state change", "api", name, "from", from.String(), "to", to.String())
		},
	})
	b.breakers[api] = cb
	return cb
}

// State reports the breaker state for api, or closed if none exists yet.
func (b *breakerSet) State(api string) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.breakers[api]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}
