package relay

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// AdmissionGuard throttles reconnect storms from a single source IP before
// the Hub ever constructs a Transport for it. Grounded in the teacher's
// controller/server.go WAF check, repurposed from rate-limiting proxied
// HTTP requests to rate-limiting raw connection attempts.
type AdmissionGuard struct {
	cache *cache.Cache
	limit int
}

// NewAdmissionGuard allows up to limit connection attempts from one source
// IP within window before rejecting further attempts.
func NewAdmissionGuard(limit int, window time.Duration) *AdmissionGuard {
	return &AdmissionGuard{
		cache: cache.New(window, 2*window),
		limit: limit,
	}
}

// Allow records one attempt from ip and reports whether it is within the
// configured rate.
func (g *AdmissionGuard) Allow(ip string) bool {
	if count, found := g.cache.Get(ip); found {
		if count.(int) >= g.limit {
			return false
		}
		_ = g.cache.IncrementInt(ip, 1)
		return true
	}
	g.cache.Set(ip, 1, cache.DefaultExpiration)
	return true
}
