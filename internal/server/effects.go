package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/devloop-sh/devloop/internal/config"
)

// DelayParam is the dynamic query parameter simulating a time-to-first-byte
// delay. It overrides any route-level delay.
const DelayParam = "bslive.delay.ms"

// queryDelay extracts the dynamic delay, if present and parseable.
func queryDelay(r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get(DelayParam)
	if raw == "" {
		return 0, false
	}
	ms, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// routeDelay returns the route's own delay when the query did not already
// claim precedence.
func routeDelay(route *config.Route, r *http.Request) time.Duration {
	if _, ok := queryDelay(r); ok {
		return 0 // the dynamic pre-handler already slept
	}
	return time.Duration(route.DelayMS) * time.Millisecond
}

// sleepFor blocks for d, honouring request cancellation.
func sleepFor(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// applyCache adds the cache-suppression header triple for the default
// "prevent" policy; "default" adds nothing.
func applyCache(header http.Header, opt config.CacheOpt) {
	if opt.OrDefault() != config.CachePrevent {
		return
	}
	header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
}

// applyCORS adds permissive cross-origin headers.
func applyCORS(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "*")
	header.Set("Access-Control-Allow-Headers", "*")
	header.Set("Access-Control-Expose-Headers", "*")
}
