package refresh

import "sync"

// Transport identifies the status source a cycle pulls from.
type Transport string

const (
	TransportBroadcast Transport = "broadcast"
	TransportAPI       Transport = "api"
)

// Router is the two-state transport selector owned by one engine instance.
// The Broadcast to API transition is sticky: once taken it persists for the
// life of the engine, and there is no path back. A successful API cycle never
// re-derives the state from the device's broadcast flag.
type Router struct {
	mu      sync.Mutex
	current Transport
}

// NewRouter returns a router whose initial state follows the device's
// transport flag.
func NewRouter(useBroadcast bool) *Router {
	current := TransportAPI
	if useBroadcast {
		current = TransportBroadcast
	}
	return &Router{current: current}
}

// Select reports the transport for the cycle being started. Selection never
// retries the other transport within a cycle; the engine's one-shot fallback
// flips the state first via ForceAPI.
func (r *Router) Select() Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// ForceAPI takes the sticky Broadcast to API transition. Calling it when the
// router is already on the API transport is a no-op.
func (r *Router) ForceAPI() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = TransportAPI
}
