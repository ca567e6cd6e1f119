// Package scan implements the time-boxed broadcast listen that harvests one
// advertisement from a meter. The radio itself stays behind the Medium
// interface; everything above it is transport-agnostic and testable with a
// fake medium.
package scan

import (
	"context"
	"strings"
)

// Packet is one raw broadcast advertisement as delivered by the medium. The
// service data is the undecoded meter payload.
type Packet struct {
	Address     string
	LocalName   string
	ServiceData []byte
	RSSI        int
}

// Medium is the boundary to the broadcast radio. Scan delivers packets to fn
// until ctx is cancelled, then returns. A non-nil error (other than the ctx
// errors) means the medium could not be opened or failed mid-listen.
type Medium interface {
	Scan(ctx context.Context, fn func(Packet)) error
}

// MediumFunc adapts a function to the Medium interface.
type MediumFunc func(ctx context.Context, fn func(Packet)) error

func (m MediumFunc) Scan(ctx context.Context, fn func(Packet)) error {
	if m == nil {
		<-ctx.Done()
		return nil
	}
	return m(ctx, fn)
}

// NormalizeAddress canonicalizes a broadcast source address so configured and
// observed addresses compare reliably.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
