package refresh

import "testing"

func TestRouter_InitialStateFollowsBroadcastFlag(t *testing.T) {
	if got := NewRouter(true).Select(); got != TransportBroadcast {
		t.Fatalf("broadcast flag set: selected %s", got)
	}
	if got := NewRouter(false).Select(); got != TransportAPI {
		t.Fatalf("broadcast flag clear: selected %s", got)
	}
}

func TestRouter_ForceAPIIsSticky(t *testing.T) {
	r := NewRouter(true)
	r.ForceAPI()

	// No code path reverts the transition; repeated selections must keep
	// reporting the API transport.
	for i := 0; i < 50; i++ {
		if got := r.Select(); got != TransportAPI {
			t.Fatalf("selection %d reverted to %s", i, got)
		}
	}
}

func TestRouter_ForceAPIOnAPIRouterIsNoop(t *testing.T) {
	r := NewRouter(false)
	r.ForceAPI()
	if got := r.Select(); got != TransportAPI {
		t.Fatalf("selected %s", got)
	}
}
