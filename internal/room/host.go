package room

// HostState is the lifecycle of a room's ownership.
//
//	unset -> assigned -> torn-down
//
// torn-down is terminal. A room in that state is unreachable through the
// registry; reusing its id creates an unrelated room.
type HostState int

const (
	HostUnset HostState = iota
	HostAssigned
	HostTornDown
)

func (s HostState) String() string {
	switch s {
	case HostUnset:
		return "unset"
	case HostAssigned:
		return "assigned"
	case HostTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// hostPolicy is the only place host transitions happen. Callers hold the
// owning room's lock.
type hostPolicy struct {
	state HostState
	id    string
}

// admit makes peerID the host if the room has none. It reports whether
// peerID became host.
func (h *hostPolicy) admit(peerID string) bool {
	if h.state != HostUnset {
		return false
	}
	h.state = HostAssigned
	h.id = peerID
	return true
}

// depart reports whether peerID leaving tears the room down. True is
// returned at most once per room.
func (h *hostPolicy) depart(peerID string) bool {
	if h.state != HostAssigned || h.id != peerID {
		return false
	}
	h.state = HostTornDown
	return true
}

// tearDown forces the terminal state. It reports false if the room was
// already torn down.
func (h *hostPolicy) tearDown() bool {
	if h.state == HostTornDown {
		return false
	}
	h.state = HostTornDown
	return true
}

func (h *hostPolicy) host() (string, bool) {
	if h.state != HostAssigned {
		return "", false
	}
	return h.id, true
}
