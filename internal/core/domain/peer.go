package domain

import "time"

// PeerState is the lifecycle of one direct media connection in the voice mesh.
type PeerState string

const (
	PeerAbsent     PeerState = "absent"
	PeerConnecting PeerState = "connecting"
	PeerConnected  PeerState = "connected"
	PeerClosed     PeerState = "closed"
)

// PeerLink tracks one (local, remote) pair in the mesh, keyed by the remote
// client id.
type PeerLink struct {
	Remote    ClientID
	State     PeerState
	Initiator bool
	OpenedAt  time.Time
	Stats     AudioStats
}

// AudioStats aggregates what the inbound RTP/RTCP pump observes for a remote
// audio track.
type AudioStats struct {
	PacketsReceived uint64
	BytesReceived   uint64
	LastSequence    uint16
	Jitter          time.Duration
	LastReport      time.Time
}

// ShouldInitiate is the symmetry-breaking rule for the mesh: the client whose
// id sorts lexicographically greater sends the first offer, so at most one
// side of a pair initiates.
func ShouldInitiate(self, other ClientID) bool {
	return string(self) > string(other)
}
