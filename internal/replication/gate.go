// Package replication implements inbound gossip admission and the outbound
// fan-out worker.
package replication

import (
	"errors"
	"strconv"

	"github.com/google/uuid"
)

// MaxHops is the maximum X-Hop value accepted before a batch is dropped as
// over-propagated (spec.md section 5, loop/fan-out bound).
const MaxHops = 3

var (
	ErrMissingPeerToken = errors.New("missing X-Peer-Token")
	ErrInvalidPeerToken = errors.New("invalid peer token")
	ErrLoopDetected      = errors.New("loop detected: my own relay id")
	ErrMaxHopsExceeded   = errors.New("max hops exceeded")
)

// Gate evaluates the headers of an inbound /relay/replicate request.
type Gate struct {
	relayID uuid.UUID
}

func NewGate(relayID uuid.UUID) *Gate {
	return &Gate{relayID: relayID}
}

// CheckLoop reports whether the X-Relay-Id header names this relay itself,
// which would indicate the batch looped back to its origin.
func (g *Gate) CheckLoop(relayIDHeader string) error {
	if relayIDHeader == "" {
		return nil
	}
	if relayIDHeader == g.relayID.String() {
		return ErrLoopDetected
	}
	return nil
}

// CheckHops reports whether the X-Hop header exceeds MaxHops. A missing or
// non-numeric header is treated as within bounds, matching the original
// relay's tolerant parsing.
func (g *Gate) CheckHops(hopHeader string) error {
	if hopHeader == "" {
		return nil
	}
	hops, err := strconv.Atoi(hopHeader)
	if err != nil {
		return nil
	}
	if hops > MaxHops {
		return ErrMaxHopsExceeded
	}
	return nil
}
