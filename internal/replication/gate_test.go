package replication_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dooapps/tisane-relay/internal/replication"
)

func TestCheckLoopDetectsSelf(t *testing.T) {
	relayID := uuid.New()
	g := replication.NewGate(relayID)

	assert.NoError(t, g.CheckLoop(""))
	assert.NoError(t, g.CheckLoop(uuid.New().String()))
	assert.ErrorIs(t, g.CheckLoop(relayID.String()), replication.ErrLoopDetected)
}

func TestCheckHopsEnforcesLimit(t *testing.T) {
	g := replication.NewGate(uuid.New())

	assert.NoError(t, g.CheckHops(""))
	assert.NoError(t, g.CheckHops("1"))
	assert.NoError(t, g.CheckHops("3"))
	assert.ErrorIs(t, g.CheckHops("4"), replication.ErrMaxHopsExceeded)
	// Non-numeric values are tolerated, matching the original relay's
	// best-effort header parsing.
	assert.NoError(t, g.CheckHops("not-a-number"))
}
