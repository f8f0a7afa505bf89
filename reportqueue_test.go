package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRequestsGrantOnly(t *testing.T) {
	h := connected(t, 7)
	h.kp.enqueue(UsageD)

	assert.Equal(t, []ConnHandle{7}, h.tr.grants)
	assert.Empty(t, h.tr.sent)
	assert.Equal(t, pendingReport{key: UsageD, has: true}, h.kp.pending)
}

func TestEnqueueWhileOccupiedDrops(t *testing.T) {
	h := connected(t, 7)
	h.kp.enqueue(UsageD)
	h.kp.enqueue(UsageA)

	assert.Len(t, h.tr.grants, 1)
	assert.Equal(t, UsageD, h.kp.pending.key)
}

func TestGrantWithEmptySlotSendsNeutral(t *testing.T) {
	h := connected(t, 7)
	h.grant()

	require.Len(t, h.tr.sent, 1)
	assert.Equal(t, neutralReport(), h.tr.sent[0])
	assert.Empty(t, h.tr.grants)
}

func TestOneReportPerGrant(t *testing.T) {
	h := connected(t, 7)
	h.kp.enqueue(UsageW)

	h.grant()
	assert.Len(t, h.tr.sent, 1)
	assert.False(t, h.kp.pending.has)

	h.kp.enqueue(UsageA)
	h.grant()
	h.grant()
	h.grant()

	require.Len(t, h.tr.sent, 4)
	assert.Equal(t, []Usage{UsageW, UsageA, UsageNone, UsageNone},
		[]Usage{h.tr.sent[0].Key(), h.tr.sent[1].Key(), h.tr.sent[2].Key(), h.tr.sent[3].Key()})
}
