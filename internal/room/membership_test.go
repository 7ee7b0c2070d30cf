package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinFirstPeerBecomesOwner(t *testing.T) {
	m := New()

	isOwner, err := m.Join("room1", "peerA")
	require.NoError(t, err)
	assert.True(t, isOwner)

	isOwner, err = m.Join("room1", "peerB")
	require.NoError(t, err)
	assert.False(t, isOwner)

	owner, ok := m.Owner("room1")
	require.True(t, ok)
	assert.Equal(t, "peerA", owner)
}

func TestOwnershipSurvivesOwnerLeaving(t *testing.T) {
	m := New()
	_, _ = m.Join("room1", "peerA")
	_, _ = m.Join("room1", "peerB")

	_, empty := m.Leave("room1", "peerA")
	assert.False(t, empty)

	owner, ok := m.Owner("room1")
	require.True(t, ok)
	assert.Equal(t, "peerA", owner, "ownership is never reassigned even once the owner leaves")
}

func TestLeaveReportsRemainingAndEmpty(t *testing.T) {
	m := New()
	_, _ = m.Join("room1", "peerA")

	remaining, empty := m.Leave("room1", "peerA")
	assert.Equal(t, 0, remaining)
	assert.True(t, empty)
}

func TestDeleteRemovesRoom(t *testing.T) {
	m := New()
	_, _ = m.Join("room1", "peerA")
	m.Delete("room1")
	assert.False(t, m.Exists("room1"))
}

func TestConcurrentJoinsOnlyOneOwner(t *testing.T) {
	m := New()
	const n = 50
	var wg sync.WaitGroup
	owners := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			isOwner, err := m.Join("room1", "peer"+string(rune('a'+i)))
			require.NoError(t, err)
			owners[i] = isOwner
		}(i)
	}
	wg.Wait()

	count := 0
	for _, isOwner := range owners {
		if isOwner {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one concurrent joiner should observe itself as the first")
	assert.Equal(t, n, m.PeerCount("room1"))
}

func TestPeerIDsReturnsAllMembers(t *testing.T) {
	m := New()
	_, _ = m.Join("room1", "peerA")
	_, _ = m.Join("room1", "peerB")

	ids := m.PeerIDs("room1")
	assert.ElementsMatch(t, []string{"peerA", "peerB"}, ids)
}
