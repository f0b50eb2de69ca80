package guid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	require.Equal(t, KindParticipant, EntityIDParticipant.Kind())
}

func TestCompareTotalOrder(t *testing.T) {
	a := GUID{Prefix: Prefix{1}, Entity: EntityID{0, 0, 0, 1}}
	b := GUID{Prefix: Prefix{1}, Entity: EntityID{0, 0, 0, 2}}
	c := GUID{Prefix: Prefix{2}, Entity: EntityID{0, 0, 0, 1}}

	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(b, a))
	assert.Equal(t, 0, Compare(a, a))
	assert.Equal(t, -1, Compare(a, c))
}

func TestHashStableAndDistributes(t *testing.T) {
	a := GUID{Prefix: Prefix{1, 2, 3}, Entity: EntityID{0, 0, 0, 1}}
	b := a
	assert.Equal(t, a.Hash(), b.Hash())

	c := GUID{Prefix: Prefix{1, 2, 4}, Entity: EntityID{0, 0, 0, 1}}
	assert.NotEqual(t, a.Hash(), c.Hash())
}
