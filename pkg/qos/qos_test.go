package qos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMergeOverlayOverridesOnlyPresentBits(t *testing.T) {
	base := DefaultEndpointQoS()
	overlay := QoS{
		Present:        Durability,
		DurabilityKind: Transient,
	}
	merged := Merge(base, overlay)

	require.Equal(t, Transient, merged.DurabilityKind)
	require.Equal(t, BestEffort, merged.ReliabilityKind) // untouched
}

func TestUpdateChangeableIgnoresImmutablePolicies(t *testing.T) {
	cur := DefaultEndpointQoS()
	cur.Partitions = []string{"a"}

	next := QoS{
		Present:         Reliability | Partition,
		ReliabilityKind: Reliable,
		Partitions:      []string{"b"},
	}

	out := UpdateChangeable(cur, next)
	require.Equal(t, []string{"b"}, out.Partitions)
	require.Equal(t, BestEffort, out.ReliabilityKind, "reliability is immutable, must not change")
}

func TestCheckCompatibleReliability(t *testing.T) {
	writer := QoS{Present: Reliability, ReliabilityKind: BestEffort}
	reader := QoS{Present: Reliability, ReliabilityKind: Reliable}

	bad := CheckCompatible(writer, reader)
	require.Len(t, bad, 1)
	require.Equal(t, Reliability, bad[0].Policy)
}

func TestCheckCompatibleDurabilityOrdinal(t *testing.T) {
	writer := QoS{Present: Durability, DurabilityKind: Volatile}
	reader := QoS{Present: Durability, DurabilityKind: TransientLocal}

	bad := CheckCompatible(writer, reader)
	require.Len(t, bad, 1)
	require.Equal(t, Durability, bad[0].Policy)

	writer.DurabilityKind = Persistent
	require.Empty(t, CheckCompatible(writer, reader))
}

func TestCheckCompatibleDeadline(t *testing.T) {
	writer := QoS{Present: Deadline, DeadlinePeriod: 2 * time.Second}
	reader := QoS{Present: Deadline, DeadlinePeriod: time.Second}
	require.NotEmpty(t, CheckCompatible(writer, reader))

	writer.DeadlinePeriod = 500 * time.Millisecond
	require.Empty(t, CheckCompatible(writer, reader))
}
