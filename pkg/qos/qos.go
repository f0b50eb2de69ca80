// Package qos implements the QoS object of spec section 3: a bitmask of
// which policies are present, the policy values themselves, and the
// delta/merge/compatibility operations spec sections 4.5/4.6 need.
package qos

import "time"

// Policy identifies one QoS policy as a single bit so a QoS object can
// carry a "present" bitmask of which policies it sets.
type Policy uint32

const (
	Reliability Policy = 1 << iota
	Durability
	Deadline
	LatencyBudget
	Liveliness
	Ownership
	OwnershipStrength
	DestinationOrder
	History
	ResourceLimits
	Lifespan
	Partition
	UserData
	TopicData
	GroupData
	TypeInformation
	AutoDisposeUnregisteredInstances
)

// Changeable is the bitmask of policies that may be updated after
// creation; all others are immutable. Only the delta between old and
// new QoS within this mask is applied by UpdateChangeable.
const Changeable = Partition | UserData | TopicData | GroupData | LatencyBudget | OwnershipStrength | Lifespan

type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

type DurabilityKind int

// Ordinal scale: writer must offer a durability >= reader's request.
const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

type OwnershipKind int

const (
	Shared OwnershipKind = iota
	Exclusive
)

type LivelinessKind int

// Ordinal scale: writer must offer a liveliness kind >= reader's request.
const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// QoS holds the subset of DDS QoS policies spec.md names as in scope for
// matching and state transitions.
type QoS struct {
	Present Policy
	Aliased Policy // which string/sequence fields borrow external storage

	ReliabilityKind   ReliabilityKind
	MaxBlockingTime   time.Duration
	DurabilityKind    DurabilityKind
	DeadlinePeriod    time.Duration
	LatencyBudgetDur  time.Duration
	LivelinessKind    LivelinessKind
	LeaseDuration     time.Duration
	OwnershipKind     OwnershipKind
	OwnershipStrength int32
	HistoryKind       HistoryKind
	HistoryDepth      int32
	ResourceMaxSamples  int32
	ResourceMaxInstances int32
	LifespanDuration  time.Duration
	Partitions        []string
	UserData          []byte
	TopicData         []byte
	GroupData         []byte
	AutoDisposeUnregistered bool
}

// Has reports whether p is present.
func (q *QoS) Has(p Policy) bool { return q.Present&p != 0 }

// DefaultEndpointQoS returns the default endpoint QoS, the baseline
// announced SEDP values are merged onto (spec section 4.5 step 3); it
// does no merging itself.
func DefaultEndpointQoS() QoS {
	return QoS{
		Present: Reliability | Durability | Ownership | History | ResourceLimits,

		ReliabilityKind:      BestEffort,
		DurabilityKind:       Volatile,
		OwnershipKind:        Shared,
		HistoryKind:          KeepLast,
		HistoryDepth:         1,
		ResourceMaxSamples:   -1,
		ResourceMaxInstances: -1,
		AutoDisposeUnregistered: true,
	}
}

// Merge returns a copy of base with every policy present in overlay
// overwritten, as spec section 4.5 step 3 requires when folding an
// announced SEDP QoS onto the default-endpoint QoS.
func Merge(base, overlay QoS) QoS {
	out := base
	for bit := Policy(1); bit != 0; bit <<= 1 {
		if overlay.Present&bit == 0 {
			continue
		}
		out.Present |= bit
		applyPolicy(&out, overlay, bit)
	}
	return out
}

func applyPolicy(out *QoS, overlay QoS, bit Policy) {
	switch bit {
	case Reliability:
		out.ReliabilityKind = overlay.ReliabilityKind
		out.MaxBlockingTime = overlay.MaxBlockingTime
	case Durability:
		out.DurabilityKind = overlay.DurabilityKind
	case Deadline:
		out.DeadlinePeriod = overlay.DeadlinePeriod
	case LatencyBudget:
		out.LatencyBudgetDur = overlay.LatencyBudgetDur
	case Liveliness:
		out.LivelinessKind = overlay.LivelinessKind
		out.LeaseDuration = overlay.LeaseDuration
	case Ownership:
		out.OwnershipKind = overlay.OwnershipKind
	case OwnershipStrength:
		out.OwnershipStrength = overlay.OwnershipStrength
	case History:
		out.HistoryKind = overlay.HistoryKind
		out.HistoryDepth = overlay.HistoryDepth
	case ResourceLimits:
		out.ResourceMaxSamples = overlay.ResourceMaxSamples
		out.ResourceMaxInstances = overlay.ResourceMaxInstances
	case Lifespan:
		out.LifespanDuration = overlay.LifespanDuration
	case Partition:
		out.Partitions = overlay.Partitions
	case UserData:
		out.UserData = overlay.UserData
	case TopicData:
		out.TopicData = overlay.TopicData
	case GroupData:
		out.GroupData = overlay.GroupData
	case AutoDisposeUnregisteredInstances:
		out.AutoDisposeUnregistered = overlay.AutoDisposeUnregistered
	}
}

// UpdateChangeable applies only the policies in newQoS that fall within
// the Changeable mask, leaving immutable policies untouched.
func UpdateChangeable(cur, newQoS QoS) QoS {
	out := cur
	for bit := Policy(1); bit != 0; bit <<= 1 {
		if bit&Changeable == 0 || newQoS.Present&bit == 0 {
			continue
		}
		out.Present |= bit
		applyPolicy(&out, newQoS, bit)
	}
	return out
}

// Incompatibility names one RXO policy mismatch between a requested
// (reader) and offered (writer) QoS.
type Incompatibility struct {
	Policy Policy
	Reason string
}

// CheckCompatible implements the RXO matrix of spec section 4.5: for
// each policy both sides present, the offered (writer) side must be at
// least as strong as the requested (reader) side. Returns all
// mismatches found; compatible iff the returned slice is empty.
func CheckCompatible(writer, reader QoS) []Incompatibility {
	var bad []Incompatibility

	if reader.Has(Reliability) && writer.Has(Reliability) {
		if reader.ReliabilityKind == Reliable && writer.ReliabilityKind != Reliable {
			bad = append(bad, Incompatibility{Reliability, "reader requires RELIABLE, writer offers BEST_EFFORT"})
		}
	}

	if reader.Has(Durability) && writer.Has(Durability) {
		if writer.DurabilityKind < reader.DurabilityKind {
			bad = append(bad, Incompatibility{Durability, "writer durability weaker than requested"})
		}
	}

	if reader.Has(Ownership) && writer.Has(Ownership) {
		if writer.OwnershipKind != reader.OwnershipKind {
			bad = append(bad, Incompatibility{Ownership, "ownership kind mismatch"})
		}
	}

	if reader.Has(Liveliness) && writer.Has(Liveliness) {
		if writer.LivelinessKind < reader.LivelinessKind {
			bad = append(bad, Incompatibility{Liveliness, "writer liveliness kind weaker than requested"})
		} else if writer.LeaseDuration > reader.LeaseDuration && reader.LeaseDuration > 0 {
			bad = append(bad, Incompatibility{Liveliness, "writer lease duration longer than requested"})
		}
	}

	if reader.Has(Deadline) && writer.Has(Deadline) {
		if reader.DeadlinePeriod > 0 && (writer.DeadlinePeriod == 0 || writer.DeadlinePeriod > reader.DeadlinePeriod) {
			bad = append(bad, Incompatibility{Deadline, "writer deadline period longer than requested"})
		}
	}

	return bad
}
