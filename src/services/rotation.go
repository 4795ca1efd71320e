package services

import (
	"sort"

	"github.com/quizforge/credpool/src/config"
	"github.com/quizforge/credpool/src/models"
)

// RotationOrderBuilder produces a deterministic preference order over
// keys based on their slot numbers. Configured slot ranges, in their
// declared order, form the leading partitions; any key whose slot falls
// outside every range lands in a trailing partition. A newly registered
// credential is therefore always selectable without reconfiguration; at
// worst it rotates last.
type RotationOrderBuilder struct {
	ranges []config.SlotRange
}

// NewRotationOrderBuilder creates a builder over the configured ranges.
func NewRotationOrderBuilder(ranges []config.SlotRange) *RotationOrderBuilder {
	return &RotationOrderBuilder{ranges: ranges}
}

// Partitions splits keys into the configured bands. Within each partition
// keys are ordered by ascending slot (id as tiebreak), so the output is
// stable: the same key set and the same ranges always produce the same
// order. Empty partitions are omitted. The result is rebuilt on demand;
// it is a pure function of its inputs and is never cached across a
// quota-reset boundary.
func (b *RotationOrderBuilder) Partitions(keys []models.Key) [][]models.Key {
	var out [][]models.Key
	claimed := make([]bool, len(keys))

	for _, r := range b.ranges {
		var part []models.Key
		for i, k := range keys {
			if !claimed[i] && r.Contains(k.Slot) {
				claimed[i] = true
				part = append(part, k)
			}
		}
		if len(part) > 0 {
			sortBySlot(part)
			out = append(out, part)
		}
	}

	// Slots outside every configured range trail the explicit bands
	var rest []models.Key
	for i, k := range keys {
		if !claimed[i] {
			rest = append(rest, k)
		}
	}
	if len(rest) > 0 {
		sortBySlot(rest)
		out = append(out, rest)
	}

	return out
}

// Order flattens the partitions into a single preference list.
func (b *RotationOrderBuilder) Order(keys []models.Key) []models.Key {
	var flat []models.Key
	for _, part := range b.Partitions(keys) {
		flat = append(flat, part...)
	}
	return flat
}

func sortBySlot(keys []models.Key) {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].Slot != keys[j].Slot {
			return keys[i].Slot < keys[j].Slot
		}
		return keys[i].ID < keys[j].ID
	})
}
