// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/agcombiner/pkg/support/sets"
	"github.com/pkg/errors"
)

// ReplicaGroups partitions the participants of a collective operation into disjoint groups that
// communicate independently. Each group lists participant ids in the order their contributions are
// concatenated (for an all-gather).
//
// An empty ReplicaGroups means all participants form one single group, in id order.
type ReplicaGroups [][]int

// IsAll returns whether the ReplicaGroups refers to all participants as one group.
func (g ReplicaGroups) IsAll() bool {
	return len(g) == 0
}

// Clone returns a deep copy of the replica groups.
func (g ReplicaGroups) Clone() ReplicaGroups {
	if g == nil {
		return nil
	}
	clone := make(ReplicaGroups, len(g))
	for i, group := range g {
		clone[i] = slices.Clone(group)
	}
	return clone
}

// Validate returns an error if the groups are malformed: empty groups, negative ids, ids repeated
// (within or across groups) or groups of different sizes.
func (g ReplicaGroups) Validate() error {
	seen := sets.Make[int]()
	for groupIdx, group := range g {
		if len(group) == 0 {
			return errors.Errorf("replica group #%d is empty", groupIdx)
		}
		if len(group) != len(g[0]) {
			return errors.Errorf("replica group #%d has %d participants, but group #0 has %d: all groups must have the same size",
				groupIdx, len(group), len(g[0]))
		}
		for _, id := range group {
			if id < 0 {
				return errors.Errorf("replica group #%d has negative participant id %d", groupIdx, id)
			}
			if seen.Has(id) {
				return errors.Errorf("participant id %d appears more than once in replica groups %s", id, g)
			}
			seen.Insert(id)
		}
	}
	return nil
}

// GroupSize returns the number of participants in each group. For the "all participants" case it
// returns numParticipants.
func (g ReplicaGroups) GroupSize(numParticipants int) int {
	if g.IsAll() {
		return numParticipants
	}
	return len(g[0])
}

// GroupOf returns the group the participant id belongs to.
// For the "all participants" case it returns all ids from 0 to numParticipants-1.
func (g ReplicaGroups) GroupOf(id, numParticipants int) ([]int, error) {
	if g.IsAll() {
		if id < 0 || id >= numParticipants {
			return nil, errors.Errorf("participant id %d out of range for %d participants", id, numParticipants)
		}
		all := make([]int, numParticipants)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	for _, group := range g {
		if slices.Contains(group, id) {
			return group, nil
		}
	}
	return nil, errors.Errorf("participant id %d is not part of any of the replica groups %s", id, g)
}

// Canonical returns the groups sorted lexicographically, so that two specifications of the same
// partition compare equal.
//
// The order of the ids within each group is kept: it defines the concatenation order of an
// all-gather, so {{1,0}} and {{0,1}} are different collectives.
func (g ReplicaGroups) Canonical() ReplicaGroups {
	canonical := g.Clone()
	slices.SortFunc(canonical, func(a, b []int) int { return slices.Compare(a, b) })
	return canonical
}

// Equal returns whether g and g2 describe the same partition, after canonicalization.
func (g ReplicaGroups) Equal(g2 ReplicaGroups) bool {
	if len(g) != len(g2) {
		return false
	}
	return g.Fingerprint() == g2.Fingerprint()
}

// Fingerprint returns a string that is the same for equal (see Equal) replica groups.
func (g ReplicaGroups) Fingerprint() string {
	return g.Canonical().String()
}

// String implements fmt.Stringer, in the HLO format: `{{0,1},{2,3}}`, or `{}` for all participants.
func (g ReplicaGroups) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, group := range g {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("{")
		for j, id := range group {
			if j > 0 {
				sb.WriteString(",")
			}
			_, _ = fmt.Fprintf(&sb, "%d", id)
		}
		sb.WriteString("}")
	}
	sb.WriteString("}")
	return sb.String()
}
