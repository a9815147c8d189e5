// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allgather

import (
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/agcombiner/pkg/hlo"
	"github.com/gomlx/agcombiner/pkg/support/sets"
	"k8s.io/klog/v2"
)

// grouper finds, one at a time, the groups of all-gathers of a computation to combine.
//
// Each call to nextGroup traverses the computation (in schedule order if the module is scheduled, in post-order
// otherwise), and the first pending candidate opens a group that fixes the combine key. Candidates with the same
// key are appended while they are independent of all members and both thresholds are respected. Candidates with
// other keys are skipped, and remain pending for later groups.
//
// Groups with a single member are marked done, and never retried.
type grouper struct {
	config    Config
	comp      *hlo.Computation
	scheduled bool

	// done holds the candidates that were left alone.
	done sets.Set[*hlo.Instruction]

	// reach is built once, and updated in place after each rewrite. domains is built once: rewrites never
	// change the domain of the remaining candidates.
	reach   *hlo.ReachabilityMap
	domains *hlo.DomainMap

	// keys caches the combine key of the candidates.
	keys map[*hlo.Instruction]combineKey

	// traversal caches the traversal order until the next rewrite. Candidates before traversal[start] are all done.
	traversal []*hlo.Instruction
	start     int
}

func newGrouper(config Config, comp *hlo.Computation) *grouper {
	return &grouper{
		config:    config,
		comp:      comp,
		scheduled: comp.Module().IsScheduled(),
		done:      sets.Make[*hlo.Instruction](),
		reach:     hlo.NewReachabilityMap(comp),
		domains:   hlo.NewDomainMap(comp, hlo.ShardingDomainKind),
		keys:      make(map[*hlo.Instruction]combineKey),
	}
}

// update reflects the rewrite of group into combined and its get-tuple-elements gtes (one per member).
func (g *grouper) update(group []*hlo.Instruction, combined *hlo.Instruction, gtes []*hlo.Instruction) {
	g.reach.Add(combined)
	for ii, member := range group {
		g.reach.Add(gtes[ii])
		g.reach.Replace(member, gtes[ii])
		g.reach.Remove(member)
		delete(g.keys, member)
	}
	g.traversal, g.start = nil, 0
}

// order returns the instructions in the order candidates are considered.
func (g *grouper) order() []*hlo.Instruction {
	if g.traversal == nil {
		if g.scheduled {
			g.traversal = g.comp.Sequence()
		} else {
			g.traversal = g.comp.MakeInstructionPostOrder()
		}
	}
	return g.traversal
}

// key returns the combine key of the candidate inst.
func (g *grouper) key(inst *hlo.Instruction) combineKey {
	key, found := g.keys[inst]
	if !found {
		key = makeCombineKey(inst, g.domains)
		g.keys[inst] = key
	}
	return key
}

// numCandidates returns the number of combinable all-gathers in the computation.
func (g *grouper) numCandidates() int {
	var count int
	for _, inst := range g.comp.Instructions() {
		if isCombinable(inst) {
			count++
		}
	}
	return count
}

// nextGroup returns the next group with two or more members, in traversal order, or nil if there are none left.
func (g *grouper) nextGroup() []*hlo.Instruction {
	for {
		group, openedAt := g.collect()
		if len(group) == 0 {
			return nil
		}
		if len(group) >= 2 {
			return group
		}
		g.done.Insert(group[0])
		g.start = openedAt + 1
	}
}

// collect returns the group opened by the first pending candidate, and the position in the traversal of that
// candidate. It returns a nil group if there are no pending candidates.
func (g *grouper) collect() (group []*hlo.Instruction, openedAt int) {
	var (
		key        combineKey
		groupBytes int64
	)
	members := sets.Make[*hlo.Instruction]()
	order := g.order()
	for pos := g.start; pos < len(order); pos++ {
		inst := order[pos]
		if len(group) > 0 && g.scheduled && slices.ContainsFunc(inst.Operands(), members.Has) {
			// Members are moved to the position of the last one: a consumer in between closes the run.
			klog.V(2).Infof("  %s consumes a member of the group in the schedule, closing group of %d", inst.Name(), len(group))
			return
		}
		if !isCombinable(inst) || g.done.Has(inst) {
			continue
		}
		instKey := g.key(inst)
		instBytes := inst.Shape().ByteSize()
		if len(group) == 0 {
			group = append(group, inst)
			members.Insert(inst)
			key, groupBytes, openedAt = instKey, instBytes, pos
			if instBytes > g.config.SizeThreshold {
				klog.V(2).Infof("  %s (%s) is larger than the size threshold, leaving it alone",
					inst.Name(), humanize.IBytes(uint64(instBytes)))
				return
			}
			klog.V(2).Infof("  %s opens a group with key %s", inst.Name(), key)
			continue
		}
		if instKey != key {
			continue
		}
		if g.connectedToAny(inst, group) {
			klog.V(2).Infof("  %s depends on a member of the group, closing group of %d", inst.Name(), len(group))
			return
		}
		if groupBytes+instBytes > g.config.SizeThreshold {
			klog.V(2).Infof("  %s would take the group to %s, over the size threshold, closing group of %d",
				inst.Name(), humanize.IBytes(uint64(groupBytes+instBytes)), len(group))
			return
		}
		if len(group) >= g.config.CountThreshold {
			klog.V(2).Infof("  count threshold reached, closing group of %d", len(group))
			return
		}
		klog.V(2).Infof("  %s joins the group", inst.Name())
		group = append(group, inst)
		members.Insert(inst)
		groupBytes += instBytes
	}
	return
}

// connectedToAny returns whether inst depends on any of the members of the group, or the other way around.
func (g *grouper) connectedToAny(inst *hlo.Instruction, group []*hlo.Instruction) bool {
	for _, member := range group {
		if g.reach.IsConnected(member, inst) {
			return true
		}
	}
	return false
}
