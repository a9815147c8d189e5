// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/gomlx/exceptions"
)

// ReachabilityMap answers whether one instruction depends, directly or indirectly, on another, in O(1).
//
// It is a snapshot of the computation at the time it was built. Mutations of the graph are reflected with Add,
// Replace and Remove, which are much cheaper than building a new map.
type ReachabilityMap struct {
	index     map[*Instruction]uint
	ancestors []*bitset.BitSet
}

// NewReachabilityMap builds the reachability of every instruction of the computation, using one bitset of
// ancestors per instruction.
func NewReachabilityMap(c *Computation) *ReachabilityMap {
	order := c.MakeInstructionPostOrder()
	r := &ReachabilityMap{
		index:     make(map[*Instruction]uint, len(order)),
		ancestors: make([]*bitset.BitSet, 0, len(order)),
	}
	for _, inst := range order {
		r.Add(inst)
	}
	return r
}

// Add registers inst, whose ancestors are itself and the ancestors of its operands. The operands must already be
// in the map. Adding an instruction that is already in the map is a no-op.
func (r *ReachabilityMap) Add(inst *Instruction) {
	if _, found := r.index[inst]; found {
		return
	}
	idx := uint(len(r.ancestors))
	bits := bitset.New(idx + 1)
	bits.Set(idx)
	for _, operand := range inst.operands {
		operandIdx, found := r.index[operand]
		if !found {
			exceptions.Panicf("ReachabilityMap.Add(%s): operand %s is not in the map", inst.name, operand.name)
		}
		bits.InPlaceUnion(r.ancestors[operandIdx])
	}
	r.index[inst] = idx
	r.ancestors = append(r.ancestors, bits)
}

// Replace updates the map after all uses of oldInst were replaced by newInst: every instruction that depended on
// oldInst now also depends on newInst and on all of its ancestors. newInst must already be in the map.
func (r *ReachabilityMap) Replace(oldInst, newInst *Instruction) {
	oldIdx, found := r.index[oldInst]
	if !found {
		return
	}
	newIdx, found := r.index[newInst]
	if !found {
		exceptions.Panicf("ReachabilityMap.Replace(%s, %s): %s is not in the map", oldInst.name, newInst.name,
			newInst.name)
	}
	newAncestors := r.ancestors[newIdx]
	for idx, bits := range r.ancestors {
		if bits == nil || uint(idx) == oldIdx || uint(idx) == newIdx || !bits.Test(oldIdx) {
			continue
		}
		bits.InPlaceUnion(newAncestors)
	}
}

// Remove drops inst from the map. Its bit may remain set in the ancestors of other instructions, but it is never
// queried again.
func (r *ReachabilityMap) Remove(inst *Instruction) {
	idx, found := r.index[inst]
	if !found {
		return
	}
	delete(r.index, inst)
	r.ancestors[idx] = nil
}

// IsReachable returns whether to is reachable from from, that is, to is from itself or it depends on the value
// of from. Instructions unknown to the map are not reachable.
func (r *ReachabilityMap) IsReachable(from, to *Instruction) bool {
	fromIdx, found := r.index[from]
	if !found {
		return false
	}
	toIdx, found := r.index[to]
	if !found {
		return false
	}
	return r.ancestors[toIdx].Test(fromIdx)
}

// IsConnected returns whether a is reachable from b or b is reachable from a.
func (r *ReachabilityMap) IsConnected(a, b *Instruction) bool {
	return r.IsReachable(a, b) || r.IsReachable(b, a)
}
