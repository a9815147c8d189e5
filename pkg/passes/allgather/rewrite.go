// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allgather

import (
	"github.com/gomlx/agcombiner/pkg/core/distributed"
	"github.com/gomlx/agcombiner/pkg/core/shapeinference"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/gomlx/agcombiner/pkg/hlo"
	"github.com/pkg/errors"
)

// combineGroup replaces the members of group by one all-gather of all their operands (in group order), followed
// by a get-tuple-element per member, which takes over all the uses of the member. The members are removed.
//
// The combined all-gather carries the parameters of the first member, and a tuple sharding with the shardings of
// the members, if any of them has one. Each get-tuple-element carries the sharding of its member.
//
// If the module is scheduled, the new instructions take the position of the last member in the sequence.
//
// Everything is validated before the computation is changed. It returns the combined all-gather and the
// get-tuple-elements that replaced the members, in group order.
func combineGroup(comp *hlo.Computation, group []*hlo.Instruction) (combined *hlo.Instruction, gtes []*hlo.Instruction, err error) {
	params := *group[0].AllGatherParams()
	operands := make([]*hlo.Instruction, len(group))
	operandShapes := make([]shapes.Shape, len(group))
	outputShapes := make([]shapes.Shape, len(group))
	shardings := make([]*distributed.Sharding, len(group))
	for ii, member := range group {
		if member.Computation() != comp {
			return nil, nil, errors.Errorf("member %s of the group doesn't belong to computation %q", member.Name(), comp.Name())
		}
		operands[ii] = member.Operand(0)
		operandShapes[ii] = member.Operand(0).Shape()
		outputShapes[ii] = member.Shape()
		shardings[ii] = member.Sharding()
	}
	tupleShape, err := shapeinference.CombinedAllGather(operandShapes, outputShapes, params.Dimension)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "combining %d all-gathers", len(group))
	}

	combined, err = comp.AddAllGather(operands, tupleShape, params)
	if err != nil {
		return nil, nil, err
	}
	combined.SetSharding(distributed.CombineShardings(shardings))
	gtes = make([]*hlo.Instruction, len(group))
	for ii, member := range group {
		gte, err := comp.AddGetTupleElement(combined, ii)
		if err != nil {
			return nil, nil, err
		}
		gtes[ii] = gte.SetSharding(member.Sharding())
	}
	if err := comp.MoveInSequenceAfter(group[len(group)-1], append([]*hlo.Instruction{combined}, gtes...)...); err != nil {
		return nil, nil, err
	}
	for ii, member := range group {
		if err := comp.ReplaceAllUsesWith(member, gtes[ii]); err != nil {
			return nil, nil, err
		}
		if err := comp.RemoveInstruction(member); err != nil {
			return nil, nil, err
		}
	}
	return combined, gtes, nil
}
