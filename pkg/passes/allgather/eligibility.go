// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allgather

import (
	"github.com/gomlx/agcombiner/pkg/hlo"
)

// isCombinable returns whether inst is an all-gather that can be combined with others: exactly one operand,
// an array output, well-formed replica groups and a gather dimension within the rank of the output.
//
// Multi-operand all-gathers, including the ones created by the combiner itself, are not combined again.
func isCombinable(inst *hlo.Instruction) bool {
	if inst.OpType() != hlo.OpTypeAllGather || inst.NumOperands() != 1 {
		return false
	}
	if !inst.Shape().IsArray() || !inst.Operand(0).Shape().IsArray() {
		return false
	}
	params := inst.AllGatherParams()
	if params.ReplicaGroups.Validate() != nil {
		return false
	}
	return params.Dimension >= 0 && params.Dimension < inst.Shape().Rank()
}
