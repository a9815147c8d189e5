// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/agcombiner/pkg/core/distributed"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
)

// Instruction is a node in a Computation graph.
//
// Instructions are owned by their Computation and can only be created through a Builder or one of the
// Computation.Add* methods, and removed with Computation.RemoveInstruction.
type Instruction struct {
	id          int
	name        string
	opType      OpType
	shape       shapes.Shape
	computation *Computation

	operands []*Instruction

	// users are the distinct instructions that have this instruction as an operand, in the order they were added.
	users []*Instruction

	sharding *distributed.Sharding

	// data for the specific instruction type:
	//
	//   - OpTypeParameter: int, the parameter number.
	//   - OpTypeConstant: *Literal.
	//   - OpTypeAllGather: *AllGatherParams.
	//   - OpTypeAllReduce: *CollectiveParams.
	//   - OpTypeGetTupleElement: int, the tuple index.
	//   - OpTypeDomain: *DomainParams.
	//   - OpTypeFusion: *Computation, the called fusion computation.
	data any
}

// CollectiveParams are the attributes shared by collective instructions.
type CollectiveParams struct {
	// ReplicaGroups partitions the participants in groups that communicate independently.
	// An empty value means one group with all participants.
	ReplicaGroups distributed.ReplicaGroups

	// ChannelID is only valid if HasChannelID is set. Collectives with a channel id are cross-partition,
	// the others are cross-replica.
	ChannelID    int
	HasChannelID bool

	// UseGlobalDeviceIDs indicates the ids in ReplicaGroups are global device ids, as opposed to replica ids.
	UseGlobalDeviceIDs bool
}

// AllGatherParams are the attributes of an all-gather instruction.
type AllGatherParams struct {
	CollectiveParams

	// Dimension along which the contributions of the participants are concatenated.
	Dimension int
}

// ID returns the unique (within the Module) id of the instruction.
func (inst *Instruction) ID() int { return inst.id }

// Name of the instruction, used when printing the computation.
func (inst *Instruction) Name() string { return inst.name }

// SetName sets the instruction name, and returns the instruction itself, so it can be chained.
func (inst *Instruction) SetName(name string) *Instruction {
	inst.name = name
	return inst
}

// OpType returns the opcode of the instruction.
func (inst *Instruction) OpType() OpType { return inst.opType }

// Shape of the value produced by the instruction.
func (inst *Instruction) Shape() shapes.Shape { return inst.shape }

// Computation that owns the instruction.
func (inst *Instruction) Computation() *Computation { return inst.computation }

// Operands returns the operands of the instruction. The returned slice must not be modified.
func (inst *Instruction) Operands() []*Instruction { return inst.operands }

// Operand returns the i-th operand.
func (inst *Instruction) Operand(i int) *Instruction { return inst.operands[i] }

// NumOperands returns the number of operands.
func (inst *Instruction) NumOperands() int { return len(inst.operands) }

// Users returns a copy of the list of distinct users of the instruction.
func (inst *Instruction) Users() []*Instruction { return slices.Clone(inst.users) }

// UserCount returns the number of distinct users of the instruction.
func (inst *Instruction) UserCount() int { return len(inst.users) }

// IsRoot returns whether the instruction is the root of its computation.
func (inst *Instruction) IsRoot() bool {
	return inst.computation != nil && inst.computation.root == inst
}

// Sharding returns the sharding of the instruction, or nil if not set.
func (inst *Instruction) Sharding() *distributed.Sharding { return inst.sharding }

// HasSharding returns whether a sharding is set.
func (inst *Instruction) HasSharding() bool { return inst.sharding != nil }

// SetSharding sets (or clears, if nil) the sharding of the instruction. It returns the instruction itself.
func (inst *Instruction) SetSharding(sharding *distributed.Sharding) *Instruction {
	inst.sharding = sharding
	return inst
}

// AllGatherParams returns the attributes of an all-gather, or nil if the instruction is not an all-gather.
func (inst *Instruction) AllGatherParams() *AllGatherParams {
	params, _ := inst.data.(*AllGatherParams)
	return params
}

// CollectiveParams returns the collective attributes of an all-gather or an all-reduce, or nil for other ops.
func (inst *Instruction) CollectiveParams() *CollectiveParams {
	switch params := inst.data.(type) {
	case *AllGatherParams:
		return &params.CollectiveParams
	case *CollectiveParams:
		return params
	}
	return nil
}

// TupleIndex returns the index of a get-tuple-element, or -1 for other ops.
func (inst *Instruction) TupleIndex() int {
	if inst.opType != OpTypeGetTupleElement {
		return -1
	}
	return inst.data.(int)
}

// ParameterNumber returns the number of a parameter, or -1 for other ops.
func (inst *Instruction) ParameterNumber() int {
	if inst.opType != OpTypeParameter {
		return -1
	}
	return inst.data.(int)
}

// Literal returns the value of a constant, or nil for other ops.
func (inst *Instruction) Literal() *Literal {
	literal, _ := inst.data.(*Literal)
	return literal
}

// DomainParams returns the metadata of a domain instruction, or nil for other ops.
func (inst *Instruction) DomainParams() *DomainParams {
	params, _ := inst.data.(*DomainParams)
	return params
}

// CalledComputation returns the computation called by a fusion, or nil for other ops.
func (inst *Instruction) CalledComputation() *Computation {
	called, _ := inst.data.(*Computation)
	return called
}

// addUser registers user, if not yet registered.
func (inst *Instruction) addUser(user *Instruction) {
	if !slices.Contains(inst.users, user) {
		inst.users = append(inst.users, user)
	}
}

// removeUser unregisters user.
func (inst *Instruction) removeUser(user *Instruction) {
	inst.users = slices.DeleteFunc(inst.users, func(u *Instruction) bool { return u == user })
}

// String implements fmt.Stringer, and returns the HLO text of the instruction, e.g.:
//
//	%ag0 = f32[128] all-gather(%p0), replica_groups={}, dimensions={0}
func (inst *Instruction) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%%%s = %s %s(", inst.name, inst.shape, inst.opType)
	switch inst.opType {
	case OpTypeParameter:
		_, _ = fmt.Fprintf(&sb, "%d", inst.ParameterNumber())
	case OpTypeConstant:
		sb.WriteString(inst.Literal().String())
	default:
		for ii, operand := range inst.operands {
			if ii > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("%" + operand.name)
		}
	}
	sb.WriteString(")")
	for _, attr := range inst.attributes() {
		sb.WriteString(", ")
		sb.WriteString(attr)
	}
	return sb.String()
}

// attributes returns the text of the instruction attributes.
func (inst *Instruction) attributes() (attrs []string) {
	collectiveAttrs := func(params *CollectiveParams) {
		attrs = append(attrs, "replica_groups="+params.ReplicaGroups.String())
		if params.HasChannelID {
			attrs = append(attrs, fmt.Sprintf("channel_id=%d", params.ChannelID))
		}
		if params.UseGlobalDeviceIDs {
			attrs = append(attrs, "use_global_device_ids=true")
		}
	}
	switch inst.opType {
	case OpTypeAllGather:
		params := inst.AllGatherParams()
		collectiveAttrs(&params.CollectiveParams)
		attrs = append(attrs, fmt.Sprintf("dimensions={%d}", params.Dimension))
	case OpTypeAllReduce:
		collectiveAttrs(inst.CollectiveParams())
		attrs = append(attrs, "to_apply=%add")
	case OpTypeGetTupleElement:
		attrs = append(attrs, fmt.Sprintf("index=%d", inst.TupleIndex()))
	case OpTypeDomain:
		attrs = append(attrs, "domain="+inst.DomainParams().String())
	case OpTypeFusion:
		attrs = append(attrs, "kind=kLoop", "calls=%"+inst.CalledComputation().Name())
	}
	if inst.sharding != nil {
		attrs = append(attrs, "sharding="+inst.sharding.String())
	}
	return
}
