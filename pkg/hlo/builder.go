// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"github.com/gomlx/agcombiner/pkg/core/distributed"
	"github.com/gomlx/agcombiner/pkg/core/shapeinference"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Builder adds instructions to a new Computation.
//
// Invalid inputs (mismatched shapes, operands from other computations, etc.) are programming errors and the
// builder panics with exceptions.Panicf.
type Builder struct {
	comp *Computation
}

// NewBuilder creates a new computation in module and returns a Builder for it.
func NewBuilder(module *Module, name string) *Builder {
	return &Builder{comp: module.newComputation(name, false)}
}

// NewFusionBuilder creates a new fusion computation (the body of fusion instructions) in module.
func NewFusionBuilder(module *Module, name string) *Builder {
	return &Builder{comp: module.newComputation(name, true)}
}

// Computation being built.
func (b *Builder) Computation() *Computation { return b.comp }

// Build sets the root of the computation and returns it.
func (b *Builder) Build(root *Instruction) *Computation {
	b.comp.SetRoot(root)
	return b.comp
}

// BuildEntry sets the root of the computation, makes it the entry computation of the module and returns it.
func (b *Builder) BuildEntry(root *Instruction) *Computation {
	if b.comp.isFusion {
		exceptions.Panicf("BuildEntry(%q): a fusion computation can't be the entry computation", b.comp.name)
	}
	b.Build(root)
	b.comp.module.entry = b.comp
	return b.comp
}

// Parameter adds the next parameter of the computation, with the given shape.
func (b *Builder) Parameter(shape shapes.Shape) *Instruction {
	if !shape.Ok() {
		exceptions.Panicf("Parameter: invalid shape %s", shape)
	}
	inst := b.comp.addInstruction(OpTypeParameter, shape.Clone(), len(b.comp.parameters))
	b.comp.parameters = append(b.comp.parameters, inst)
	return inst
}

// Constant adds a constant with the given value.
func (b *Builder) Constant(value *Literal) *Instruction {
	return b.comp.addInstruction(OpTypeConstant, value.Shape().Clone(), value)
}

func (b *Builder) binaryOp(opType OpType, lhs, rhs *Instruction) *Instruction {
	shape, err := shapeinference.ElementwiseBinary(lhs.shape, rhs.shape)
	if err != nil {
		panic(errors.WithMessagef(err, "%s(%s, %s)", opType, lhs.name, rhs.name))
	}
	return b.comp.addInstruction(opType, shape, nil, lhs, rhs)
}

// Add adds lhs + rhs, element-wise.
func (b *Builder) Add(lhs, rhs *Instruction) *Instruction { return b.binaryOp(OpTypeAdd, lhs, rhs) }

// Multiply adds lhs * rhs, element-wise.
func (b *Builder) Multiply(lhs, rhs *Instruction) *Instruction {
	return b.binaryOp(OpTypeMultiply, lhs, rhs)
}

func (b *Builder) unaryOp(opType OpType, x *Instruction) *Instruction {
	if !x.shape.IsArray() {
		exceptions.Panicf("%s(%s): operand must be an array, got %s", opType, x.name, x.shape)
	}
	return b.comp.addInstruction(opType, x.shape.Clone(), nil, x)
}

// Negate adds -x.
func (b *Builder) Negate(x *Instruction) *Instruction { return b.unaryOp(OpTypeNegate, x) }

// Copy adds a copy of x.
func (b *Builder) Copy(x *Instruction) *Instruction { return b.unaryOp(OpTypeCopy, x) }

// Tuple adds a tuple of the given elements.
func (b *Builder) Tuple(elements ...*Instruction) *Instruction {
	elementShapes := make([]shapes.Shape, len(elements))
	for ii, element := range elements {
		elementShapes[ii] = element.shape
	}
	return b.comp.addInstruction(OpTypeTuple, shapes.MakeTuple(elementShapes...), nil, elements...)
}

// GetTupleElement adds the extraction of the element index of a tuple.
func (b *Builder) GetTupleElement(tuple *Instruction, index int) *Instruction {
	gte, err := b.comp.AddGetTupleElement(tuple, index)
	if err != nil {
		panic(err)
	}
	return gte
}

// ShardingDomain adds a sharding domain boundary around operand: operandSide is the sharding of the region
// producing operand, and userSide the sharding of the region using the result.
func (b *Builder) ShardingDomain(operand *Instruction, operandSide, userSide *distributed.Sharding) *Instruction {
	params := &DomainParams{
		Kind:        ShardingDomainKind,
		OperandSide: NewShardingMetadata(operandSide),
		UserSide:    NewShardingMetadata(userSide),
	}
	return b.comp.addInstruction(OpTypeDomain, operand.shape.Clone(), params, operand)
}

// Fusion adds a call to the fusion computation called, with the given operands as its parameters.
func (b *Builder) Fusion(called *Computation, operands ...*Instruction) *Instruction {
	if !called.isFusion {
		exceptions.Panicf("Fusion(%q): called computation is not a fusion computation", called.name)
	}
	if called.module != b.comp.module {
		exceptions.Panicf("Fusion(%q): called computation belongs to another module", called.name)
	}
	if called.root == nil {
		exceptions.Panicf("Fusion(%q): called computation has no root, call Builder.Build first", called.name)
	}
	if len(operands) != len(called.parameters) {
		exceptions.Panicf("Fusion(%q): %d operands given, but it has %d parameters", called.name, len(operands), len(called.parameters))
	}
	for ii, operand := range operands {
		if !operand.shape.Equal(called.parameters[ii].shape) {
			exceptions.Panicf("Fusion(%q): operand #%d has shape %s, but parameter has shape %s",
				called.name, ii, operand.shape, called.parameters[ii].shape)
		}
	}
	return b.comp.addInstruction(OpTypeFusion, called.root.shape.Clone(), called, operands...)
}

// CollectiveOps builds collective instructions. It's created with Builder.Collective, and options are
// set by chaining, e.g.:
//
//	b.Collective().Along(mesh, "data").OnChannel(1).AllGather(x, 0)
//
// By default, collectives use empty replica groups (all replicas participate in one group) and no channel id
// (cross-replica).
type CollectiveOps struct {
	b      *Builder
	params CollectiveParams
}

// Collective returns a helper that builds collective instructions.
func (b *Builder) Collective() CollectiveOps {
	return CollectiveOps{b: b}
}

// WithReplicaGroups sets the replica groups of the next collective.
func (c CollectiveOps) WithReplicaGroups(groups distributed.ReplicaGroups) CollectiveOps {
	cOut := c
	cOut.params.ReplicaGroups = groups.Clone()
	return cOut
}

// Along sets the replica groups of the next collective to the ones communicating along the given mesh axes.
func (c CollectiveOps) Along(mesh *distributed.DeviceMesh, meshAxes ...string) CollectiveOps {
	groups, err := mesh.ComputeReplicaGroups(meshAxes...)
	if err != nil {
		panic(errors.WithMessagef(err, "Collective().Along(%v)", meshAxes))
	}
	cOut := c
	cOut.params.ReplicaGroups = groups
	return cOut
}

// OnChannel sets the channel id of the next collective, making it a cross-partition collective.
func (c CollectiveOps) OnChannel(channelID int) CollectiveOps {
	cOut := c
	cOut.params.ChannelID = channelID
	cOut.params.HasChannelID = true
	return cOut
}

// WithGlobalDeviceIDs marks the replica groups of the next collective as global device ids.
func (c CollectiveOps) WithGlobalDeviceIDs() CollectiveOps {
	cOut := c
	cOut.params.UseGlobalDeviceIDs = true
	return cOut
}

// validate panics if the replica groups are invalid.
func (c CollectiveOps) validate() {
	if err := c.params.ReplicaGroups.Validate(); err != nil {
		panic(errors.WithMessage(err, "Collective()"))
	}
}

// groupSize returns the number of participants in each group: for empty replica groups, it's the number of
// replicas of the module.
func (c CollectiveOps) groupSize() int {
	c.validate()
	return c.params.ReplicaGroups.GroupSize(c.b.comp.module.numReplicas)
}

// AllGather adds an all-gather of operand along dimension: each participant gets the concatenation of the
// operand values of all participants of its group, in group order.
func (c CollectiveOps) AllGather(operand *Instruction, dimension int) *Instruction {
	shape, err := shapeinference.AllGather(operand.shape, c.groupSize(), dimension)
	if err != nil {
		panic(errors.WithMessagef(err, "AllGather(%s)", operand.name))
	}
	inst, err := c.b.comp.AddAllGather([]*Instruction{operand}, shape,
		AllGatherParams{CollectiveParams: c.params, Dimension: dimension})
	if err != nil {
		panic(err)
	}
	return inst
}

// AllReduce adds a sum all-reduce of operand: each participant gets the sum of the operand values of all
// participants of its group.
func (c CollectiveOps) AllReduce(operand *Instruction) *Instruction {
	if !operand.shape.IsArray() {
		exceptions.Panicf("AllReduce(%s): operand must be an array, got %s", operand.name, operand.shape)
	}
	c.validate()
	params := c.params
	params.ReplicaGroups = params.ReplicaGroups.Clone()
	return c.b.comp.addInstruction(OpTypeAllReduce, operand.shape.Clone(), &params, operand)
}
