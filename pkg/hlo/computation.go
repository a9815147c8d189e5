// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"slices"

	"github.com/gomlx/agcombiner/pkg/core/shapeinference"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Computation is a graph of instructions with one root, owned by a Module.
type Computation struct {
	name     string
	module   *Module
	isFusion bool

	// instructions in the order they were added. Removed instructions are dropped.
	instructions []*Instruction
	parameters   []*Instruction
	root         *Instruction

	// sequence is the order of execution of the instructions, only maintained if the module is scheduled.
	sequence []*Instruction
}

// Name of the computation.
func (c *Computation) Name() string { return c.name }

// Module that owns the computation.
func (c *Computation) Module() *Module { return c.module }

// IsFusionComputation returns whether this computation is the body of a fusion instruction.
func (c *Computation) IsFusionComputation() bool { return c.isFusion }

// Root returns the root instruction, whose value is the result of the computation.
func (c *Computation) Root() *Instruction { return c.root }

// SetRoot changes the root of the computation.
func (c *Computation) SetRoot(root *Instruction) {
	if root.computation != c {
		exceptions.Panicf("SetRoot(%s): instruction belongs to computation %q, not %q", root.name, root.computation.name, c.name)
	}
	c.root = root
}

// Instructions returns a copy of the list of instructions, in the order they were added.
func (c *Computation) Instructions() []*Instruction { return slices.Clone(c.instructions) }

// NumInstructions returns the number of instructions in the computation.
func (c *Computation) NumInstructions() int { return len(c.instructions) }

// Parameters returns a copy of the list of parameters, in parameter number order.
func (c *Computation) Parameters() []*Instruction { return slices.Clone(c.parameters) }

// Parameter returns the i-th parameter instruction.
func (c *Computation) Parameter(i int) *Instruction { return c.parameters[i] }

// addInstruction creates and registers a new instruction.
// It panics if an operand belongs to a different computation.
func (c *Computation) addInstruction(opType OpType, shape shapes.Shape, data any, operands ...*Instruction) *Instruction {
	for ii, operand := range operands {
		if operand == nil {
			exceptions.Panicf("%s: operand #%d is nil", opType, ii)
		}
		if operand.computation != c {
			exceptions.Panicf("%s: operand #%d (%s) belongs to computation %q, not %q",
				opType, ii, operand.name, operand.computation.Name(), c.name)
		}
	}
	id := c.module.newInstructionID()
	inst := &Instruction{
		id:          id,
		name:        fmt.Sprintf("%s.%d", opType, id),
		opType:      opType,
		shape:       shape,
		computation: c,
		operands:    slices.Clone(operands),
		data:        data,
	}
	for _, operand := range operands {
		operand.addUser(inst)
	}
	c.instructions = append(c.instructions, inst)
	if c.module.isScheduled {
		c.sequence = append(c.sequence, inst)
	}
	return inst
}

// AddAllGather adds an all-gather of the given operands.
//
// With one operand the shape must be the array output of the all-gather. With more operands it must be a tuple
// with one element per operand, and each element is the output of gathering the corresponding operand.
//
// If the module is scheduled, the new instruction is appended to the end of the sequence.
func (c *Computation) AddAllGather(operands []*Instruction, shape shapes.Shape, params AllGatherParams) (*Instruction, error) {
	if err := validateAllGather(operands, shape, &params, c.module.numReplicas); err != nil {
		return nil, err
	}
	for ii, operand := range operands {
		if operand.computation != c {
			return nil, errors.Errorf("AddAllGather: operand #%d (%s) belongs to computation %q, not %q",
				ii, operand.name, operand.computation.Name(), c.name)
		}
	}
	params.ReplicaGroups = params.ReplicaGroups.Clone()
	return c.addInstruction(OpTypeAllGather, shape.Clone(), &params, operands...), nil
}

// validateAllGather checks the consistency between operands, output shape and parameters of an all-gather.
// Empty replica groups gather from all numReplicas replicas.
func validateAllGather(operands []*Instruction, shape shapes.Shape, params *AllGatherParams, numReplicas int) error {
	if len(operands) == 0 {
		return errors.New("all-gather requires at least one operand")
	}
	if err := params.ReplicaGroups.Validate(); err != nil {
		return errors.WithMessage(err, "all-gather")
	}
	operandShapes := make([]shapes.Shape, len(operands))
	for ii, operand := range operands {
		operandShapes[ii] = operand.shape
	}
	var outputShapes []shapes.Shape
	if len(operands) == 1 {
		if !shape.IsArray() {
			return errors.Errorf("all-gather with one operand must have an array shape, got %s", shape)
		}
		outputShapes = []shapes.Shape{shape}
	} else {
		if !shape.IsTuple() || shape.TupleSize() != len(operands) {
			return errors.Errorf("all-gather with %d operands must have a tuple shape with %d elements, got %s",
				len(operands), len(operands), shape)
		}
		outputShapes = shape.TupleShapes
	}
	for ii, operandShape := range operandShapes {
		groupSize, err := shapeinference.ValidateAllGather(operandShape, outputShapes[ii], params.Dimension)
		if err != nil {
			return errors.WithMessagef(err, "all-gather operand #%d", ii)
		}
		expected := params.ReplicaGroups.GroupSize(numReplicas)
		if operandShape.Dim(params.Dimension) > 0 && groupSize != expected {
			return errors.Errorf("all-gather operand #%d: gathering %s into %s implies a group size of %d, but replica groups %s have size %d",
				ii, operandShape, outputShapes[ii], groupSize, params.ReplicaGroups, expected)
		}
	}
	return nil
}

// AddGetTupleElement adds an instruction that extracts the element index of the tuple value.
//
// If the module is scheduled, the new instruction is appended to the end of the sequence.
func (c *Computation) AddGetTupleElement(tuple *Instruction, index int) (*Instruction, error) {
	if tuple.computation != c {
		return nil, errors.Errorf("AddGetTupleElement: operand %s belongs to computation %q, not %q",
			tuple.name, tuple.computation.Name(), c.name)
	}
	shape, err := shapeinference.GetTupleElement(tuple.shape, index)
	if err != nil {
		return nil, err
	}
	return c.addInstruction(OpTypeGetTupleElement, shape, index, tuple), nil
}

// ReplaceAllUsesWith makes every user of oldInst (except newInst itself) use newInst instead, and if oldInst is
// the root, newInst becomes the root.
//
// Both instructions must belong to this computation and have the same shape.
func (c *Computation) ReplaceAllUsesWith(oldInst, newInst *Instruction) error {
	if oldInst.computation != c || newInst.computation != c {
		return errors.Errorf("ReplaceAllUsesWith(%s, %s): instructions must belong to computation %q",
			oldInst.name, newInst.name, c.name)
	}
	if !oldInst.shape.Equal(newInst.shape) {
		return errors.Errorf("ReplaceAllUsesWith(%s, %s): shapes %s and %s differ",
			oldInst.name, newInst.name, oldInst.shape, newInst.shape)
	}
	if oldInst == newInst {
		return nil
	}
	for _, user := range oldInst.Users() {
		if user == newInst {
			continue
		}
		for ii, operand := range user.operands {
			if operand == oldInst {
				user.operands[ii] = newInst
			}
		}
		oldInst.removeUser(user)
		newInst.addUser(user)
	}
	if c.root == oldInst {
		c.root = newInst
	}
	return nil
}

// RemoveInstruction removes an instruction that has no users and is not the root.
// Parameters can't be removed.
func (c *Computation) RemoveInstruction(inst *Instruction) error {
	if inst.computation != c {
		return errors.Errorf("RemoveInstruction(%s): instruction doesn't belong to computation %q", inst.name, c.name)
	}
	if len(inst.users) > 0 {
		return errors.Errorf("RemoveInstruction(%s): instruction still has %d users", inst.name, len(inst.users))
	}
	if c.root == inst {
		return errors.Errorf("RemoveInstruction(%s): can't remove the root of computation %q", inst.name, c.name)
	}
	if inst.opType == OpTypeParameter {
		return errors.Errorf("RemoveInstruction(%s): can't remove parameters", inst.name)
	}
	for _, operand := range inst.operands {
		operand.removeUser(inst)
	}
	isInst := func(other *Instruction) bool { return other == inst }
	c.instructions = slices.DeleteFunc(c.instructions, isInst)
	c.sequence = slices.DeleteFunc(c.sequence, isInst)
	inst.operands = nil
	inst.computation = nil
	return nil
}

// MakeInstructionPostOrder returns the instructions in an order where every instruction comes after its operands.
//
// It's a depth-first post-order traversal from the root, visiting operands in order, followed by the instructions
// not reachable from the root (and their operands), in the order they were added. The result is deterministic.
func (c *Computation) MakeInstructionPostOrder() []*Instruction {
	postOrder := make([]*Instruction, 0, len(c.instructions))
	visited := make(map[*Instruction]bool, len(c.instructions))
	type frame struct {
		inst        *Instruction
		nextOperand int
	}
	var stack []frame
	visit := func(start *Instruction) {
		if visited[start] {
			return
		}
		visited[start] = true
		stack = append(stack, frame{inst: start})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.nextOperand < len(top.inst.operands) {
				operand := top.inst.operands[top.nextOperand]
				top.nextOperand++
				if !visited[operand] {
					visited[operand] = true
					stack = append(stack, frame{inst: operand})
				}
				continue
			}
			postOrder = append(postOrder, top.inst)
			stack = stack[:len(stack)-1]
		}
	}
	if c.root != nil {
		visit(c.root)
	}
	for _, inst := range c.instructions {
		visit(inst)
	}
	return postOrder
}
