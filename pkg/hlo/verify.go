// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"slices"

	"github.com/gomlx/agcombiner/pkg/core/shapeinference"
	"github.com/pkg/errors"
)

// Verify checks the structural invariants of every computation of the module, and returns the first
// violation found:
//
//   - Every computation has a root, and the entry computation is set.
//   - Operands belong to the same computation, and the operand/user relations are symmetric.
//   - The graph is acyclic.
//   - Instruction shapes are consistent with their operands (all-gathers, get-tuple-elements, domains, fusions).
//   - If the module is scheduled, each sequence lists every instruction exactly once, after its operands.
func Verify(m *Module) error {
	if m.entry == nil {
		return errors.Errorf("module %q has no entry computation", m.name)
	}
	for _, c := range m.computations {
		if err := verifyComputation(c); err != nil {
			return errors.WithMessagef(err, "module %q, computation %q", m.name, c.name)
		}
	}
	return nil
}

func verifyComputation(c *Computation) error {
	if c.root == nil {
		return errors.New("computation has no root")
	}
	if c.root.computation != c {
		return errors.Errorf("root %s doesn't belong to the computation", c.root.name)
	}
	for _, inst := range c.instructions {
		if inst.computation != c {
			return errors.Errorf("instruction %s is not owned by the computation", inst.name)
		}
		for ii, operand := range inst.operands {
			if operand.computation != c {
				return errors.Errorf("operand #%d of %s (%s) belongs to another computation", ii, inst.name, operand.name)
			}
			if !slices.Contains(operand.users, inst) {
				return errors.Errorf("%s uses %s, but it's not listed as one of its users", inst.name, operand.name)
			}
		}
		for _, user := range inst.users {
			if !slices.Contains(user.operands, inst) {
				return errors.Errorf("%s is listed as a user of %s, but doesn't use it", user.name, inst.name)
			}
			if user.computation != c {
				return errors.Errorf("user %s of %s was removed or belongs to another computation", user.name, inst.name)
			}
		}
		if err := verifyInstructionShape(inst); err != nil {
			return errors.WithMessagef(err, "instruction %s", inst.name)
		}
	}
	if len(c.MakeInstructionPostOrder()) != len(c.instructions) {
		return errors.New("post-order doesn't visit every instruction exactly once")
	}
	if err := verifyAcyclic(c); err != nil {
		return err
	}
	if c.module.isScheduled {
		if err := c.validateSequence(c.sequence); err != nil {
			return err
		}
	}
	return nil
}

func verifyInstructionShape(inst *Instruction) error {
	switch inst.opType {
	case OpTypeAllGather:
		return validateAllGather(inst.operands, inst.shape, inst.AllGatherParams(), inst.computation.module.numReplicas)
	case OpTypeGetTupleElement:
		shape, err := shapeinference.GetTupleElement(inst.operands[0].shape, inst.TupleIndex())
		if err != nil {
			return err
		}
		if !shape.Equal(inst.shape) {
			return errors.Errorf("get-tuple-element shape is %s, but element %d of the tuple is %s",
				inst.shape, inst.TupleIndex(), shape)
		}
	case OpTypeDomain, OpTypeCopy, OpTypeNegate, OpTypeAllReduce:
		if len(inst.operands) != 1 || !inst.operands[0].shape.Equal(inst.shape) {
			return errors.Errorf("%s must have one operand with the same shape %s", inst.opType, inst.shape)
		}
	case OpTypeAdd, OpTypeMultiply:
		shape, err := shapeinference.ElementwiseBinary(inst.operands[0].shape, inst.operands[1].shape)
		if err != nil {
			return err
		}
		if !shape.Equal(inst.shape) {
			return errors.Errorf("%s shape is %s, but operands imply %s", inst.opType, inst.shape, shape)
		}
	case OpTypeFusion:
		called := inst.CalledComputation()
		if called.root == nil || !called.root.shape.Equal(inst.shape) {
			return errors.Errorf("fusion shape %s doesn't match the root of %q", inst.shape, called.name)
		}
	}
	return nil
}

// verifyAcyclic checks, with a depth-first search coloring, that no instruction depends on itself.
func verifyAcyclic(c *Computation) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[*Instruction]int, len(c.instructions))
	var visit func(inst *Instruction) error
	visit = func(inst *Instruction) error {
		switch color[inst] {
		case gray:
			return errors.Errorf("cycle detected through %s", inst.name)
		case black:
			return nil
		}
		color[inst] = gray
		for _, operand := range inst.operands {
			if err := visit(operand); err != nil {
				return err
			}
		}
		color[inst] = black
		return nil
	}
	for _, inst := range c.instructions {
		if err := visit(inst); err != nil {
			return err
		}
	}
	return nil
}
