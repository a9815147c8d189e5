// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hlo implements a minimal HLO-like intermediate representation: a Module owns Computations, which own
// graphs of Instructions.
//
// It provides what compiler passes need: graph queries (post-order, users, reachability, domain regions),
// mutations (add, replace-all-uses, remove), an optional schedule (a sequence of instructions per computation),
// a verifier and a text printer.
//
// Graphs are created with a Builder:
//
//	module := hlo.NewModule("example").SetNumReplicas(4)
//	b := hlo.NewBuilder(module, "entry")
//	p0 := b.Parameter(shapes.Make(dtypes.F32, 32))
//	ag := b.Collective().AllGather(p0, 0)
//	b.BuildEntry(ag)
package hlo

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Module is the unit of compilation: a set of computations, one of them the entry computation.
type Module struct {
	name         string
	id           uuid.UUID
	numReplicas  int
	computations []*Computation
	entry        *Computation
	isScheduled  bool

	nextInstructionID int
}

// NewModule creates an empty module, with a new unique id and one replica.
func NewModule(name string) *Module {
	return &Module{
		name:        name,
		id:          uuid.New(),
		numReplicas: 1,
	}
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// ID returns the unique id of the module, used to identify it in logs.
func (m *Module) ID() uuid.UUID { return m.id }

// NumReplicas returns the number of replicas the module is compiled for. It defines the number of participants of
// collectives with empty replica groups.
func (m *Module) NumReplicas() int { return m.numReplicas }

// SetNumReplicas sets the number of replicas and returns the module. It panics if numReplicas is not positive.
func (m *Module) SetNumReplicas(numReplicas int) *Module {
	if numReplicas <= 0 {
		exceptions.Panicf("SetNumReplicas(%d): number of replicas must be positive", numReplicas)
	}
	m.numReplicas = numReplicas
	return m
}

func (m *Module) newInstructionID() int {
	id := m.nextInstructionID
	m.nextInstructionID++
	return id
}

// newComputation creates and registers a new computation.
func (m *Module) newComputation(name string, isFusion bool) *Computation {
	for _, c := range m.computations {
		if c.name == name {
			exceptions.Panicf("module %q already has a computation named %q", m.name, name)
		}
	}
	c := &Computation{name: name, module: m, isFusion: isFusion}
	m.computations = append(m.computations, c)
	return c
}

// Computations returns a copy of the list of computations, in the order they were created.
func (m *Module) Computations() []*Computation { return slices.Clone(m.computations) }

// MakeNonFusionComputations returns the computations that are not fusion bodies, in the order they were created.
func (m *Module) MakeNonFusionComputations() []*Computation {
	var result []*Computation
	for _, c := range m.computations {
		if !c.isFusion {
			result = append(result, c)
		}
	}
	return result
}

// EntryComputation returns the entry computation, or nil if not set.
func (m *Module) EntryComputation() *Computation { return m.entry }

// IsScheduled returns whether the module has a schedule: a sequence of instructions per computation.
func (m *Module) IsScheduled() bool { return m.isScheduled }

// ScheduleInInsertionOrder creates a schedule for every computation.
//
// Each sequence follows the order in which instructions were added, except where an instruction would come before
// one of its operands, in which case it is delayed until its operands are scheduled. For graphs created only with
// a Builder, it is exactly the insertion order.
func (m *Module) ScheduleInInsertionOrder() {
	for _, c := range m.computations {
		c.sequence = c.topologicalInsertionOrder()
	}
	m.isScheduled = true
}

// ClearSchedule removes the schedule of the module.
func (m *Module) ClearSchedule() {
	for _, c := range m.computations {
		c.sequence = nil
	}
	m.isScheduled = false
}

// String returns the HLO text of the module.
func (m *Module) String() string {
	var sb strings.Builder
	sb.WriteString("HloModule " + m.name)
	if m.isScheduled {
		sb.WriteString(", is_scheduled=true")
	}
	sb.WriteString("\n")
	for _, c := range m.computations {
		sb.WriteString("\n")
		if c == m.entry {
			sb.WriteString("ENTRY ")
		}
		sb.WriteString(c.String())
	}
	return sb.String()
}

// Sequence returns a copy of the scheduled sequence of the computation, or nil if the module is not scheduled.
func (c *Computation) Sequence() []*Instruction {
	if !c.module.isScheduled {
		return nil
	}
	return slices.Clone(c.sequence)
}

// SequenceIndex returns the position of inst in the sequence, or -1 if not scheduled.
func (c *Computation) SequenceIndex(inst *Instruction) int {
	return slices.Index(c.sequence, inst)
}

// SetSequence replaces the sequence of a computation of a scheduled module.
// It must contain every instruction exactly once, each one after its operands.
func (c *Computation) SetSequence(sequence []*Instruction) error {
	if !c.module.isScheduled {
		return errors.Errorf("SetSequence(%q): module %q is not scheduled", c.name, c.module.name)
	}
	if err := c.validateSequence(sequence); err != nil {
		return err
	}
	c.sequence = slices.Clone(sequence)
	return nil
}

// MoveInSequenceAfter moves the given instructions, in the order given, to right after anchor in the sequence.
// It's a no-op if the module is not scheduled.
func (c *Computation) MoveInSequenceAfter(anchor *Instruction, insts ...*Instruction) error {
	if !c.module.isScheduled {
		return nil
	}
	if slices.Contains(insts, anchor) {
		return errors.Errorf("MoveInSequenceAfter(%s): anchor can't be one of the instructions moved", anchor.name)
	}
	for _, inst := range insts {
		idx := slices.Index(c.sequence, inst)
		if idx < 0 {
			return errors.Errorf("MoveInSequenceAfter: %s is not in the sequence of %q", inst.name, c.name)
		}
		c.sequence = slices.Delete(c.sequence, idx, idx+1)
	}
	anchorIdx := slices.Index(c.sequence, anchor)
	if anchorIdx < 0 {
		return errors.Errorf("MoveInSequenceAfter: anchor %s is not in the sequence of %q", anchor.name, c.name)
	}
	c.sequence = slices.Insert(c.sequence, anchorIdx+1, insts...)
	return nil
}

// validateSequence checks that sequence holds each instruction of c exactly once, each one after its operands.
func (c *Computation) validateSequence(sequence []*Instruction) error {
	if len(sequence) != len(c.instructions) {
		return errors.Errorf("sequence of %q has %d instructions, but the computation has %d",
			c.name, len(sequence), len(c.instructions))
	}
	position := make(map[*Instruction]int, len(sequence))
	for ii, inst := range sequence {
		if inst.computation != c {
			return errors.Errorf("sequence of %q has instruction %s from another computation", c.name, inst.name)
		}
		if _, found := position[inst]; found {
			return errors.Errorf("sequence of %q has instruction %s more than once", c.name, inst.name)
		}
		position[inst] = ii
	}
	for ii, inst := range sequence {
		for _, operand := range inst.operands {
			if position[operand] >= ii {
				return errors.Errorf("sequence of %q has %s (#%d) before its operand %s (#%d)",
					c.name, inst.name, ii, operand.name, position[operand])
			}
		}
	}
	return nil
}

// insertionHeap is a min-heap of instruction positions in Computation.instructions.
type insertionHeap []int

func (h insertionHeap) Len() int           { return len(h) }
func (h insertionHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h insertionHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *insertionHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *insertionHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// topologicalInsertionOrder returns the instructions in a topological order that, among the instructions ready
// to be scheduled, always picks the one added first.
func (c *Computation) topologicalInsertionOrder() []*Instruction {
	position := make(map[*Instruction]int, len(c.instructions))
	for ii, inst := range c.instructions {
		position[inst] = ii
	}
	pending := make([]int, len(c.instructions))
	ready := &insertionHeap{}
	for ii, inst := range c.instructions {
		pending[ii] = countDistinct(inst.operands)
		if pending[ii] == 0 {
			heap.Push(ready, ii)
		}
	}
	order := make([]*Instruction, 0, len(c.instructions))
	for ready.Len() > 0 {
		inst := c.instructions[heap.Pop(ready).(int)]
		order = append(order, inst)
		for _, user := range inst.users {
			userIdx := position[user]
			pending[userIdx]--
			if pending[userIdx] == 0 {
				heap.Push(ready, userIdx)
			}
		}
	}
	return order
}

func countDistinct(operands []*Instruction) int {
	count := 0
	for ii, operand := range operands {
		if !slices.Contains(operands[:ii], operand) {
			count++
		}
	}
	return count
}

// String returns the HLO text of the computation, in sequence order if scheduled, otherwise in post-order.
func (c *Computation) String() string {
	instructions := c.sequence
	if !c.module.isScheduled {
		instructions = c.MakeInstructionPostOrder()
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s {\n", c.name)
	for _, inst := range instructions {
		sb.WriteString("  ")
		if inst == c.root {
			sb.WriteString("ROOT ")
		}
		sb.WriteString(inst.String())
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}
