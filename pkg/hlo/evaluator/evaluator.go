// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluator implements a reference interpreter of hlo modules running on multiple replicas.
//
// It's used to check that graph transformations preserve the values computed: all replicas are evaluated in
// lock step, one instruction at a time, so collectives can read the operand values of every participant.
// Replicas of the same instruction are evaluated in parallel.
package evaluator

import (
	"slices"

	"github.com/gomlx/agcombiner/internal/workerspool"
	"github.com/gomlx/agcombiner/pkg/hlo"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Evaluator runs the entry computation of a module for a number of replicas.
type Evaluator struct {
	module      *hlo.Module
	numReplicas int
	pool        *workerspool.Pool
}

// New creates an Evaluator for the module, running numReplicas replicas.
func New(module *hlo.Module, numReplicas int) (*Evaluator, error) {
	if module.EntryComputation() == nil {
		return nil, errors.Errorf("evaluator: module %q has no entry computation", module.Name())
	}
	if numReplicas <= 0 {
		return nil, errors.Errorf("evaluator: number of replicas must be positive, got %d", numReplicas)
	}
	return &Evaluator{module: module, numReplicas: numReplicas, pool: workerspool.New()}, nil
}

// WithMaxParallelism sets the maximum number of replicas evaluated concurrently.
// 0 disables parallelism and -1 makes it unlimited. It returns the Evaluator itself.
func (e *Evaluator) WithMaxParallelism(maxParallelism int) *Evaluator {
	e.pool.SetMaxParallelism(maxParallelism)
	return e
}

// Evaluate is a shortcut to New(module, numReplicas) followed by Evaluator.Run(args).
func Evaluate(module *hlo.Module, numReplicas int, args [][]*hlo.Literal) ([]*hlo.Literal, error) {
	e, err := New(module, numReplicas)
	if err != nil {
		return nil, err
	}
	return e.Run(args)
}

// Run evaluates the entry computation with args[replica][parameterNumber], and returns the value of the root
// for each replica.
func (e *Evaluator) Run(args [][]*hlo.Literal) ([]*hlo.Literal, error) {
	entry := e.module.EntryComputation()
	if len(args) != e.numReplicas {
		return nil, errors.Errorf("evaluator: arguments given for %d replicas, but evaluating %d replicas",
			len(args), e.numReplicas)
	}
	params := entry.Parameters()
	for replica, replicaArgs := range args {
		if len(replicaArgs) != len(params) {
			return nil, errors.Errorf("evaluator: replica %d got %d arguments, but %q has %d parameters",
				replica, len(replicaArgs), entry.Name(), len(params))
		}
		for ii, arg := range replicaArgs {
			if arg == nil || !arg.Shape().Equal(params[ii].Shape()) {
				return nil, errors.Errorf("evaluator: replica %d argument #%d must have shape %s, got %s",
					replica, ii, params[ii].Shape(), arg)
			}
		}
	}
	klog.V(2).Infof("evaluator: running %q of module %s on %d replicas", entry.Name(), e.module.ID(), e.numReplicas)
	return e.evalComputation(entry, e.pool, args)
}

// evalComputation evaluates c for len(args) replicas. If pool is nil, replicas are evaluated sequentially.
func (e *Evaluator) evalComputation(c *hlo.Computation, pool *workerspool.Pool, args [][]*hlo.Literal) ([]*hlo.Literal, error) {
	numReplicas := len(args)
	values := make(map[*hlo.Instruction][]*hlo.Literal, c.NumInstructions())
	for _, inst := range c.MakeInstructionPostOrder() {
		operands := make([][]*hlo.Literal, inst.NumOperands())
		for ii, operand := range inst.Operands() {
			operands[ii] = values[operand]
		}
		results := make([]*hlo.Literal, numReplicas)
		task := func(replica int) error {
			result, err := e.evalInstruction(inst, replica, operands, args)
			if err != nil {
				return errors.WithMessagef(err, "evaluating %s on replica %d", inst.Name(), replica)
			}
			results[replica] = result
			return nil
		}
		var err error
		if pool != nil {
			err = pool.ParallelFor(numReplicas, task)
		} else {
			for replica := range numReplicas {
				if err = task(replica); err != nil {
					break
				}
			}
		}
		if err != nil {
			return nil, err
		}
		values[inst] = results
	}
	return values[c.Root()], nil
}

// evalInstruction returns the value of inst for replica, given the values of its operands on every replica,
// operands[operandIdx][replica].
func (e *Evaluator) evalInstruction(inst *hlo.Instruction, replica int, operands [][]*hlo.Literal, args [][]*hlo.Literal) (*hlo.Literal, error) {
	switch inst.OpType() {
	case hlo.OpTypeParameter:
		return args[replica][inst.ParameterNumber()], nil
	case hlo.OpTypeConstant:
		return inst.Literal(), nil
	case hlo.OpTypeCopy, hlo.OpTypeDomain:
		// Literals are immutable, so copies can share the value.
		return operands[0][replica], nil
	case hlo.OpTypeNegate:
		return unaryOp(inst.OpType(), operands[0][replica])
	case hlo.OpTypeAdd, hlo.OpTypeMultiply:
		return binaryOp(inst.OpType(), inst.Shape(), operands[0][replica], operands[1][replica])
	case hlo.OpTypeTuple:
		elements := make([]*hlo.Literal, len(operands))
		for ii := range operands {
			elements[ii] = operands[ii][replica]
		}
		return hlo.NewTupleLiteral(elements...), nil
	case hlo.OpTypeGetTupleElement:
		return operands[0][replica].Elements()[inst.TupleIndex()], nil
	case hlo.OpTypeFusion:
		fusionArgs := make([]*hlo.Literal, len(operands))
		for ii := range operands {
			fusionArgs[ii] = operands[ii][replica]
		}
		results, err := e.evalComputation(inst.CalledComputation(), nil, [][]*hlo.Literal{fusionArgs})
		if err != nil {
			return nil, errors.WithMessagef(err, "in fusion computation %q", inst.CalledComputation().Name())
		}
		return results[0], nil
	case hlo.OpTypeAllGather, hlo.OpTypeAllReduce:
		if inst.Computation().IsFusionComputation() {
			return nil, errors.Errorf("collective %s inside fusion computation %q not supported",
				inst.OpType(), inst.Computation().Name())
		}
		group, err := inst.CollectiveParams().ReplicaGroups.GroupOf(replica, e.numReplicas)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(group, func(id int) bool { return id >= e.numReplicas }) {
			return nil, errors.Errorf("replica groups %s reference replicas beyond the %d evaluated",
				inst.CollectiveParams().ReplicaGroups, e.numReplicas)
		}
		if inst.OpType() == hlo.OpTypeAllReduce {
			return allReduce(group, operands[0])
		}
		return allGather(inst, group, operands)
	}
	return nil, errors.Errorf("evaluator doesn't support op %s", inst.OpType())
}
