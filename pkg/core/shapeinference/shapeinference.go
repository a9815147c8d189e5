// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shape resulting from operations and validates its inputs.
//
// It is used by the hlo builder to create instructions, by the verifier to check them and by the
// all-gather combiner to validate a combined all-gather before mutating a computation.
package shapeinference

import (
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ElementwiseBinary returns the output shape of an element-wise binary operation (add, multiply).
//
// Both operands must be arrays of the same dtype, and either have the same dimensions or one of them
// must be a scalar.
func ElementwiseBinary(lhs, rhs shapes.Shape) (output shapes.Shape, err error) {
	if !lhs.IsArray() || !rhs.IsArray() {
		err = errors.Errorf("element-wise binary operations require array operands, got %s and %s", lhs, rhs)
		return
	}
	if lhs.DType != rhs.DType {
		err = errors.Errorf("data types (DType) for binary operations must match, got %s and %s", lhs, rhs)
		return
	}
	if lhs.IsScalar() {
		return rhs.Clone(), nil
	}
	if rhs.IsScalar() {
		return lhs.Clone(), nil
	}
	if !lhs.Equal(rhs) {
		err = errors.Errorf("shapes for binary operations must match (or one be a scalar), got %s and %s", lhs, rhs)
		return
	}
	return lhs.Clone(), nil
}

// AllGather returns the output shape of an all-gather of operand along allGatherDim, where each replica group
// has groupSize participants.
func AllGather(operand shapes.Shape, groupSize, allGatherDim int) (output shapes.Shape, err error) {
	if !operand.IsArray() {
		return shapes.Invalid(), errors.Errorf("AllGather: operand must be an array, got %s", operand)
	}
	if groupSize <= 0 {
		return shapes.Invalid(), errors.Errorf("AllGather: replica group size must be positive, got %d", groupSize)
	}
	if allGatherDim < 0 || allGatherDim >= operand.Rank() {
		return shapes.Invalid(), errors.Errorf("AllGather: all_gather_dim %d is out of bounds for operand rank %d",
			allGatherDim, operand.Rank())
	}
	output = operand.Clone()
	output.Dimensions[allGatherDim] *= groupSize
	return output, nil
}

// ValidateAllGather checks that output is a valid result of an all-gather of operand along allGatherDim:
// same dtype and rank, same dimensions except on allGatherDim, where the output is a positive multiple of
// the operand.
//
// It returns the implied replica group size.
func ValidateAllGather(operand, output shapes.Shape, allGatherDim int) (groupSize int, err error) {
	if !operand.IsArray() || !output.IsArray() {
		return 0, errors.Errorf("AllGather: operand and output must be arrays, got %s and %s", operand, output)
	}
	if operand.DType != output.DType {
		return 0, errors.Errorf("AllGather: operand %s and output %s have different dtypes", operand, output)
	}
	if operand.Rank() != output.Rank() {
		return 0, errors.Errorf("AllGather: operand %s and output %s have different ranks", operand, output)
	}
	if allGatherDim < 0 || allGatherDim >= operand.Rank() {
		return 0, errors.Errorf("AllGather: all_gather_dim %d is out of bounds for operand %s", allGatherDim, operand)
	}
	for axis, dim := range operand.Dimensions {
		outDim := output.Dimensions[axis]
		if axis != allGatherDim {
			if outDim != dim {
				return 0, errors.Errorf("AllGather: operand %s and output %s differ on axis %d, which is not the gather dimension %d",
					operand, output, axis, allGatherDim)
			}
			continue
		}
		if dim == 0 {
			if outDim != 0 {
				return 0, errors.Errorf("AllGather: operand %s has an empty gather dimension but output is %s", operand, output)
			}
			groupSize = 1
			continue
		}
		if outDim == 0 || outDim%dim != 0 {
			return 0, errors.Errorf("AllGather: output %s gather dimension %d is not a multiple of operand %s",
				output, allGatherDim, operand)
		}
		groupSize = outDim / dim
	}
	return groupSize, nil
}

// CombinedAllGather returns the tuple shape of a multi-operand all-gather that combines all-gathers with the given
// operand and output shapes, all along allGatherDim.
//
// It returns an error if there are fewer than 2 members, if the lengths don't match, if any member is not a valid
// all-gather or if they imply different replica group sizes.
func CombinedAllGather(operands, outputs []shapes.Shape, allGatherDim int) (shapes.Shape, error) {
	if len(operands) != len(outputs) {
		return shapes.Invalid(), errors.Errorf("CombinedAllGather: %d operands but %d outputs", len(operands), len(outputs))
	}
	if len(operands) < 2 {
		return shapes.Invalid(), errors.Errorf("CombinedAllGather: requires at least 2 members, got %d", len(operands))
	}
	commonGroupSize := -1
	for ii, operand := range operands {
		groupSize, err := ValidateAllGather(operand, outputs[ii], allGatherDim)
		if err != nil {
			return shapes.Invalid(), errors.WithMessagef(err, "CombinedAllGather member #%d", ii)
		}
		if operand.Dimensions[allGatherDim] == 0 {
			continue
		}
		if commonGroupSize == -1 {
			commonGroupSize = groupSize
		} else if groupSize != commonGroupSize {
			return shapes.Invalid(), errors.Errorf("CombinedAllGather: member #%d (%s -> %s) implies a replica group size of %d, but previous members imply %d",
				ii, operand, outputs[ii], groupSize, commonGroupSize)
		}
	}
	return shapes.MakeTuple(outputs...), nil
}

// GetTupleElement returns the shape of the element index of a tuple.
func GetTupleElement(tuple shapes.Shape, index int) (shapes.Shape, error) {
	if !tuple.IsTuple() {
		return shapes.Invalid(), errors.Errorf("GetTupleElement: operand must be a tuple, got %s", tuple)
	}
	if index < 0 || index >= tuple.TupleSize() {
		return shapes.Invalid(), errors.Errorf("GetTupleElement: index %d out of range for tuple %s", index, tuple)
	}
	return tuple.TupleShapes[index].Clone(), nil
}
