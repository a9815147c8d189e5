// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the type of the value produced by an instruction.
//
// A Shape is either an array (a DType and its dimensions) or a tuple of other shapes. Multi-operand
// collectives, like a combined all-gather, produce tuple shapes, and their individual outputs are
// extracted with get-tuple-element instructions.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of an array.
//   - Axis: is the index of a dimension on a multidimensional array. Here we try to refer to a dimension index as
//     "axis" (plural axes), and its size as its dimension.
//   - Dimension: the size of a multi-dimensions array in one of its axes.
//   - DType: the data type of the unit element in an array.
//   - Scalar: is a shape where there are no axes (or dimensions), only a single value of the associated DType.
//
// Example: `shapes.Make(dtypes.F32, 2, 8)` is printed as `f32[2,8]`, it has rank 2 (so 2 axes), axis 0 has
// dimension 2, and axis 1 has dimension 8.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/agcombiner/pkg/core/dtypes"
	"github.com/gomlx/exceptions"
)

// Shape represents the shape of the value of an instruction.
//
// Use Make to create a new array shape, and MakeTuple for tuple shapes.
type Shape struct {
	DType       dtypes.DType
	Dimensions  []int
	TupleShapes []Shape // Shapes of the tuple, if this is a tuple.
}

// Make returns an array Shape with the values given.
// It panics if any of the dimensions is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with negative dimension", s)
		}
	}
	return s
}

// MakeTuple returns a shape representing a tuple of elements with the given shapes.
func MakeTuple(elements ...Shape) Shape {
	tuple := Shape{DType: dtypes.InvalidDType, TupleShapes: make([]Shape, 0, len(elements))}
	for _, element := range elements {
		tuple.TupleShapes = append(tuple.TupleShapes, element.Clone())
	}
	return tuple
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType || s.TupleShapes != nil }

// IsTuple returns whether the shape represents a tuple.
func (s Shape) IsTuple() bool { return s.DType == dtypes.InvalidDType && s.TupleShapes != nil }

// IsArray returns whether the shape is a valid array (not a tuple).
func (s Shape) IsArray() bool { return s.DType != dtypes.InvalidDType }

// TupleSize returns the number of elements in the tuple, if it is a tuple.
func (s Shape) TupleSize() int { return len(s.TupleShapes) }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.IsArray() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Size returns the number of elements of DType needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// ByteSize returns the number of bytes needed to store a value of this shape.
// For tuples, it is the sum of the byte size of its elements.
func (s Shape) ByteSize() int64 {
	if s.IsTuple() {
		var total int64
		for _, element := range s.TupleShapes {
			total += element.ByteSize()
		}
		return total
	}
	return int64(s.DType.Size()) * int64(s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared, recursively for tuples.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	if s.IsTuple() != s2.IsTuple() {
		return false
	}
	if s.IsTuple() {
		if s.TupleSize() != s2.TupleSize() {
			return false
		}
		for ii, element := range s.TupleShapes {
			if !element.Equal(s2.TupleShapes[ii]) {
				return false
			}
		}
		return true
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	if s.TupleShapes != nil {
		s2.TupleShapes = make([]Shape, 0, len(s.TupleShapes))
		for _, subShape := range s.TupleShapes {
			s2.TupleShapes = append(s2.TupleShapes, subShape.Clone())
		}
	}
	return
}

// String implements fmt.Stringer and pretty-prints the shape in the HLO format, e.g. `f32[2,8]` or
// `(f32[128], u32[64])`.
func (s Shape) String() string {
	if s.IsTuple() {
		parts := make([]string, 0, s.TupleSize())
		for _, element := range s.TupleShapes {
			parts = append(parts, element.String())
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, ", "))
	}
	if !s.Ok() {
		return "invalid"
	}
	dims := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		dims = append(dims, fmt.Sprintf("%d", dim))
	}
	return fmt.Sprintf("%s[%s]", s.DType, strings.Join(dims, ","))
}
