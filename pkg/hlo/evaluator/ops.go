// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluator

import (
	"reflect"

	"github.com/gomlx/agcombiner/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/gomlx/agcombiner/pkg/hlo"
	"github.com/gomlx/agcombiner/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

type numeric interface {
	constraints.Integer | constraints.Float | constraints.Complex
}

// broadcastAt returns flat[i], or flat[0] if flat holds a scalar.
func broadcastAt[T any](flat []T, i int) T {
	if len(flat) == 1 {
		return flat[0]
	}
	return flat[i]
}

func binaryFlat[T numeric](opType hlo.OpType, size int, lhs, rhs []T) []T {
	out := make([]T, size)
	for i := range out {
		a, b := broadcastAt(lhs, i), broadcastAt(rhs, i)
		if opType == hlo.OpTypeMultiply {
			out[i] = a * b
		} else {
			out[i] = a + b
		}
	}
	return out
}

func negateFlat[T numeric](flat []T) []T {
	return xslices.Map(flat, func(v T) T { return -v })
}

// binaryFlatF16 computes in float32 and rounds each result back to the 16 bits type.
func binaryFlatF16[T float16.Float16 | bfloat16.BFloat16](opType hlo.OpType, size int, lhs, rhs []T,
	toF32 func(T) float32, fromF32 func(float32) T) []T {
	return xslices.Map(binaryFlat(opType, size, xslices.Map(lhs, toF32), xslices.Map(rhs, toF32)), fromF32)
}

// binaryOp evaluates an element-wise add or multiply. One of the operands may be a scalar.
func binaryOp(opType hlo.OpType, output shapes.Shape, lhs, rhs *hlo.Literal) (*hlo.Literal, error) {
	size := output.Size()
	var flat any
	switch l := lhs.Flat().(type) {
	case []int8:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]int8))
	case []int16:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]int16))
	case []int32:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]int32))
	case []int64:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]int64))
	case []uint8:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]uint8))
	case []uint16:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]uint16))
	case []uint32:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]uint32))
	case []uint64:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]uint64))
	case []float32:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]float32))
	case []float64:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]float64))
	case []complex64:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]complex64))
	case []complex128:
		flat = binaryFlat(opType, size, l, rhs.Flat().([]complex128))
	case []float16.Float16:
		flat = binaryFlatF16(opType, size, l, rhs.Flat().([]float16.Float16), float16.Float16.Float32, float16.Fromfloat32)
	case []bfloat16.BFloat16:
		flat = binaryFlatF16(opType, size, l, rhs.Flat().([]bfloat16.BFloat16), bfloat16.BFloat16.Float32, bfloat16.FromFloat32)
	default:
		return nil, errors.Errorf("%s not supported for %s", opType, lhs.Shape().DType)
	}
	return hlo.NewLiteralFromFlat(output, flat)
}

// unaryOp evaluates an element-wise negate.
func unaryOp(opType hlo.OpType, x *hlo.Literal) (*hlo.Literal, error) {
	var flat any
	switch v := x.Flat().(type) {
	case []int8:
		flat = negateFlat(v)
	case []int16:
		flat = negateFlat(v)
	case []int32:
		flat = negateFlat(v)
	case []int64:
		flat = negateFlat(v)
	case []uint8:
		flat = negateFlat(v)
	case []uint16:
		flat = negateFlat(v)
	case []uint32:
		flat = negateFlat(v)
	case []uint64:
		flat = negateFlat(v)
	case []float32:
		flat = negateFlat(v)
	case []float64:
		flat = negateFlat(v)
	case []complex64:
		flat = negateFlat(v)
	case []complex128:
		flat = negateFlat(v)
	case []float16.Float16:
		// Flipping the sign bit is exact.
		flat = xslices.Map(v, func(f float16.Float16) float16.Float16 { return f ^ 0x8000 })
	case []bfloat16.BFloat16:
		flat = xslices.Map(v, func(f bfloat16.BFloat16) bfloat16.BFloat16 { return f ^ 0x8000 })
	default:
		return nil, errors.Errorf("%s not supported for %s", opType, x.Shape().DType)
	}
	return hlo.NewLiteralFromFlat(x.Shape(), flat)
}

// allReduce sums the values of the participants of the group, in group order.
func allReduce(group []int, values []*hlo.Literal) (*hlo.Literal, error) {
	sum := values[group[0]]
	for _, id := range group[1:] {
		var err error
		sum, err = binaryOp(hlo.OpTypeAdd, sum.Shape(), sum, values[id])
		if err != nil {
			return nil, err
		}
	}
	return sum, nil
}

// allGather concatenates, for each operand, the values of the participants of the group, in group order.
// Multi-operand all-gathers return a tuple.
func allGather(inst *hlo.Instruction, group []int, operands [][]*hlo.Literal) (*hlo.Literal, error) {
	dim := inst.AllGatherParams().Dimension
	gathered := make([]*hlo.Literal, len(operands))
	for ii, values := range operands {
		output := inst.Shape()
		if len(operands) > 1 {
			output = output.TupleShapes[ii]
		}
		parts := make([]*hlo.Literal, len(group))
		for jj, id := range group {
			parts[jj] = values[id]
		}
		var err error
		gathered[ii], err = concatenate(parts, dim, output)
		if err != nil {
			return nil, errors.WithMessagef(err, "all-gather operand #%d", ii)
		}
	}
	if len(operands) == 1 {
		return gathered[0], nil
	}
	return hlo.NewTupleLiteral(gathered...), nil
}

// concatenate the parts, all with the same shape, along axis dim, into a literal of the given output shape.
func concatenate(parts []*hlo.Literal, dim int, output shapes.Shape) (*hlo.Literal, error) {
	partShape := parts[0].Shape()
	outer, chunk := 1, 1
	for axis, size := range partShape.Dimensions {
		if axis < dim {
			outer *= size
		} else {
			chunk *= size
		}
	}
	if outer*chunk*len(parts) != output.Size() {
		return nil, errors.Errorf("can't concatenate %d values of shape %s into %s", len(parts), partShape, output)
	}
	sources := make([]reflect.Value, len(parts))
	for ii, part := range parts {
		if !part.Shape().Equal(partShape) {
			return nil, errors.Errorf("participants have different shapes %s and %s", partShape, part.Shape())
		}
		sources[ii] = reflect.ValueOf(part.Flat())
	}
	flat := reflect.MakeSlice(sources[0].Type(), output.Size(), output.Size())
	pos := 0
	for o := range outer {
		for _, src := range sources {
			reflect.Copy(flat.Slice(pos, pos+chunk), src.Slice(o*chunk, (o+1)*chunk))
			pos += chunk
		}
	}
	return hlo.NewLiteralFromFlat(output, flat.Interface())
}
