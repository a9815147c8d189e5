// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gomlx/agcombiner/pkg/core/dtypes"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Literal is a concrete value: the payload of constants, and the inputs and outputs of the evaluator.
//
// Arrays hold their values in a flat Go slice (`[]T` for the dtype's Go type), in row-major order.
// Tuples hold one Literal per element.
type Literal struct {
	shape    shapes.Shape
	flat     any
	elements []*Literal
}

// NewArrayLiteral creates an array literal with the given flat values (row-major) and dimensions.
// It panics if the number of values doesn't match the dimensions.
func NewArrayLiteral[T dtypes.Supported](flat []T, dimensions ...int) *Literal {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if shape.Size() != len(flat) {
		exceptions.Panicf("NewArrayLiteral: %d values given for shape %s, which has %d elements", len(flat), shape, shape.Size())
	}
	values := make([]T, len(flat))
	copy(values, flat)
	return &Literal{shape: shape, flat: values}
}

// NewScalarLiteral creates a scalar literal.
func NewScalarLiteral[T dtypes.Supported](value T) *Literal {
	return NewArrayLiteral([]T{value})
}

// NewTupleLiteral creates a tuple literal with the given elements.
func NewTupleLiteral(elements ...*Literal) *Literal {
	elementShapes := make([]shapes.Shape, len(elements))
	for ii, element := range elements {
		elementShapes[ii] = element.shape
	}
	return &Literal{shape: shapes.MakeTuple(elementShapes...), elements: elements}
}

// NewLiteralFromFlat creates an array literal of the given shape from a flat slice of any supported type.
// The flat slice is used without copying.
func NewLiteralFromFlat(shape shapes.Shape, flat any) (*Literal, error) {
	if !shape.IsArray() {
		return nil, errors.Errorf("NewLiteralFromFlat requires an array shape, got %s", shape)
	}
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice || v.Type().Elem() != shape.DType.GoType() {
		return nil, errors.Errorf("NewLiteralFromFlat: shape %s requires a []%s, got %T", shape, shape.DType.GoType(), flat)
	}
	if v.Len() != shape.Size() {
		return nil, errors.Errorf("NewLiteralFromFlat: %d values given for shape %s, which has %d elements",
			v.Len(), shape, shape.Size())
	}
	return &Literal{shape: shape.Clone(), flat: flat}, nil
}

// Shape of the literal.
func (l *Literal) Shape() shapes.Shape { return l.shape }

// Flat returns the flat slice of values of an array literal, or nil for tuples.
func (l *Literal) Flat() any { return l.flat }

// Elements returns the elements of a tuple literal, or nil for arrays.
func (l *Literal) Elements() []*Literal { return l.elements }

// Equal returns whether both literals have the same shape and the exact same values.
func (l *Literal) Equal(l2 *Literal) bool {
	if l == nil || l2 == nil {
		return l == l2
	}
	if !l.shape.Equal(l2.shape) {
		return false
	}
	if l.shape.IsTuple() {
		for ii, element := range l.elements {
			if !element.Equal(l2.elements[ii]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(l.flat, l2.flat)
}

// String implements fmt.Stringer, e.g. `f32[2]{1, 2}` or `(f32[1]{0}, u32[]{3})`.
func (l *Literal) String() string {
	if l == nil {
		return "<nil>"
	}
	if l.shape.IsTuple() {
		parts := make([]string, len(l.elements))
		for ii, element := range l.elements {
			parts[ii] = element.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	v := reflect.ValueOf(l.flat)
	values := make([]string, v.Len())
	for ii := range values {
		values[ii] = fmt.Sprint(v.Index(ii).Interface())
	}
	return fmt.Sprintf("%s{%s}", l.shape, strings.Join(values, ", "))
}
