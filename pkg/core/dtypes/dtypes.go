// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types of instruction shapes.
//
// The numeric values follow XLA's PrimitiveType numbering for the types supported, so they can
// be exchanged with XLA tooling, and String returns the short HLO names (f32, s64, pred, ...)
// used when printing computations.
package dtypes

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/agcombiner/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is an enum with the element type of an array shape.
type DType int32

const (
	// InvalidDType is the zero value and the "dtype" of tuple shapes.
	InvalidDType DType = 0

	// Bool is also known as PRED in XLA.
	Bool DType = 1

	Int8  DType = 2
	Int16 DType = 3
	Int32 DType = 4
	Int64 DType = 5

	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8
	Uint64 DType = 9

	Float16 DType = 10
	Float32 DType = 11
	Float64 DType = 12

	// BFloat16 is the truncated 16 bits float: 1 bit sign, 8 bits exponent, 7 bits mantissa.
	BFloat16 DType = 16

	Complex64  DType = 15
	Complex128 DType = 18
)

// Aliases using XLA's naming.
const (
	PRED = Bool
	S8   = Int8
	S16  = Int16
	S32  = Int32
	S64  = Int64
	U8   = Uint8
	U16  = Uint16
	U32  = Uint32
	U64  = Uint64
	F16  = Float16
	F32  = Float32
	F64  = Float64
	BF16 = BFloat16
	C64  = Complex64
	C128 = Complex128
)

var dtypeInfo = map[DType]struct {
	name, hloName string
	goType        reflect.Type
}{
	Bool:       {"Bool", "pred", reflect.TypeOf(true)},
	Int8:       {"Int8", "s8", reflect.TypeOf(int8(0))},
	Int16:      {"Int16", "s16", reflect.TypeOf(int16(0))},
	Int32:      {"Int32", "s32", reflect.TypeOf(int32(0))},
	Int64:      {"Int64", "s64", reflect.TypeOf(int64(0))},
	Uint8:      {"Uint8", "u8", reflect.TypeOf(uint8(0))},
	Uint16:     {"Uint16", "u16", reflect.TypeOf(uint16(0))},
	Uint32:     {"Uint32", "u32", reflect.TypeOf(uint32(0))},
	Uint64:     {"Uint64", "u64", reflect.TypeOf(uint64(0))},
	Float16:    {"Float16", "f16", reflect.TypeOf(float16.Float16(0))},
	Float32:    {"Float32", "f32", reflect.TypeOf(float32(0))},
	Float64:    {"Float64", "f64", reflect.TypeOf(float64(0))},
	BFloat16:   {"BFloat16", "bf16", reflect.TypeOf(bfloat16.BFloat16(0))},
	Complex64:  {"Complex64", "c64", reflect.TypeOf(complex64(0))},
	Complex128: {"Complex128", "c128", reflect.TypeOf(complex128(0))},
}

// MapOfNames maps the Go style names ("Float32"), the XLA names ("F32") and the HLO names ("f32")
// of each DType to its value.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"INVALID":      InvalidDType,
}

func init() {
	for dtype, info := range dtypeInfo {
		MapOfNames[info.name] = dtype
		MapOfNames[info.hloName] = dtype
		MapOfNames[strings.ToUpper(info.hloName)] = dtype
	}

	// Add a mapping to the lower-case version of dtypes.
	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// FromName returns the DType for any of the names in MapOfNames.
func FromName(name string) (DType, error) {
	dtype, found := MapOfNames[name]
	if !found {
		return InvalidDType, errors.Errorf("unknown dtype name %q", name)
	}
	return dtype, nil
}

// String returns the short HLO name of the dtype (f32, u32, pred, ...).
func (dtype DType) String() string {
	if info, found := dtypeInfo[dtype]; found {
		return info.hloName
	}
	if dtype == InvalidDType {
		return "invalid"
	}
	return "unknown_dtype"
}

// Name returns the Go style name of the dtype (Float32, Uint32, Bool, ...).
func (dtype DType) Name() string {
	if info, found := dtypeInfo[dtype]; found {
		return info.name
	}
	return "InvalidDType"
}

// IsSupported returns whether dtype is one of the known dtypes.
func (dtype DType) IsSupported() bool {
	_, found := dtypeInfo[dtype]
	return found
}

// GoType returns the Go `reflect.Type` corresponding to the DType.
// It panics for unsupported dtypes.
func (dtype DType) GoType() reflect.Type {
	info, found := dtypeInfo[dtype]
	if !found {
		panic(errors.Errorf("unknown dtype %d in DType.GoType", dtype))
	}
	return info.goType
}

// Size returns the number of bytes for one element of the given DType, or 0 for an invalid dtype.
func (dtype DType) Size() int {
	if !dtype.IsSupported() {
		return 0
	}
	return int(dtype.GoType().Size())
}

// Bits returns the number of bits for the given DType.
func (dtype DType) Bits() int {
	return dtype.Size() * 8
}

// SizeForDimensions returns the size in bytes used for the given dimensions.
//
// It works also for scalar (one element) shapes where the list of dimensions is empty.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	numElements := 1
	for _, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("dim cannot be negative for SizeForDimensions, got %v", dimensions))
		}
		numElements *= dim
	}
	return numElements * dtype.Size()
}

// IsFloat returns whether dtype is a float, including the 16 bits ones. It returns false for complex numbers.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float64 || dtype == Float16 || dtype == BFloat16
}

// IsComplex returns whether dtype is a complex number type.
func (dtype DType) IsComplex() bool {
	return dtype == Complex64 || dtype == Complex128
}

// IsInt returns whether dtype is an integer type, signed or unsigned.
func (dtype DType) IsInt() bool {
	return dtype == Int64 || dtype == Int32 || dtype == Int16 || dtype == Int8 || dtype.IsUnsigned()
}

// IsUnsigned returns whether dtype is one of the unsigned integer types.
func (dtype DType) IsUnsigned() bool {
	return dtype == Uint8 || dtype == Uint16 || dtype == Uint32 || dtype == Uint64
}

// Supported lists the Go types that have a corresponding DType.
type Supported interface {
	bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		float16.Float16 | float32 | float64 | bfloat16.BFloat16 | complex64 | complex128
}

// FromGoType returns the DType for the given Go type, or InvalidDType if there is none.
func FromGoType(t reflect.Type) DType {
	for dtype, info := range dtypeInfo {
		if info.goType == t {
			return dtype
		}
	}
	return InvalidDType
}

// FromGenericsType returns the DType corresponding to the Go type T.
func FromGenericsType[T Supported]() DType {
	var zero T
	return FromGoType(reflect.TypeOf(zero))
}
