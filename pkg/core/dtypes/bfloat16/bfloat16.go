// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bfloat16 is a trivial implementation for the bfloat16 type, based on
// https://github.com/x448/float16.
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) is the 16 bits truncated version of the IEEE 754 binary32 format:
// 1 bit sign, 8 bits exponent and 7 bits mantissa.
type BFloat16 uint16

// Float32 converts the BFloat16 to a float32, exactly.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, truncating the mantissa.
func FromFloat32(x float32) BFloat16 {
	return BFloat16(math.Float32bits(x) >> 16)
}

// FromFloat64 converts a float64 to a BFloat16, going through float32.
func FromFloat64(x float64) BFloat16 {
	return FromFloat32(float32(x))
}

// Bits returns the raw bits.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// String implements fmt.Stringer.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}
