// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"testing"

	"github.com/gomlx/agcombiner/pkg/core/dtypes"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Aliases
var (
	F32 = dtypes.Float32
	U32 = dtypes.Uint32

	MS = shapes.Make
)

// must1 panics if there is an error.
func must1[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}
	return value
}

func TestElementwiseBinary(t *testing.T) {
	output := must1(ElementwiseBinary(MS(F32, 2, 3), MS(F32, 2, 3)))
	assert.Equal(t, "f32[2,3]", output.String())
	output = must1(ElementwiseBinary(MS(F32), MS(F32, 4)))
	assert.Equal(t, "f32[4]", output.String())

	_, err := ElementwiseBinary(MS(F32, 2), MS(U32, 2))
	require.Error(t, err)
	_, err = ElementwiseBinary(MS(F32, 2), MS(F32, 3))
	require.Error(t, err)
	_, err = ElementwiseBinary(shapes.MakeTuple(MS(F32, 2)), MS(F32, 2))
	require.Error(t, err)
}

func TestAllGather(t *testing.T) {
	output := must1(AllGather(MS(F32, 32), 4, 0))
	assert.Equal(t, "f32[128]", output.String())
	output = must1(AllGather(MS(F32, 2, 2), 4, 1))
	assert.Equal(t, "f32[2,8]", output.String())

	_, err := AllGather(MS(F32, 2), 4, 1)
	require.Error(t, err)
	_, err = AllGather(MS(F32, 2), 0, 0)
	require.Error(t, err)
	_, err = AllGather(shapes.MakeTuple(MS(F32, 2)), 2, 0)
	require.Error(t, err)
}

func TestValidateAllGather(t *testing.T) {
	tests := []struct {
		name          string
		operand       shapes.Shape
		output        shapes.Shape
		dim           int
		wantGroupSize int
		wantErr       bool
	}{
		{"1D", MS(F32, 32), MS(F32, 128), 0, 4, false},
		{"2D on axis 1", MS(F32, 2, 2), MS(F32, 2, 8), 1, 4, false},
		{"group of 1", MS(F32, 3), MS(F32, 3), 0, 1, false},
		{"empty gather dim", MS(F32, 0, 2), MS(F32, 0, 2), 0, 1, false},
		{"not a multiple", MS(F32, 3), MS(F32, 7), 0, 0, true},
		{"other axis differs", MS(F32, 2, 2), MS(F32, 8, 4), 0, 0, true},
		{"dtype differs", MS(F32, 2), MS(U32, 4), 0, 0, true},
		{"rank differs", MS(F32, 2), MS(F32, 4, 1), 0, 0, true},
		{"dim out of range", MS(F32, 2), MS(F32, 4), 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groupSize, err := ValidateAllGather(tt.operand, tt.output, tt.dim)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantGroupSize, groupSize)
		})
	}
}

func TestCombinedAllGather(t *testing.T) {
	tuple := must1(CombinedAllGather(
		[]shapes.Shape{MS(F32, 32), MS(U32, 16)},
		[]shapes.Shape{MS(F32, 128), MS(U32, 64)}, 0))
	assert.Equal(t, "(f32[128], u32[64])", tuple.String())
	assert.Equal(t, int64(128*4+64*4), tuple.ByteSize())

	_, err := CombinedAllGather([]shapes.Shape{MS(F32, 32)}, []shapes.Shape{MS(F32, 128)}, 0)
	require.Error(t, err, "a single member can't be combined")
	_, err = CombinedAllGather([]shapes.Shape{MS(F32, 32), MS(F32, 32)}, []shapes.Shape{MS(F32, 128)}, 0)
	require.Error(t, err)
	_, err = CombinedAllGather(
		[]shapes.Shape{MS(F32, 32), MS(F32, 32)},
		[]shapes.Shape{MS(F32, 128), MS(F32, 64)}, 0)
	require.Error(t, err, "different group sizes")
}

func TestGetTupleElement(t *testing.T) {
	tuple := shapes.MakeTuple(MS(F32, 2), MS(U32))
	assert.Equal(t, "u32[]", must1(GetTupleElement(tuple, 1)).String())
	_, err := GetTupleElement(tuple, 2)
	require.Error(t, err)
	_, err = GetTupleElement(MS(F32, 2), 0)
	require.Error(t, err)
}
