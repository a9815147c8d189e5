// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluator

import (
	"testing"

	"github.com/gomlx/agcombiner/pkg/core/distributed"
	"github.com/gomlx/agcombiner/pkg/core/dtypes"
	"github.com/gomlx/agcombiner/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/gomlx/agcombiner/pkg/hlo"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// replicaArgs returns the arguments for numReplicas replicas, where fn returns the arguments of each replica.
func replicaArgs(numReplicas int, fn func(replica int) []*hlo.Literal) [][]*hlo.Literal {
	args := make([][]*hlo.Literal, numReplicas)
	for replica := range args {
		args[replica] = fn(replica)
	}
	return args
}

func TestAllGather(t *testing.T) {
	for _, parallelism := range []int{0, 1, -1} {
		module := hlo.NewModule("all_gather").SetNumReplicas(4)
		b := hlo.NewBuilder(module, "entry")
		x := b.Parameter(shapes.Make(dtypes.Float32, 1, 2))
		ag0 := b.Collective().AllGather(x, 0)
		ag1 := b.Collective().WithReplicaGroups(distributed.ReplicaGroups{{2, 0}, {1, 3}}).AllGather(x, 1)
		b.BuildEntry(b.Tuple(ag0, ag1))

		e := must.M1(New(module, 4)).WithMaxParallelism(parallelism)
		results, err := e.Run(replicaArgs(4, func(replica int) []*hlo.Literal {
			r := float32(replica)
			return []*hlo.Literal{hlo.NewArrayLiteral([]float32{r, 10 + r}, 1, 2)}
		}))
		require.NoError(t, err)
		require.Len(t, results, 4)
		allGathered := hlo.NewArrayLiteral([]float32{0, 10, 1, 11, 2, 12, 3, 13}, 4, 2)
		for replica, result := range results {
			assert.True(t, allGathered.Equal(result.Elements()[0]), "replica %d: %s", replica, result)
		}
		assert.Equal(t, []float32{2, 12, 0, 10}, results[0].Elements()[1].Flat())
		assert.Equal(t, []float32{2, 12, 0, 10}, results[2].Elements()[1].Flat())
		assert.Equal(t, []float32{1, 11, 3, 13}, results[3].Elements()[1].Flat())
	}
}

func TestCombinedAllGather(t *testing.T) {
	module := hlo.NewModule("combined").SetNumReplicas(2)
	b := hlo.NewBuilder(module, "entry")
	x := b.Parameter(shapes.Make(dtypes.Float32, 2))
	y := b.Parameter(shapes.Make(dtypes.Uint32, 1))
	entry := b.BuildEntry(b.Tuple(x, y))
	combined := must.M1(entry.AddAllGather([]*hlo.Instruction{x, y},
		shapes.MakeTuple(shapes.Make(dtypes.Float32, 4), shapes.Make(dtypes.Uint32, 2)), hlo.AllGatherParams{}))
	entry.SetRoot(combined)
	require.NoError(t, hlo.Verify(module))

	results, err := Evaluate(module, 2, replicaArgs(2, func(replica int) []*hlo.Literal {
		return []*hlo.Literal{
			hlo.NewArrayLiteral([]float32{float32(replica), 0.5}, 2),
			hlo.NewArrayLiteral([]uint32{uint32(100 + replica)}, 1),
		}
	}))
	require.NoError(t, err)
	want := hlo.NewTupleLiteral(
		hlo.NewArrayLiteral([]float32{0, 0.5, 1, 0.5}, 4),
		hlo.NewArrayLiteral([]uint32{100, 101}, 2))
	for _, result := range results {
		assert.True(t, want.Equal(result), "got %s", result)
	}
}

func TestElementwiseAndFusion(t *testing.T) {
	module := hlo.NewModule("elementwise").SetNumReplicas(2)
	fb := hlo.NewFusionBuilder(module, "square")
	fp := fb.Parameter(shapes.Make(dtypes.Int32, 3))
	square := fb.Build(fb.Multiply(fp, fp))

	b := hlo.NewBuilder(module, "entry")
	x := b.Parameter(shapes.Make(dtypes.Int32, 3))
	two := b.Constant(hlo.NewScalarLiteral(int32(2)))
	sum := b.Collective().AllReduce(x)
	result := b.Add(b.Negate(b.Fusion(square, x)), b.Multiply(two, b.Copy(sum)))
	b.BuildEntry(b.Tuple(result, b.GetTupleElement(b.Tuple(x, sum), 1)))

	results, err := Evaluate(module, 2, [][]*hlo.Literal{
		{hlo.NewArrayLiteral([]int32{1, 2, 3}, 3)},
		{hlo.NewArrayLiteral([]int32{10, 20, 30}, 3)},
	})
	require.NoError(t, err)
	// -x*x + 2*(x0+x1)
	assert.Equal(t, []int32{21, 40, 57}, results[0].Elements()[0].Flat())
	assert.Equal(t, []int32{-78, -356, -834}, results[1].Elements()[0].Flat())
	assert.Equal(t, []int32{11, 22, 33}, results[1].Elements()[1].Flat())
}

func TestHalfPrecision(t *testing.T) {
	module := hlo.NewModule("half").SetNumReplicas(1)
	b := hlo.NewBuilder(module, "entry")
	x := b.Parameter(shapes.Make(dtypes.Float16, 2))
	y := b.Parameter(shapes.Make(dtypes.BFloat16, 2))
	b.BuildEntry(b.Tuple(b.Add(x, b.Negate(x)), b.Multiply(y, y)))

	f16 := []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}
	bf16 := []bfloat16.BFloat16{bfloat16.FromFloat32(3), bfloat16.FromFloat32(0.5)}
	results, err := Evaluate(module, 1, [][]*hlo.Literal{{hlo.NewArrayLiteral(f16, 2), hlo.NewArrayLiteral(bf16, 2)}})
	require.NoError(t, err)
	gotF16 := results[0].Elements()[0].Flat().([]float16.Float16)
	assert.Equal(t, float32(0), gotF16[0].Float32())
	assert.Equal(t, float32(0), gotF16[1].Float32())
	gotBF16 := results[0].Elements()[1].Flat().([]bfloat16.BFloat16)
	assert.Equal(t, float32(9), gotBF16[0].Float32())
	assert.Equal(t, float32(0.25), gotBF16[1].Float32())
}

func TestErrors(t *testing.T) {
	module := hlo.NewModule("errors").SetNumReplicas(2)
	b := hlo.NewBuilder(module, "entry")
	x := b.Parameter(shapes.Make(dtypes.Float32, 2))
	b.BuildEntry(b.Collective().AllGather(x, 0))

	arg := hlo.NewArrayLiteral([]float32{1, 2}, 2)
	tests := []struct {
		name        string
		numReplicas int
		args        [][]*hlo.Literal
	}{
		{"missing replica", 2, [][]*hlo.Literal{{arg}}},
		{"missing argument", 2, [][]*hlo.Literal{{arg}, {}}},
		{"wrong shape", 2, [][]*hlo.Literal{{arg}, {hlo.NewArrayLiteral([]float32{1}, 1)}}},
		{"all-gather shape inconsistent with replicas", 3, [][]*hlo.Literal{{arg}, {arg}, {arg}}},
		{"no replicas", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(module, tt.numReplicas, tt.args)
			require.Error(t, err)
		})
	}

	_, err := Evaluate(hlo.NewModule("empty"), 1, nil)
	require.Error(t, err)
}
