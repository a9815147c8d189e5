// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed_test

import (
	"testing"

	"github.com/gomlx/agcombiner/pkg/core/distributed"
	"github.com/gomlx/agcombiner/pkg/core/dtypes"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharding(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "{maximal device=0}", distributed.Maximal(0).String())
		assert.Equal(t, "{replicated}", distributed.Replicated().String())
		tuple := distributed.TupleSharding(distributed.Maximal(0), distributed.Maximal(1))
		assert.Equal(t, "{{maximal device=0}, {maximal device=1}}", tuple.String())
		var none *distributed.Sharding
		assert.Equal(t, "{}", none.String())
	})

	t.Run("Equal", func(t *testing.T) {
		var none *distributed.Sharding
		assert.True(t, none.Equal(nil))
		assert.False(t, none.Equal(distributed.Replicated()))
		assert.False(t, distributed.Replicated().Equal(nil))
		assert.True(t, distributed.Maximal(1).Equal(distributed.Maximal(1)))
		assert.False(t, distributed.Maximal(1).Equal(distributed.Maximal(0)))
		assert.True(t, distributed.TupleSharding(distributed.Maximal(0)).Equal(
			distributed.TupleSharding(distributed.Maximal(0))))
	})

	t.Run("CombineShardings", func(t *testing.T) {
		assert.Nil(t, distributed.CombineShardings([]*distributed.Sharding{nil, nil}))
		combined := distributed.CombineShardings([]*distributed.Sharding{distributed.Maximal(0), nil})
		require.True(t, combined.IsTuple())
		assert.Equal(t, "{{maximal device=0}, {replicated}}", combined.String())
		assert.True(t, combined.TupleElement(0).Equal(distributed.Maximal(0)))
		assert.Nil(t, combined.TupleElement(2))
		assert.True(t, distributed.Maximal(3).TupleElement(7).Equal(distributed.Maximal(3)))
	})

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, distributed.TupleSharding(distributed.Maximal(0), distributed.Replicated()).Validate())
		require.Error(t, distributed.Maximal(-1).Validate())
		require.Error(t, distributed.Tiled(nil).Validate())
		bad := &distributed.Sharding{Type: distributed.ShardingTuple, Elements: []*distributed.Sharding{nil}}
		require.Error(t, bad.Validate())
	})

	t.Run("Tiled", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh([]int{2, 2}, []string{"data", "model"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).R().S("model").Done()
		require.NoError(t, err)
		sharding := distributed.Tiled(spec)
		require.NoError(t, sharding.Validate())
		assert.Equal(t, "{tiled mesh[R, S(model)]}", sharding.String())

		// Trailing replicated axes don't change the sharding.
		spec2, err := distributed.BuildSpec(mesh).R().S("model").R().Done()
		require.NoError(t, err)
		assert.True(t, sharding.Equal(distributed.Tiled(spec2)))

		// Same layout, different topology.
		other, err := distributed.NewDeviceMesh([]int{1, 4}, []string{"data", "model"})
		require.NoError(t, err)
		spec3, err := distributed.BuildSpec(other).R().S("model").Done()
		require.NoError(t, err)
		assert.False(t, sharding.Equal(distributed.Tiled(spec3)))
	})
}

func TestShardingSpec(t *testing.T) {
	mesh, err := distributed.NewDeviceMesh([]int{2, 2}, []string{"data", "model"})
	require.NoError(t, err)

	t.Run("Validate", func(t *testing.T) {
		_, err := distributed.BuildSpec(mesh).S("unknown").Done()
		require.Error(t, err)
		_, err = distributed.BuildSpec(mesh).S("data").S("data").Done()
		require.Error(t, err)
		_, err = distributed.NewShardingSpec(nil)
		require.Error(t, err)
		spec, err := distributed.NewShardingSpec(mesh, distributed.ReplicatedAxis, distributed.AxisSpec{"data"})
		require.NoError(t, err)
		assert.Equal(t, 2, spec.Rank())
		assert.False(t, spec.IsReplicated())
	})

	t.Run("ShardShape", func(t *testing.T) {
		spec, err := distributed.BuildSpec(mesh).R().S("data", "model").Done()
		require.NoError(t, err)
		assert.Equal(t, 4, spec.NumDevicesShardingAxis(1))
		assert.Equal(t, 1, spec.NumDevicesShardingAxis(0))
		assert.Equal(t, 1, spec.NumDevicesShardingAxis(5))

		shard, err := spec.ShardShape(shapes.Make(dtypes.F32, 3, 8))
		require.NoError(t, err)
		assert.Equal(t, "f32[3,2]", shard.String())

		_, err = spec.ShardShape(shapes.Make(dtypes.F32, 3, 6))
		require.Error(t, err)
		_, err = spec.ShardShape(shapes.Make(dtypes.F32, 3))
		require.Error(t, err)

		var none *distributed.ShardingSpec
		shard, err = none.ShardShape(shapes.Make(dtypes.F32, 3))
		require.NoError(t, err)
		assert.Equal(t, "f32[3]", shard.String())
	})
}
