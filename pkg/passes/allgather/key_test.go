// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allgather

import (
	"testing"

	"github.com/gomlx/agcombiner/pkg/core/distributed"
	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/gomlx/agcombiner/pkg/hlo"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
)

func TestIsCombinable(t *testing.T) {
	module := hlo.NewModule("combinable").SetNumReplicas(2)
	b := hlo.NewBuilder(module, "entry")
	p0 := b.Parameter(MS(F32, 4))
	p1 := b.Parameter(MS(F32, 4))
	ag := b.Collective().AllGather(p0, 0)
	ar := b.Collective().AllReduce(p1)
	entry := b.BuildEntry(b.Tuple(ag, ar))
	multi := must.M1(entry.AddAllGather([]*hlo.Instruction{p0, p1},
		shapes.MakeTuple(MS(F32, 8), MS(F32, 8)), hlo.AllGatherParams{}))

	assert.True(t, isCombinable(ag))
	assert.False(t, isCombinable(ar))
	assert.False(t, isCombinable(p0))
	assert.False(t, isCombinable(multi), "multi-operand all-gathers are not combined again")
}

func TestCombineKey(t *testing.T) {
	module := hlo.NewModule("keys").SetNumReplicas(4)
	b := hlo.NewBuilder(module, "entry")
	x := b.Parameter(MS(F32, 2, 3))
	y := b.Parameter(MS(F32, 2, 5))
	z := b.Parameter(MS(U32, 2, 3))
	groups := distributed.ReplicaGroups{{0, 1}, {2, 3}}
	reordered := distributed.ReplicaGroups{{2, 3}, {0, 1}}

	base := b.Collective().WithReplicaGroups(groups).AllGather(x, 0)
	tests := []struct {
		name string
		inst *hlo.Instruction
		same bool
	}{
		{"same", b.Collective().WithReplicaGroups(groups).AllGather(x, 0), true},
		{"reordered groups", b.Collective().WithReplicaGroups(reordered).AllGather(x, 0), true},
		{"other size along gather dimension", b.Collective().WithReplicaGroups(groups).AllGather(b.Parameter(MS(F32, 1, 3)), 0), true},
		{"other dimensions", b.Collective().WithReplicaGroups(groups).AllGather(y, 0), false},
		{"other dtype", b.Collective().WithReplicaGroups(groups).AllGather(z, 0), false},
		{"other gather dimension", b.Collective().WithReplicaGroups(groups).AllGather(x, 1), false},
		{"all replicas", b.Collective().AllGather(x, 0), false},
		{"channel", b.Collective().WithReplicaGroups(groups).OnChannel(3).AllGather(x, 0), false},
		{"global device ids", b.Collective().WithReplicaGroups(groups).WithGlobalDeviceIDs().AllGather(x, 0), false},
	}
	var all []*hlo.Instruction
	for _, tt := range tests {
		all = append(all, tt.inst)
	}
	b.BuildEntry(b.Tuple(append(all, base)...))
	domains := hlo.NewDomainMap(b.Computation(), hlo.ShardingDomainKind)
	baseKey := makeCombineKey(base, domains)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := makeCombineKey(tt.inst, domains)
			if tt.same {
				assert.Equal(t, baseKey, key)
			} else {
				assert.NotEqual(t, baseKey, key)
			}
		})
	}
	assert.Equal(t, "{f32[_,3] dim=0, replica_groups={{0,1},{2,3}}, cross-replica, global_ids=false, domain=0}",
		baseKey.String())
}
