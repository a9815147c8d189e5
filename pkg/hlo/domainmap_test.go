// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"testing"

	"github.com/gomlx/agcombiner/pkg/core/distributed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardingMetadata(t *testing.T) {
	m0 := NewShardingMetadata(distributed.Maximal(0))
	assert.Equal(t, ShardingDomainKind, m0.Kind())
	assert.True(t, m0.Matches(NewShardingMetadata(distributed.Maximal(0))))
	assert.False(t, m0.Matches(NewShardingMetadata(distributed.Maximal(1))))
	assert.False(t, m0.Matches(nil))
	assert.Equal(t, "{maximal device=0}", m0.String())
}

// buildDomains builds one all-gather per exit device, each wrapped by a sharding domain with the given exit
// sharding and a shared entry sharding.
func buildDomains(t *testing.T, exitDevices ...int) (*Computation, []*Instruction) {
	module := NewModule("domains").SetNumReplicas(4)
	b := NewBuilder(module, "entry")
	entryShardings := make([]*distributed.Sharding, len(exitDevices))
	for ii, device := range exitDevices {
		entryShardings[ii] = distributed.Maximal(device)
	}
	entrySharding := distributed.TupleSharding(entryShardings...)
	var allGathers, domains []*Instruction
	for _, device := range exitDevices {
		p := b.Parameter(MS(F32, 32)).SetSharding(distributed.Maximal(device))
		ag := b.Collective().AllGather(p, 0).SetSharding(distributed.Maximal(device))
		allGathers = append(allGathers, ag)
		domains = append(domains, b.ShardingDomain(ag, distributed.Maximal(device), entrySharding))
	}
	root := b.Tuple(domains...).SetSharding(entrySharding)
	entry := b.BuildEntry(root)
	require.NoError(t, Verify(module))
	return entry, allGathers
}

func TestDomainMap(t *testing.T) {
	t.Run("different exits", func(t *testing.T) {
		entry, ags := buildDomains(t, 0, 1)
		m := NewDomainMap(entry, ShardingDomainKind)
		assert.Equal(t, 3, m.NumRegions(), "one region per all-gather, plus the tuple")
		assert.NotEqual(t, m.MetadataID(ags[0]), m.MetadataID(ags[1]))
		assert.False(t, m.InSameDomain(ags[0], ags[1]))
		assert.True(t, m.InSameDomain(ags[0], ags[0].Operand(0)))
		assert.Equal(t, -1, m.MetadataID(ags[0].Users()[0]), "domain instructions have no region")
	})

	t.Run("same exits in different regions", func(t *testing.T) {
		entry, ags := buildDomains(t, 0, 1, 0)
		m := NewDomainMap(entry, ShardingDomainKind)
		assert.Equal(t, 4, m.NumRegions())
		assert.NotEqual(t, m.RegionOf(ags[0]), m.RegionOf(ags[2]))
		assert.True(t, m.InSameDomain(ags[0], ags[2]))
		assert.False(t, m.InSameDomain(ags[0], ags[1]))
		assert.Equal(t, 4, m.NumMetadataIDs(), "id 0, exit 0, exit 1 and the tuple entry")
	})

	t.Run("no domains", func(t *testing.T) {
		module := NewModule("plain").SetNumReplicas(2)
		b := NewBuilder(module, "entry")
		p0 := b.Parameter(MS(F32, 2))
		p1 := b.Parameter(MS(F32, 2))
		ag0 := b.Collective().AllGather(p0, 0)
		ag1 := b.Collective().AllGather(p1, 0)
		entry := b.BuildEntry(b.Tuple(ag0, ag1))
		m := NewDomainMap(entry, ShardingDomainKind)
		assert.Equal(t, 1, m.NumRegions())
		assert.Equal(t, 0, m.MetadataID(ag0))
		assert.True(t, m.InSameDomain(ag0, ag1))
		assert.Equal(t, ShardingDomainKind, m.Kind())
	})

	t.Run("disconnected regions without boundaries", func(t *testing.T) {
		module := NewModule("disconnected").SetNumReplicas(2)
		b := NewBuilder(module, "entry")
		p0 := b.Parameter(MS(F32, 2))
		dead := b.Collective().AllGather(b.Parameter(MS(F32, 2)), 0)
		entry := b.BuildEntry(b.Negate(p0))
		m := NewDomainMap(entry, ShardingDomainKind)
		assert.Equal(t, 2, m.NumRegions())
		assert.True(t, m.InSameDomain(p0, dead), "regions without boundaries share id 0")
	})
}
