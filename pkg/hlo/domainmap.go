// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"strings"

	"github.com/gomlx/agcombiner/pkg/core/distributed"
	"github.com/gomlx/agcombiner/pkg/support/sets"
)

// ShardingDomainKind is the kind of the domains that separate regions with different shardings.
const ShardingDomainKind = "sharding"

// DomainMetadata describes one side of a domain boundary.
//
// Metadata are compared structurally, through their Fingerprint, never by identity.
type DomainMetadata interface {
	// Kind of the domain, e.g. ShardingDomainKind.
	Kind() string

	// Fingerprint is equal for metadata that Matches.
	Fingerprint() string

	// Matches returns whether other is structurally equal to this metadata.
	Matches(other DomainMetadata) bool

	String() string
}

// ShardingMetadata is the DomainMetadata of sharding domains.
type ShardingMetadata struct {
	sharding *distributed.Sharding
}

var _ DomainMetadata = (*ShardingMetadata)(nil)

// NewShardingMetadata creates the domain metadata for the given sharding.
func NewShardingMetadata(sharding *distributed.Sharding) *ShardingMetadata {
	return &ShardingMetadata{sharding: sharding}
}

// Sharding returns the sharding described by the metadata.
func (m *ShardingMetadata) Sharding() *distributed.Sharding { return m.sharding }

// Kind implements DomainMetadata.
func (m *ShardingMetadata) Kind() string { return ShardingDomainKind }

// Fingerprint implements DomainMetadata.
func (m *ShardingMetadata) Fingerprint() string {
	return ShardingDomainKind + ":" + m.sharding.Fingerprint()
}

// Matches implements DomainMetadata.
func (m *ShardingMetadata) Matches(other DomainMetadata) bool {
	return other != nil && other.Kind() == m.Kind() && other.Fingerprint() == m.Fingerprint()
}

// String implements DomainMetadata.
func (m *ShardingMetadata) String() string { return m.sharding.String() }

// DomainParams are the attributes of a domain instruction. A domain instruction forwards its single operand
// unchanged, and marks a boundary between regions of the graph with different metadata.
type DomainParams struct {
	Kind string

	// OperandSide is the metadata of the region that produces the operand (the "exit" in HLO text).
	OperandSide DomainMetadata

	// UserSide is the metadata of the region that uses the value of the domain (the "entry" in HLO text).
	UserSide DomainMetadata
}

// String returns the HLO text of the domain attributes.
func (p *DomainParams) String() string {
	return fmt.Sprintf("{kind=%q, entry=%s, exit=%s}", p.Kind, p.UserSide, p.OperandSide)
}

// DomainMap partitions the instructions of a computation in domain regions, and assigns each region a metadata id.
//
// A region is a connected component of the graph after removing the domain instructions of the given kind.
// The signature of a region is the set of metadata (compared by fingerprint) on its boundaries: the operand side
// of domains consuming values of the region, and the user side of domains whose values are used by the region.
// Regions with the same signature share the same metadata id. Regions without boundaries get id 0.
type DomainMap struct {
	kind       string
	regionOf   map[*Instruction]int
	regionIDs  []int
	signatures []string
}

// NewDomainMap builds the DomainMap of the computation for domains of the given kind.
func NewDomainMap(c *Computation, kind string) *DomainMap {
	m := &DomainMap{kind: kind, regionOf: make(map[*Instruction]int)}
	isBoundary := func(inst *Instruction) bool {
		return inst.opType == OpTypeDomain && inst.DomainParams().Kind == kind
	}

	// Union-find over the non-boundary instructions.
	index := make(map[*Instruction]int, len(c.instructions))
	var nodes []*Instruction
	for _, inst := range c.instructions {
		if !isBoundary(inst) {
			index[inst] = len(nodes)
			nodes = append(nodes, inst)
		}
	}
	parent := make([]int, len(nodes))
	for ii := range parent {
		parent[ii] = ii
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for ii, inst := range nodes {
		for _, operand := range inst.operands {
			if opIdx, found := index[operand]; found {
				parent[find(ii)] = find(opIdx)
			}
		}
	}

	// Collect the boundary metadata of each component.
	boundaries := make(map[int]sets.Set[string])
	addBoundary := func(inst *Instruction, metadata DomainMetadata) {
		idx, found := index[inst]
		if !found || metadata == nil {
			return
		}
		root := find(idx)
		if boundaries[root] == nil {
			boundaries[root] = sets.Make[string]()
		}
		boundaries[root].Insert(metadata.Fingerprint())
	}
	for _, inst := range c.instructions {
		if !isBoundary(inst) {
			continue
		}
		params := inst.DomainParams()
		for _, operand := range inst.operands {
			addBoundary(operand, params.OperandSide)
		}
		for _, user := range inst.users {
			addBoundary(user, params.UserSide)
		}
	}

	// Number the regions in order of first appearance, and the signatures likewise, starting from 1.
	regionOfRoot := make(map[int]int)
	signatureIDs := map[string]int{"": 0}
	m.signatures = []string{""}
	for ii, inst := range nodes {
		root := find(ii)
		region, found := regionOfRoot[root]
		if !found {
			region = len(m.regionIDs)
			regionOfRoot[root] = region
			signature := strings.Join(sets.Sorted(boundaries[root]), "|")
			id, known := signatureIDs[signature]
			if !known {
				id = len(m.signatures)
				signatureIDs[signature] = id
				m.signatures = append(m.signatures, signature)
			}
			m.regionIDs = append(m.regionIDs, id)
		}
		m.regionOf[inst] = region
	}
	return m
}

// Kind of domains used to build this map.
func (m *DomainMap) Kind() string { return m.kind }

// NumRegions returns the number of regions.
func (m *DomainMap) NumRegions() int { return len(m.regionIDs) }

// NumMetadataIDs returns the number of distinct metadata ids, including id 0 (no boundaries).
func (m *DomainMap) NumMetadataIDs() int { return len(m.signatures) }

// RegionOf returns the region of the instruction, or -1 for domain instructions and unknown instructions.
func (m *DomainMap) RegionOf(inst *Instruction) int {
	region, found := m.regionOf[inst]
	if !found {
		return -1
	}
	return region
}

// MetadataID returns the metadata id of the region of the instruction, or -1 for domain instructions and unknown
// instructions.
func (m *DomainMap) MetadataID(inst *Instruction) int {
	region := m.RegionOf(inst)
	if region < 0 {
		return -1
	}
	return m.regionIDs[region]
}

// InSameDomain returns whether both instructions are in regions with the same metadata.
func (m *DomainMap) InSameDomain(a, b *Instruction) bool {
	idA := m.MetadataID(a)
	return idA >= 0 && idA == m.MetadataID(b)
}
