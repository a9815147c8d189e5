// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allgather

import (
	"fmt"
	"strings"

	"github.com/gomlx/agcombiner/pkg/core/dtypes"
	"github.com/gomlx/agcombiner/pkg/hlo"
)

// combineKey holds everything that must match for two all-gathers to be combined.
//
// It's comparable, so it can be used directly to compare candidates or as a map key.
type combineKey struct {
	dtype     dtypes.DType
	dimension int

	// otherDims are the output dimensions other than the gather dimension, e.g. "2,_,8" for
	// a gather on axis 1.
	otherDims string

	// replicaGroups is the fingerprint of the canonical replica groups.
	replicaGroups string

	// crossPartition is set for all-gathers with a channel id.
	crossPartition     bool
	useGlobalDeviceIDs bool

	// domainID is the metadata id of the sharding domain region of the all-gather.
	domainID int
}

// makeCombineKey returns the key of a combinable all-gather (see isCombinable).
func makeCombineKey(inst *hlo.Instruction, domains *hlo.DomainMap) combineKey {
	params := inst.AllGatherParams()
	shape := inst.Shape()
	dims := make([]string, shape.Rank())
	for axis, dim := range shape.Dimensions {
		if axis == params.Dimension {
			dims[axis] = "_"
		} else {
			dims[axis] = fmt.Sprint(dim)
		}
	}
	return combineKey{
		dtype:              shape.DType,
		dimension:          params.Dimension,
		otherDims:          strings.Join(dims, ","),
		replicaGroups:      params.ReplicaGroups.Fingerprint(),
		crossPartition:     params.HasChannelID,
		useGlobalDeviceIDs: params.UseGlobalDeviceIDs,
		domainID:           domains.MetadataID(inst),
	}
}

// String implements fmt.Stringer, for logging.
func (k combineKey) String() string {
	channel := "cross-replica"
	if k.crossPartition {
		channel = "cross-partition"
	}
	return fmt.Sprintf("{%s[%s] dim=%d, replica_groups=%s, %s, global_ids=%v, domain=%d}",
		k.dtype, k.otherDims, k.dimension, k.replicaGroups, channel, k.useGlobalDeviceIDs, k.domainID)
}
