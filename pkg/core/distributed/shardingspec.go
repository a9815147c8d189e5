// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"strings"

	"github.com/gomlx/agcombiner/pkg/core/shapes"
	"github.com/gomlx/agcombiner/pkg/support/sets"
	"github.com/pkg/errors"
)

// ShardingSpec (also known as PartitionSpec in JAX) defines how a logical value is sharded (partitioned)
// across a DeviceMesh. It is the payload of a tiled Sharding.
//
// The definition is per axis of the logical value, and not per axis of the mesh.
// If not all axes of the value are defined, the tail axes are considered replicated across the whole mesh.
//
// Example:
//
//	mesh, _ := NewDeviceMesh([]int{2, 2}, []string{"data", "model"})
//
//	// First axis is replicated, second is sharded across "model" devices.
//	spec, err := BuildSpec(mesh).R().S("model").Done()
type ShardingSpec struct {
	Mesh *DeviceMesh
	Axes []AxisSpec
}

// AxisSpec specifies how a value axis is sharded: the list of mesh axes names, in order.
// An empty list means the axis is replicated.
type AxisSpec []string

// ReplicatedAxis is a special AxisSpec that means the value axis is replicated.
var ReplicatedAxis = AxisSpec(nil)

// NewShardingSpec creates a new validated ShardingSpec, with one axisSpec per axis of the value
// (omitted axes are replicated).
func NewShardingSpec(mesh *DeviceMesh, axisSpec ...AxisSpec) (*ShardingSpec, error) {
	s := &ShardingSpec{mesh, axisSpec}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate the spec returning an error if something is invalid.
func (s *ShardingSpec) Validate() error {
	if s.Mesh == nil {
		return errors.New("ShardingSpec requires a DeviceMesh")
	}
	meshAxesUsed := sets.Make[string]()
	for axisIdx, axisSpec := range s.Axes {
		for _, axisName := range axisSpec {
			if _, ok := s.Mesh.nameToAxis[axisName]; !ok {
				return errors.Errorf("ShardingSpec axis #%d refers to unknown mesh axis %q", axisIdx, axisName)
			}
			if meshAxesUsed.Has(axisName) {
				return errors.Errorf("mesh axis %q used more than once in ShardingSpec", axisName)
			}
			meshAxesUsed.Insert(axisName)
		}
	}
	return nil
}

// Rank returns the number of value axes this ShardingSpec describes.
func (s *ShardingSpec) Rank() int {
	return len(s.Axes)
}

// IsReplicated returns true if the value is not sharded along any axis.
func (s *ShardingSpec) IsReplicated() bool {
	for _, meshAxes := range s.Axes {
		if len(meshAxes) > 0 {
			return false
		}
	}
	return true
}

// String returns a human-readable representation, e.g. `mesh[R, S(model)]`.
func (s *ShardingSpec) String() string {
	if s == nil {
		return "ShardingSpec<nil>"
	}
	var sb strings.Builder
	sb.WriteString(s.Mesh.Name())
	sb.WriteString("[")
	for i, axisSpec := range s.Axes {
		if i > 0 {
			sb.WriteString(", ")
		}
		if len(axisSpec) == 0 {
			sb.WriteString("R")
			continue
		}
		sb.WriteString("S(")
		sb.WriteString(strings.Join(axisSpec, ","))
		sb.WriteString(")")
	}
	sb.WriteString("]")
	return sb.String()
}

// Fingerprint identifies the spec and its mesh topology. Trailing replicated axes are ignored,
// since they are equivalent to omitted axes.
func (s *ShardingSpec) Fingerprint() string {
	if s == nil {
		return "ShardingSpec<nil>"
	}
	trimmed := &ShardingSpec{Mesh: s.Mesh, Axes: s.Axes}
	for len(trimmed.Axes) > 0 && len(trimmed.Axes[len(trimmed.Axes)-1]) == 0 {
		trimmed.Axes = trimmed.Axes[:len(trimmed.Axes)-1]
	}
	return s.Mesh.Fingerprint() + trimmed.String()
}

// Equal returns whether the two specs shard values the same way over the same mesh topology.
func (s *ShardingSpec) Equal(s2 *ShardingSpec) bool {
	if s == nil || s2 == nil {
		return s == nil && s2 == nil
	}
	return s.Fingerprint() == s2.Fingerprint()
}

// SpecBuilder is a more ergonomic way of building SharingSpec.
type SpecBuilder struct {
	spec *ShardingSpec
}

// BuildSpec is a more ergonomic way of building SharingSpec.
//
// Example:
//
//	spec, err := distributed.BuildSpec(mesh).R().S("model").Done()
func BuildSpec(mesh *DeviceMesh) *SpecBuilder {
	return &SpecBuilder{spec: &ShardingSpec{Mesh: mesh}}
}

// R adds a replicated axis to the ShardingSpec being built.
func (b *SpecBuilder) R() *SpecBuilder {
	b.spec.Axes = append(b.spec.Axes, ReplicatedAxis)
	return b
}

// S adds a sharded axis along the meshAxes to the ShardingSpec being built.
func (b *SpecBuilder) S(meshAxes ...string) *SpecBuilder {
	b.spec.Axes = append(b.spec.Axes, meshAxes)
	return b
}

// Done builds the ShardingSpec according to the builder specification.
func (b *SpecBuilder) Done() (*ShardingSpec, error) {
	if err := b.spec.Validate(); err != nil {
		return nil, err
	}
	return b.spec, nil
}

// NumDevicesShardingAxis returns the number of devices that shard the value along the given value axis.
// If the axis is replicated, it returns 1.
func (s *ShardingSpec) NumDevicesShardingAxis(axis int) int {
	if axis >= len(s.Axes) {
		return 1
	}
	size := 1
	for _, meshAxis := range s.Axes[axis] {
		size *= s.Mesh.axesSizes[s.Mesh.nameToAxis[meshAxis]]
	}
	return size
}

// ShardShape returns the shape of the value on a single device, given its logical (global) shape.
//
// If the spec is nil it returns the logical shape as is. It returns an error if the spec has more axes than
// the shape, or if a sharded dimension is not divisible by the number of devices sharding it.
func (s *ShardingSpec) ShardShape(logicalShape shapes.Shape) (shapes.Shape, error) {
	if s == nil {
		return logicalShape, nil
	}
	if len(s.Axes) > logicalShape.Rank() {
		return shapes.Invalid(), errors.Errorf("ShardingSpec %s has %d axes, but shape %s has rank %d",
			s, len(s.Axes), logicalShape, logicalShape.Rank())
	}
	shardDims := make([]int, logicalShape.Rank())
	for i, dim := range logicalShape.Dimensions {
		numShards := s.NumDevicesShardingAxis(i)
		if dim%numShards != 0 {
			return shapes.Invalid(), errors.Errorf("axis %d of shape %s (dimension %d) is not divisible by the %d devices sharding it",
				i, logicalShape, dim, numShards)
		}
		shardDims[i] = dim / numShards
	}
	return shapes.Make(logicalShape.DType, shardDims...), nil
}
