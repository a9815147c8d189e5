// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed describes how values and collective operations are laid out across devices:
// DeviceMesh (the logical topology), ReplicaGroups (who talks to whom in a collective),
// ShardingSpec and Sharding (where each value lives).
package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/agcombiner/pkg/support/sets"
	"github.com/pkg/errors"
)

// DeviceMesh defines the logical topology of a set of devices.
//
// It is used to derive the ReplicaGroups of collective operations (see ComputeReplicaGroups)
// and to describe tiled shardings (see ShardingSpec).
type DeviceMesh struct {
	name string

	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of devices along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	// numDevices is the total number of devices in the mesh.
	numDevices int

	// logicalDeviceAssignment maps the position of a device in the mesh (in row-major order) to the
	// participant id used in replica groups. If nil, it's the identity.
	logicalDeviceAssignment []int
}

// DefaultMeshName is the name given to meshes created with NewDeviceMesh.
const DefaultMeshName = "mesh"

// IsNameValid checks whether a name is a valid identifier for a mesh name or axis name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewDeviceMesh creates a new logical topology of a set of devices.
//
//   - axesSizes: defines the number of devices along each mesh axis, one value per axis. They must be positive.
//   - axesNames: the names of the mesh axes. One value per axis, they must be valid identifiers (see IsNameValid).
//
// Example:
//
//	mesh, err := distributed.NewDeviceMesh([]int{2, 2}, []string{"batch", "data"})
func NewDeviceMesh(axesSizes []int, axesNames []string) (*DeviceMesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, errors.Errorf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, errors.New("DeviceMesh axesSizes cannot be empty")
	}

	numDevices := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if !IsNameValid(name) {
			return nil, errors.Errorf(
				"DeviceMesh axis name %q at index %d is not a valid identifier, it must start with a ASCII letter "+
					"and be followed only by letters, numbers or underscore", name, i)
		}
		if _, found := nameToAxis[name]; found {
			return nil, errors.Errorf("DeviceMesh axis name %q is duplicated", name)
		}
		if axesSizes[i] <= 0 {
			return nil, errors.Errorf("DeviceMesh axis %q has invalid size %d, it must be positive", name, axesSizes[i])
		}
		nameToAxis[name] = i
		numDevices *= axesSizes[i]
	}

	return &DeviceMesh{
		name:       DefaultMeshName,
		axesNames:  slices.Clone(axesNames),
		axesSizes:  slices.Clone(axesSizes),
		nameToAxis: nameToAxis,
		numDevices: numDevices,
	}, nil
}

// SetName of the mesh.
func (m *DeviceMesh) SetName(name string) {
	m.name = name
}

// Name returns the mesh name.
func (m *DeviceMesh) Name() string {
	return m.name
}

// NumDevices returns the total number of devices in the mesh.
func (m *DeviceMesh) NumDevices() int {
	return m.numDevices
}

// Rank returns the number of axes in the mesh.
func (m *DeviceMesh) Rank() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *DeviceMesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axesSizes.
func (m *DeviceMesh) AxesSizes() []int {
	return slices.Clone(m.axesSizes)
}

// AxisSize returns the number of devices along the given mesh axis.
func (m *DeviceMesh) AxisSize(axisName string) (int, error) {
	idx, found := m.nameToAxis[axisName]
	if !found {
		return 0, errors.Errorf("mesh axis %q not found", axisName)
	}
	return m.axesSizes[idx], nil
}

// String implements the fmt.Stringer interface.
func (m *DeviceMesh) String() string {
	var sb strings.Builder
	sb.WriteString("DeviceMesh(axesSizes={")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	sb.WriteString("})")
	return sb.String()
}

// Fingerprint returns a string that identifies the mesh topology, including its name and its
// logical device assignment.
func (m *DeviceMesh) Fingerprint() string {
	if m == nil {
		return "mesh<nil>"
	}
	return fmt.Sprintf("%s%v%v@%v", m.name, m.axesNames, m.axesSizes, m.logicalDeviceAssignment)
}

// SetLogicalDeviceAssignment sets the participant ids of the devices in the mesh, in row-major mesh order.
//
// The length of devices must be equal to NumDevices(), and it should include all numbers from 0 to NumDevices()-1.
// Calling it with no devices resets it to the identity assignment.
func (m *DeviceMesh) SetLogicalDeviceAssignment(devices ...int) error {
	if len(devices) == 0 {
		m.logicalDeviceAssignment = nil
		return nil
	}
	if len(devices) != m.numDevices {
		return errors.Errorf("devices must have %d elements, got %d", m.numDevices, len(devices))
	}
	seen := sets.Make[int](m.numDevices)
	for _, device := range devices {
		if device < 0 || device >= m.numDevices {
			return errors.Errorf("devices must be between 0 and %d (NumDevices()-1), got device %d",
				m.numDevices-1, device)
		}
		if seen.Has(device) {
			return errors.Errorf("device #%d is duplicated in mapping", device)
		}
		seen.Insert(device)
	}
	m.logicalDeviceAssignment = slices.Clone(devices)
	return nil
}

// LogicalDeviceAssignment returns the participant ids of the devices in the mesh, in row-major mesh order.
//
// It returns nil if no assignment was set with SetLogicalDeviceAssignment, meaning the identity.
func (m *DeviceMesh) LogicalDeviceAssignment() []int {
	if m.logicalDeviceAssignment == nil {
		return nil
	}
	return slices.Clone(m.logicalDeviceAssignment)
}

// ComputeReplicaGroups returns the replica groups of a collective operation performed along the given mesh axes.
//
// Each replica group holds the participant ids (after the logical device assignment) of the devices that
// differ only on the given axes, in the order of the given axes. The other axes are split into different groups.
//
// Example:
//
//	m, _ := NewDeviceMesh([]int{2, 2}, []string{"batch", "data"})
//	batchGroups, _ := m.ComputeReplicaGroups("batch")          // -> {{0, 2}, {1, 3}}
//	dataGroups, _ := m.ComputeReplicaGroups("data")            // -> {{0, 1}, {2, 3}}
//	globalGroups, _ := m.ComputeReplicaGroups("batch", "data") // -> {{0, 1, 2, 3}}
func (m *DeviceMesh) ComputeReplicaGroups(axes ...string) (ReplicaGroups, error) {
	if len(axes) == 0 {
		return nil, errors.New("ComputeReplicaGroups requires at least one mesh axis")
	}
	axisIndices := make([]int, 0, len(axes))
	axisSet := sets.Make[int](len(axes))
	for _, axis := range axes {
		idx, found := m.nameToAxis[axis]
		if !found {
			return nil, errors.Errorf("axis %q not found in mesh %s", axis, m)
		}
		if axisSet.Has(idx) {
			return nil, errors.Errorf("axis %q is duplicated: each axis can only appear once", axis)
		}
		axisIndices = append(axisIndices, idx)
		axisSet.Insert(idx)
	}
	nonAxisIndices := make([]int, 0, len(m.axesSizes)-len(axisIndices))
	for i := range m.axesSizes {
		if !axisSet.Has(i) {
			nonAxisIndices = append(nonAxisIndices, i)
		}
	}

	groupSize := 1
	for _, idx := range axisIndices {
		groupSize *= m.axesSizes[idx]
	}
	groups := make(ReplicaGroups, m.numDevices/groupSize)
	for i := range groups {
		groups[i] = make([]int, groupSize)
	}

	indices := make([]int, len(m.axesSizes))
	for flatIdx := range m.numDevices {
		remaining := flatIdx
		for i := len(m.axesSizes) - 1; i >= 0; i-- {
			indices[i] = remaining % m.axesSizes[i]
			remaining /= m.axesSizes[i]
		}
		groupIdx := flatIndexOf(indices, nonAxisIndices, m.axesSizes)
		posInGroup := flatIndexOf(indices, axisIndices, m.axesSizes)
		participant := flatIdx
		if m.logicalDeviceAssignment != nil {
			participant = m.logicalDeviceAssignment[flatIdx]
		}
		groups[groupIdx][posInGroup] = participant
	}
	return groups, nil
}

// flatIndexOf returns the row-major flat index of indices restricted to the selected axes (in the order given).
func flatIndexOf(indices, selectedAxes, axesSizes []int) int {
	flat, multiplier := 0, 1
	for i := len(selectedAxes) - 1; i >= 0; i-- {
		axisIdx := selectedAxes[i]
		flat += indices[axisIdx] * multiplier
		multiplier *= axesSizes[axisIdx]
	}
	return flat
}
