// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ShardingType enumerates the kinds of Sharding.
type ShardingType int

const (
	// ShardingReplicated means the value is replicated on every device.
	ShardingReplicated ShardingType = iota

	// ShardingMaximal means the value lives in one single device.
	ShardingMaximal

	// ShardingTiled means the value is sharded across a DeviceMesh, according to a ShardingSpec.
	ShardingTiled

	// ShardingTuple is the sharding of a tuple value: one Sharding per element.
	ShardingTuple
)

// Sharding is the metadata attached to an instruction describing where its value lives.
//
// Shardings are compared structurally (see Equal and Fingerprint), never by pointer identity.
// A nil *Sharding means "no sharding information", and it is valid in all methods.
type Sharding struct {
	Type ShardingType

	// Device is only used by ShardingMaximal.
	Device int

	// Spec is only used by ShardingTiled.
	Spec *ShardingSpec

	// Elements is only used by ShardingTuple.
	Elements []*Sharding
}

// Replicated returns a replicated sharding.
func Replicated() *Sharding {
	return &Sharding{Type: ShardingReplicated}
}

// Maximal returns the sharding for a value placed entirely on the given device.
func Maximal(device int) *Sharding {
	return &Sharding{Type: ShardingMaximal, Device: device}
}

// Tiled returns the sharding of a value sharded across a mesh, as described by spec.
func Tiled(spec *ShardingSpec) *Sharding {
	return &Sharding{Type: ShardingTiled, Spec: spec}
}

// TupleSharding returns the sharding of a tuple whose elements have the given shardings.
// nil elements are taken as Replicated.
func TupleSharding(elements ...*Sharding) *Sharding {
	s := &Sharding{Type: ShardingTuple, Elements: make([]*Sharding, len(elements))}
	for i, element := range elements {
		if element == nil {
			element = Replicated()
		}
		s.Elements[i] = element
	}
	return s
}

// CombineShardings returns the tuple sharding for a value that combines values with the given
// shardings, one per tuple element.
//
// If none of the shardings is set it returns nil, and missing shardings are replaced by Replicated.
func CombineShardings(shardings []*Sharding) *Sharding {
	hasSharding := false
	for _, s := range shardings {
		if s != nil {
			hasSharding = true
			break
		}
	}
	if !hasSharding {
		return nil
	}
	return TupleSharding(shardings...)
}

// IsTuple returns whether s is a tuple sharding.
func (s *Sharding) IsTuple() bool {
	return s != nil && s.Type == ShardingTuple
}

// TupleElement returns the sharding of the i-th element of a tuple sharding.
// For non-tuple shardings it returns s itself, since it applies to all elements.
func (s *Sharding) TupleElement(i int) *Sharding {
	if !s.IsTuple() {
		return s
	}
	if i < 0 || i >= len(s.Elements) {
		return nil
	}
	return s.Elements[i]
}

// Validate returns an error if the sharding is malformed.
func (s *Sharding) Validate() error {
	if s == nil {
		return nil
	}
	switch s.Type {
	case ShardingReplicated:
		return nil
	case ShardingMaximal:
		if s.Device < 0 {
			return errors.Errorf("maximal sharding with negative device %d", s.Device)
		}
		return nil
	case ShardingTiled:
		if s.Spec == nil {
			return errors.New("tiled sharding requires a ShardingSpec")
		}
		return s.Spec.Validate()
	case ShardingTuple:
		for i, element := range s.Elements {
			if element == nil {
				return errors.Errorf("tuple sharding element #%d is nil", i)
			}
			if err := element.Validate(); err != nil {
				return errors.WithMessagef(err, "tuple sharding element #%d", i)
			}
		}
		return nil
	default:
		return errors.Errorf("unknown sharding type %d", s.Type)
	}
}

// Equal returns whether s and s2 are structurally the same sharding. Two nil shardings are equal.
func (s *Sharding) Equal(s2 *Sharding) bool {
	if s == nil || s2 == nil {
		return s == nil && s2 == nil
	}
	return s.Fingerprint() == s2.Fingerprint()
}

// Fingerprint returns a string that is the same for structurally equal shardings, and can be used
// as a map key to de-duplicate shardings.
//
// Differently from String, it includes the full mesh topology of tiled shardings.
func (s *Sharding) Fingerprint() string {
	if s == nil {
		return "{}"
	}
	switch s.Type {
	case ShardingTiled:
		return fmt.Sprintf("{tiled %s}", s.Spec.Fingerprint())
	case ShardingTuple:
		parts := make([]string, len(s.Elements))
		for i, element := range s.Elements {
			parts[i] = element.Fingerprint()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return s.String()
	}
}

// String implements fmt.Stringer, using the HLO notation, e.g. `{maximal device=0}` or
// `{{maximal device=0}, {replicated}}`.
func (s *Sharding) String() string {
	if s == nil {
		return "{}"
	}
	switch s.Type {
	case ShardingReplicated:
		return "{replicated}"
	case ShardingMaximal:
		return fmt.Sprintf("{maximal device=%d}", s.Device)
	case ShardingTiled:
		return fmt.Sprintf("{tiled %s}", s.Spec)
	case ShardingTuple:
		parts := make([]string, len(s.Elements))
		for i, element := range s.Elements {
			parts[i] = element.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("{unknown sharding type %d}", s.Type)
	}
}
