// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package allgather implements the all-gather combiner: a compiler pass that merges independent all-gathers of a
// computation into multi-operand all-gathers, to amortize the fixed cost of each collective.
//
// All-gathers are combined when they agree on the element type, the gather dimension, the output dimensions
// other than the gather dimension, the replica groups, the kind of collective (cross-replica or cross-partition)
// and the sharding domain they are in. A combined all-gather outputs a tuple, and each original all-gather is
// replaced by a get-tuple-element of it.
//
// Example:
//
//	combiner, err := allgather.New(1<<20, 256)
//	if err != nil { ... }
//	changed, err := combiner.Run(module)
package allgather

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/agcombiner/pkg/hlo"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Name of the pass.
const Name = "all-gather-combiner"

// Combiner is the all-gather combiner pass. Create it with New, NewWithConfig or NewFromEnv.
type Combiner struct {
	config Config
}

// New creates a Combiner that combines all-gathers up to sizeThreshold bytes of output and countThreshold
// all-gathers per combined all-gather. Both thresholds must be positive.
func New(sizeThreshold int64, countThreshold int) (*Combiner, error) {
	return NewWithConfig(Config{SizeThreshold: sizeThreshold, CountThreshold: countThreshold})
}

// NewWithConfig creates a Combiner with the given configuration.
func NewWithConfig(config Config) (*Combiner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Combiner{config: config}, nil
}

// Name returns the name of the pass.
func (c *Combiner) Name() string { return Name }

// Config returns the configuration of the pass.
func (c *Combiner) Config() Config { return c.config }

// Run combines the all-gathers of every non-fusion computation of the module, and returns whether anything changed.
//
// An error means the module is malformed, or an internal invariant was broken: the group being rewritten when
// that happens is left untouched, but groups rewritten before it are kept.
func (c *Combiner) Run(module *hlo.Module) (changed bool, err error) {
	klog.V(1).Infof("%s: module %q (%s), %s", c.Name(), module.Name(), module.ID(), c.config)
	for _, comp := range module.MakeNonFusionComputations() {
		var (
			compChanged bool
			compErr     error
		)
		if exception := exceptions.TryCatch[error](func() {
			compChanged, compErr = c.runOnComputation(comp)
		}); exception != nil {
			compErr = exception
		}
		if compErr != nil {
			return changed || compChanged, errors.WithMessagef(compErr, "%s: computation %q of module %q",
				c.Name(), comp.Name(), module.Name())
		}
		changed = changed || compChanged
	}
	return changed, nil
}

// runOnComputation combines the all-gathers of one computation.
func (c *Combiner) runOnComputation(comp *hlo.Computation) (changed bool, err error) {
	g := newGrouper(c.config, comp)
	numCandidates := g.numCandidates()
	if numCandidates < 2 {
		return false, nil
	}
	if klog.V(3).Enabled() {
		klog.Infof("%s: computation %q before:\n%s", c.Name(), comp.Name(), comp)
	}
	var numGroups, numCombined int
	for group := g.nextGroup(); group != nil; group = g.nextGroup() {
		var groupBytes int64
		for _, member := range group {
			groupBytes += member.Shape().ByteSize()
		}
		combined, gtes, err := combineGroup(comp, group)
		if err != nil {
			return changed, err
		}
		klog.V(1).Infof("%s: combined %d all-gathers (%s) into %s", c.Name(), len(group),
			humanize.IBytes(uint64(groupBytes)), combined.Name())
		changed = true
		numGroups++
		numCombined += len(group)
		g.update(group, combined, gtes)
	}
	klog.V(1).Infof("%s: computation %q: %d candidates, %d combined into %d all-gathers",
		c.Name(), comp.Name(), numCandidates, numCombined, numGroups)
	if changed && klog.V(3).Enabled() {
		klog.Infof("%s: computation %q after:\n%s", c.Name(), comp.Name(), comp)
	}
	return changed, nil
}
