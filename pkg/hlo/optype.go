// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

// OpType is the opcode of an Instruction.
type OpType int

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant
	OpTypeAllGather
	OpTypeAllReduce
	OpTypeGetTupleElement
	OpTypeTuple
	OpTypeDomain
	OpTypeAdd
	OpTypeMultiply
	OpTypeNegate
	OpTypeCopy
	OpTypeFusion

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

var opTypeNames = [OpTypeLast]string{
	OpTypeInvalid:         "invalid",
	OpTypeParameter:       "parameter",
	OpTypeConstant:        "constant",
	OpTypeAllGather:       "all-gather",
	OpTypeAllReduce:       "all-reduce",
	OpTypeGetTupleElement: "get-tuple-element",
	OpTypeTuple:           "tuple",
	OpTypeDomain:          "domain",
	OpTypeAdd:             "add",
	OpTypeMultiply:        "multiply",
	OpTypeNegate:          "negate",
	OpTypeCopy:            "copy",
	OpTypeFusion:          "fusion",
}

// String returns the HLO opcode name, e.g. "all-gather".
func (op OpType) String() string {
	if op < 0 || op >= OpTypeLast {
		return "unknown"
	}
	return opTypeNames[op]
}

// IsCollective returns whether the op communicates across participants.
func (op OpType) IsCollective() bool {
	return op == OpTypeAllGather || op == OpTypeAllReduce
}
