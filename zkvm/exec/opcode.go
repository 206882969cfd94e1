package exec

import "fmt"

// Major classifies an instruction for dispatch and cycle accounting.
type Major int

const (
	// MajorCompute covers every ordinary RV32I instruction.
	MajorCompute Major = iota

	// MajorMulDiv covers the M extension, which costs an extra cycle.
	MajorMulDiv

	// MajorECall covers the ECALL instruction, dispatched to the fixed
	// host handler set.
	MajorECall
)

// OpCode is a decoded instruction header: the raw word, its dispatch class
// and the base cycle cost of its class.
type OpCode struct {
	Insn   uint32
	Major  Major
	Cycles uint64
}

// rv32 opcode fields (bits 6:0).
const (
	opLoad    = 0x03
	opMiscMem = 0x0f
	opOpImm   = 0x13
	opAuipc   = 0x17
	opStore   = 0x23
	opOp      = 0x33
	opLui     = 0x37
	opBranch  = 0x63
	opJalr    = 0x67
	opJal     = 0x6f
	opSystem  = 0x73
)

// Decode classifies the instruction at pc. Unknown encodings are illegal
// instructions and surface as errors carrying the failing pc.
func Decode(insn uint32, pc uint32) (OpCode, error) {
	op := insn & 0x7f
	switch op {
	case opLoad, opMiscMem, opOpImm, opAuipc, opStore, opLui, opBranch, opJalr, opJal:
		return OpCode{Insn: insn, Major: MajorCompute, Cycles: 1}, nil
	case opOp:
		if (insn>>25)&0x7f == 1 {
			return OpCode{Insn: insn, Major: MajorMulDiv, Cycles: 2}, nil
		}
		return OpCode{Insn: insn, Major: MajorCompute, Cycles: 1}, nil
	case opSystem:
		if insn == insnECall {
			return OpCode{Insn: insn, Major: MajorECall, Cycles: 1}, nil
		}
		return OpCode{}, fmt.Errorf("system instruction 0x%08x at pc 0x%08x: %w", insn, pc, ErrIllegalInstruction)
	default:
		return OpCode{}, illegalInsn(insn, pc)
	}
}

// insnECall is the canonical ECALL encoding.
const insnECall = 0x00000073
