package exec

import (
	"errors"
	"fmt"

	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/platform"
)

// ErrIllegalInstruction indicates the guest executed an instruction with no
// valid RV32IM decoding. Like an address fault, this is a guest-attributable
// trap rather than a host failure.
var ErrIllegalInstruction = errors.New("illegal instruction")

// executeInsn executes one non-ecall RV32IM instruction against the monitor
// and returns the next pc. Any trap (illegal encoding, misaligned or
// unmapped access) is returned as an error; the caller decides whether to
// undo and fault or to abort the run.
func executeInsn(m *memory.MemoryMonitor, pc uint32, insn uint32) (uint32, error) {
	op := insn & 0x7f
	rd := int((insn >> 7) & 0x1f)
	funct3 := (insn >> 12) & 0x7
	rs1 := int((insn >> 15) & 0x1f)
	rs2 := int((insn >> 20) & 0x1f)
	funct7 := (insn >> 25) & 0x7f

	switch op {
	case opLui:
		m.StoreRegister(rd, insn&0xfffff000)
		return pc + 4, nil

	case opAuipc:
		m.StoreRegister(rd, pc+(insn&0xfffff000))
		return pc + 4, nil

	case opJal:
		m.StoreRegister(rd, pc+4)
		return pc + immJ(insn), nil

	case opJalr:
		if funct3 != 0 {
			return 0, illegalInsn(insn, pc)
		}
		target := (m.LoadRegister(rs1) + immI(insn)) &^ 1
		m.StoreRegister(rd, pc+4)
		return target, nil

	case opBranch:
		a, b := m.LoadRegister(rs1), m.LoadRegister(rs2)
		var taken bool
		switch funct3 {
		case 0b000:
			taken = a == b
		case 0b001:
			taken = a != b
		case 0b100:
			taken = int32(a) < int32(b)
		case 0b101:
			taken = int32(a) >= int32(b)
		case 0b110:
			taken = a < b
		case 0b111:
			taken = a >= b
		default:
			return 0, illegalInsn(insn, pc)
		}
		if taken {
			return pc + immB(insn), nil
		}
		return pc + 4, nil

	case opLoad:
		addr := m.LoadRegister(rs1) + immI(insn)
		val, err := loadSized(m, addr, funct3)
		if err != nil {
			return 0, err
		}
		m.StoreRegister(rd, val)
		return pc + 4, nil

	case opStore:
		addr := m.LoadRegister(rs1) + immS(insn)
		if err := storeSized(m, addr, funct3, m.LoadRegister(rs2)); err != nil {
			return 0, err
		}
		return pc + 4, nil

	case opOpImm:
		a := m.LoadRegister(rs1)
		imm := immI(insn)
		var out uint32
		switch funct3 {
		case 0b000:
			out = a + imm
		case 0b010:
			out = boolToWord(int32(a) < int32(imm))
		case 0b011:
			out = boolToWord(a < imm)
		case 0b100:
			out = a ^ imm
		case 0b110:
			out = a | imm
		case 0b111:
			out = a & imm
		case 0b001:
			if funct7 != 0 {
				return 0, illegalInsn(insn, pc)
			}
			out = a << (imm & 0x1f)
		case 0b101:
			switch funct7 {
			case 0x00:
				out = a >> (imm & 0x1f)
			case 0x20:
				out = uint32(int32(a) >> (imm & 0x1f))
			default:
				return 0, illegalInsn(insn, pc)
			}
		default:
			return 0, illegalInsn(insn, pc)
		}
		m.StoreRegister(rd, out)
		return pc + 4, nil

	case opOp:
		a, b := m.LoadRegister(rs1), m.LoadRegister(rs2)
		var out uint32
		switch {
		case funct7 == 0x01:
			var err error
			out, err = mulDiv(a, b, funct3)
			if err != nil {
				return 0, illegalInsn(insn, pc)
			}
		case funct7 == 0x00 || funct7 == 0x20:
			switch funct3 {
			case 0b000:
				if funct7 == 0x20 {
					out = a - b
				} else {
					out = a + b
				}
			case 0b001:
				out = a << (b & 0x1f)
			case 0b010:
				out = boolToWord(int32(a) < int32(b))
			case 0b011:
				out = boolToWord(a < b)
			case 0b100:
				out = a ^ b
			case 0b101:
				if funct7 == 0x20 {
					out = uint32(int32(a) >> (b & 0x1f))
				} else {
					out = a >> (b & 0x1f)
				}
			case 0b110:
				out = a | b
			case 0b111:
				out = a & b
			default:
				return 0, illegalInsn(insn, pc)
			}
		default:
			return 0, illegalInsn(insn, pc)
		}
		m.StoreRegister(rd, out)
		return pc + 4, nil

	case opMiscMem:
		// FENCE is a no-op in a single-hart machine.
		return pc + 4, nil

	default:
		return 0, illegalInsn(insn, pc)
	}
}

func illegalInsn(insn, pc uint32) error {
	return fmt.Errorf("0x%08x at pc 0x%08x: %w", insn, pc, ErrIllegalInstruction)
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func mulDiv(a, b uint32, funct3 uint32) (uint32, error) {
	switch funct3 {
	case 0b000: // MUL
		return a * b, nil
	case 0b001: // MULH
		return uint32(uint64(int64(int32(a))*int64(int32(b))) >> 32), nil
	case 0b010: // MULHSU
		return uint32(uint64(int64(int32(a))*int64(b)) >> 32), nil
	case 0b011: // MULHU
		return uint32((uint64(a) * uint64(b)) >> 32), nil
	case 0b100: // DIV
		if b == 0 {
			return 0xffffffff, nil
		}
		if int32(a) == -1<<31 && int32(b) == -1 {
			return a, nil
		}
		return uint32(int32(a) / int32(b)), nil
	case 0b101: // DIVU
		if b == 0 {
			return 0xffffffff, nil
		}
		return a / b, nil
	case 0b110: // REM
		if b == 0 {
			return a, nil
		}
		if int32(a) == -1<<31 && int32(b) == -1 {
			return 0, nil
		}
		return uint32(int32(a) % int32(b)), nil
	case 0b111: // REMU
		if b == 0 {
			return a, nil
		}
		return a % b, nil
	default:
		return 0, fmt.Errorf("invalid muldiv funct3 %d", funct3)
	}
}

// checkGuestAddr rejects data accesses outside guest-addressable memory.
// Instruction operands may never reach the system region.
func checkGuestAddr(addr uint32) error {
	if !platform.IsGuestAddr(addr) {
		return fmt.Errorf("data access at 0x%08x outside guest memory: %w", addr, memory.ErrAddressFault)
	}
	return nil
}

func loadSized(m *memory.MemoryMonitor, addr uint32, funct3 uint32) (uint32, error) {
	if err := checkGuestAddr(addr); err != nil {
		return 0, err
	}
	switch funct3 {
	case 0b000, 0b100: // LB, LBU
		word, err := m.LoadU32(addr &^ 3)
		if err != nil {
			return 0, err
		}
		b := byte(word >> (8 * (addr % 4)))
		if funct3 == 0b000 {
			return uint32(int32(int8(b))), nil
		}
		return uint32(b), nil

	case 0b001, 0b101: // LH, LHU
		if addr%2 != 0 {
			return 0, fmt.Errorf("misaligned halfword load at 0x%08x: %w", addr, memory.ErrAddressFault)
		}
		word, err := m.LoadU32(addr &^ 3)
		if err != nil {
			return 0, err
		}
		h := uint16(word >> (8 * (addr % 4)))
		if funct3 == 0b001 {
			return uint32(int32(int16(h))), nil
		}
		return uint32(h), nil

	case 0b010: // LW
		return m.LoadU32(addr)

	default:
		return 0, fmt.Errorf("invalid load width %d at 0x%08x: %w", funct3, addr, memory.ErrAddressFault)
	}
}

func storeSized(m *memory.MemoryMonitor, addr uint32, funct3 uint32, val uint32) error {
	if err := checkGuestAddr(addr); err != nil {
		return err
	}
	switch funct3 {
	case 0b000: // SB
		word, err := m.LoadU32(addr &^ 3)
		if err != nil {
			return err
		}
		shift := 8 * (addr % 4)
		word = (word &^ (0xff << shift)) | (val&0xff)<<shift
		return m.StoreU32(addr&^3, word)

	case 0b001: // SH
		if addr%2 != 0 {
			return fmt.Errorf("misaligned halfword store at 0x%08x: %w", addr, memory.ErrAddressFault)
		}
		word, err := m.LoadU32(addr &^ 3)
		if err != nil {
			return err
		}
		shift := 8 * (addr % 4)
		word = (word &^ (0xffff << shift)) | (val&0xffff)<<shift
		return m.StoreU32(addr&^3, word)

	case 0b010: // SW
		return m.StoreU32(addr, val)

	default:
		return fmt.Errorf("invalid store width %d at 0x%08x: %w", funct3, addr, memory.ErrAddressFault)
	}
}

// Immediate extraction for the five RV32 instruction formats.

func immI(insn uint32) uint32 {
	return uint32(int32(insn) >> 20)
}

func immS(insn uint32) uint32 {
	return uint32(int32(insn&0xfe000000)>>20) | (insn >> 7 & 0x1f)
}

func immB(insn uint32) uint32 {
	return uint32(int32(insn&0x80000000)>>19) |
		(insn << 4 & 0x800) |
		(insn >> 20 & 0x7e0) |
		(insn >> 7 & 0x1e)
}

func immJ(insn uint32) uint32 {
	return uint32(int32(insn&0x80000000)>>11) |
		(insn & 0xff000) |
		(insn >> 9 & 0x800) |
		(insn >> 20 & 0x7fe)
}
