package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/platform"
)

// local encoders; the exported fixture encoders live outside this package.

func rType(op, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return op | rd<<7 | funct3<<12 | rs1<<15 | rs2<<20 | funct7<<25
}

func iType(op, rd, funct3, rs1 uint32, imm int32) uint32 {
	return op | rd<<7 | funct3<<12 | rs1<<15 | (uint32(imm)&0xfff)<<20
}

func stepMonitor(t *testing.T) *memory.MemoryMonitor {
	program, err := memory.NewProgram(0x1000, map[uint32]uint32{0x1000: 0x13})
	require.NoError(t, err)
	return memory.NewMonitor(memory.NewImage(program), false)
}

func setRegs(m *memory.MemoryMonitor, regs map[int]uint32) {
	for idx, val := range regs {
		m.StoreRegister(idx, val)
	}
	m.Commit()
}

func TestExecuteArithmetic(t *testing.T) {
	m := stepMonitor(t)
	setRegs(m, map[int]uint32{1: 10, 2: 3})

	// add x3, x1, x2
	pc, err := executeInsn(m, 0x1000, rType(0x33, 3, 0b000, 1, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1004), pc)
	m.Commit()
	assert.Equal(t, uint32(13), m.LoadRegister(3))

	// addi x4, x1, -5
	_, err = executeInsn(m, 0x1004, iType(0x13, 4, 0b000, 1, -5))
	require.NoError(t, err)
	m.Commit()
	assert.Equal(t, uint32(5), m.LoadRegister(4))

	// sub x5, x2, x1 wraps
	_, err = executeInsn(m, 0x1008, rType(0x33, 5, 0b000, 2, 1, 0x20))
	require.NoError(t, err)
	m.Commit()
	assert.Equal(t, uint32(0xfffffff9), m.LoadRegister(5))
}

func TestExecuteBranches(t *testing.T) {
	m := stepMonitor(t)
	setRegs(m, map[int]uint32{1: 7, 2: 7, 3: 9})

	// beq x1, x2, +16 taken
	pc, err := executeInsn(m, 0x1000, 0x63|0b000<<12|1<<15|2<<20|8<<8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1010), pc)

	// beq x1, x3, +16 not taken
	pc, err = executeInsn(m, 0x1000, 0x63|0b000<<12|1<<15|3<<20|8<<8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1004), pc)
}

func TestExecuteMulDiv(t *testing.T) {
	m := stepMonitor(t)
	setRegs(m, map[int]uint32{1: 0x80000000, 2: 0xffffffff, 3: 0, 4: 6})

	// RISC-V division edge cases: no traps, fixed results.
	cases := []struct {
		name   string
		funct3 uint32
		rs1    int
		rs2    int
		want   uint32
	}{
		{"div by zero", 0b100, 4, 3, 0xffffffff},
		{"rem by zero", 0b110, 4, 3, 6},
		{"div overflow", 0b100, 1, 2, 0x80000000},
		{"rem overflow", 0b110, 1, 2, 0},
		{"mul", 0b000, 4, 4, 36},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rd := 10 + i
			_, err := executeInsn(m, 0x1000, rType(0x33, uint32(rd), tc.funct3, uint32(tc.rs1), uint32(tc.rs2), 1))
			require.NoError(t, err)
			m.Commit()
			assert.Equal(t, tc.want, m.LoadRegister(rd))
		})
	}
}

func TestExecuteLoadStoreBytes(t *testing.T) {
	m := stepMonitor(t)
	setRegs(m, map[int]uint32{1: 0x2000, 2: 0xf1})

	// sb x2, 1(x1)
	_, err := executeInsn(m, 0x1000, 0x23|0b000<<12|1<<15|2<<20|1<<7)
	require.NoError(t, err)
	m.Commit()

	// lb x3, 1(x1) sign-extends
	_, err = executeInsn(m, 0x1004, iType(0x03, 3, 0b000, 1, 1))
	require.NoError(t, err)
	m.Commit()
	assert.Equal(t, uint32(0xfffffff1), m.LoadRegister(3))

	// lbu x4, 1(x1) zero-extends
	_, err = executeInsn(m, 0x1008, iType(0x03, 4, 0b100, 1, 1))
	require.NoError(t, err)
	m.Commit()
	assert.Equal(t, uint32(0xf1), m.LoadRegister(4))
}

func TestExecuteTraps(t *testing.T) {
	m := stepMonitor(t)
	setRegs(m, map[int]uint32{1: platform.GuestMaxMem})

	// lw through a pointer outside guest memory
	_, err := executeInsn(m, 0x1000, iType(0x03, 3, 0b010, 1, 0))
	assert.ErrorIs(t, err, memory.ErrAddressFault)

	// lw through a null pointer
	_, err = executeInsn(m, 0x1000, iType(0x03, 3, 0b010, 0, 0))
	assert.ErrorIs(t, err, memory.ErrAddressFault)

	// lh misaligned
	setRegs(m, map[int]uint32{1: 0x2001})
	_, err = executeInsn(m, 0x1000, iType(0x03, 3, 0b001, 1, 0))
	assert.ErrorIs(t, err, memory.ErrAddressFault)

	// opcode with no RV32IM decoding
	_, err = executeInsn(m, 0x1000, 0xffffffff)
	assert.ErrorIs(t, err, ErrIllegalInstruction)
}

func TestDecodeClasses(t *testing.T) {
	op, err := Decode(iType(0x13, 1, 0, 0, 1), 0x1000)
	require.NoError(t, err)
	assert.Equal(t, MajorCompute, op.Major)
	assert.Equal(t, uint64(1), op.Cycles)

	op, err = Decode(rType(0x33, 1, 0, 2, 3, 1), 0x1000)
	require.NoError(t, err)
	assert.Equal(t, MajorMulDiv, op.Major)
	assert.Equal(t, uint64(2), op.Cycles)

	op, err = Decode(insnECall, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, MajorECall, op.Major)

	// EBREAK is not supported.
	_, err = Decode(0x00100073, 0x1000)
	assert.ErrorIs(t, err, ErrIllegalInstruction)
}
