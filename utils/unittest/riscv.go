package unittest

import (
	"encoding/binary"

	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/platform"
)

// Instruction encoders for the five RV32 formats, used to assemble small
// guest programs in tests.

func encodeR(op, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return op | rd<<7 | funct3<<12 | rs1<<15 | rs2<<20 | funct7<<25
}

func encodeI(op, rd, funct3, rs1 uint32, imm int32) uint32 {
	return op | rd<<7 | funct3<<12 | rs1<<15 | (uint32(imm)&0xfff)<<20
}

func encodeS(op, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return op | (u&0x1f)<<7 | funct3<<12 | rs1<<15 | rs2<<20 | (u>>5&0x7f)<<25
}

func encodeB(op, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return op | (u>>11&0x1)<<7 | (u>>1&0xf)<<8 | funct3<<12 | rs1<<15 | rs2<<20 |
		(u>>5&0x3f)<<25 | (u>>12&0x1)<<31
}

func encodeU(op, rd, imm uint32) uint32 {
	return op | rd<<7 | imm&0xfffff000
}

func encodeJ(op, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return op | rd<<7 | (u>>12&0xff)<<12 | (u>>11&0x1)<<20 | (u>>1&0x3ff)<<21 | (u>>20&0x1)<<31
}

// InsnAddi encodes ADDI rd, rs1, imm.
func InsnAddi(rd, rs1 uint32, imm int32) uint32 {
	return encodeI(0x13, rd, 0b000, rs1, imm)
}

// InsnLui encodes LUI rd, imm (imm supplies bits 31:12).
func InsnLui(rd, imm uint32) uint32 {
	return encodeU(0x37, rd, imm)
}

// InsnAdd encodes ADD rd, rs1, rs2.
func InsnAdd(rd, rs1, rs2 uint32) uint32 {
	return encodeR(0x33, rd, 0b000, rs1, rs2, 0)
}

// InsnMul encodes MUL rd, rs1, rs2.
func InsnMul(rd, rs1, rs2 uint32) uint32 {
	return encodeR(0x33, rd, 0b000, rs1, rs2, 1)
}

// InsnLw encodes LW rd, imm(rs1).
func InsnLw(rd, rs1 uint32, imm int32) uint32 {
	return encodeI(0x03, rd, 0b010, rs1, imm)
}

// InsnSw encodes SW rs2, imm(rs1).
func InsnSw(rs1, rs2 uint32, imm int32) uint32 {
	return encodeS(0x23, 0b010, rs1, rs2, imm)
}

// InsnBne encodes BNE rs1, rs2, offset.
func InsnBne(rs1, rs2 uint32, offset int32) uint32 {
	return encodeB(0x63, 0b001, rs1, rs2, offset)
}

// InsnJal encodes JAL rd, offset.
func InsnJal(rd uint32, offset int32) uint32 {
	return encodeJ(0x6f, rd, offset)
}

// InsnEcall encodes ECALL.
func InsnEcall() uint32 {
	return 0x00000073
}

// guest program layout used by the fixtures below.
const (
	guestCodeStart = 0x00001000
	guestDataStart = 0x00004000
)

// GuestBuilder assembles a guest program: instructions from a fixed code
// base, data placed from a fixed data base.
type GuestBuilder struct {
	words      map[uint32]uint32
	codeCursor uint32
	dataCursor uint32
}

func NewGuestBuilder() *GuestBuilder {
	return &GuestBuilder{
		words:      make(map[uint32]uint32),
		codeCursor: guestCodeStart,
		dataCursor: guestDataStart,
	}
}

// Emit appends instructions to the code stream.
func (g *GuestBuilder) Emit(insns ...uint32) {
	for _, insn := range insns {
		g.words[g.codeCursor] = insn
		g.codeCursor += platform.WordSize
	}
}

// EmitLoadImm emits a two-instruction LUI+ADDI sequence loading an
// arbitrary 32-bit value, so fixture cycle counts stay uniform.
func (g *GuestBuilder) EmitLoadImm(rd uint32, val uint32) {
	upper := (val + 0x800) & 0xfffff000
	lower := int32(val) - int32(upper)
	g.Emit(InsnLui(rd, upper), InsnAddi(rd, rd, lower))
}

// Data places bytes in the data region and returns their address.
func (g *GuestBuilder) Data(data []byte) uint32 {
	addr := g.dataCursor
	for len(data)%platform.WordSize != 0 {
		data = append(data, 0)
	}
	for i := 0; i < len(data); i += platform.WordSize {
		g.words[g.dataCursor] = binary.LittleEndian.Uint32(data[i:])
		g.dataCursor += platform.WordSize
	}
	// Keep a zero-word gap between placements.
	g.dataCursor += platform.WordSize
	return addr
}

// DataWords places words in the data region and returns their address.
func (g *GuestBuilder) DataWords(words []uint32) uint32 {
	buf := make([]byte, len(words)*platform.WordSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*platform.WordSize:], w)
	}
	return g.Data(buf)
}

// Build finalizes the program with entry at the start of the code stream.
func (g *GuestBuilder) Build() *memory.Program {
	program, err := memory.NewProgram(guestCodeStart, g.words)
	if err != nil {
		panic(err) // fixture addresses are always valid
	}
	return program
}

// EmitHalt emits the terminate sequence with the given user exit code. The
// halt ecall requires a readable 32-byte digest region in a1, so one is
// placed in the data section.
func (g *GuestBuilder) EmitHalt(userExit uint32) {
	digestPtr := g.Data(make([]byte, platform.DigestBytes))
	g.Emit(
		InsnAddi(platform.RegT0, platform.RegZero, platform.EcallHalt),
		InsnAddi(platform.RegA0, platform.RegZero, int32(userExit<<8|platform.HaltTerminate)),
	)
	g.EmitLoadImm(platform.RegA1, digestPtr)
	g.Emit(InsnEcall())
}

// ImmediateHaltProgram terminates right away with the given user exit code.
func ImmediateHaltProgram(userExit uint32) *memory.Program {
	g := NewGuestBuilder()
	g.EmitHalt(userExit)
	return g.Build()
}

// PauseProgram pauses once, then terminates cleanly when resumed.
func PauseProgram() *memory.Program {
	g := NewGuestBuilder()
	digestPtr := g.Data(make([]byte, platform.DigestBytes))
	g.Emit(
		InsnAddi(platform.RegT0, platform.RegZero, platform.EcallHalt),
		InsnAddi(platform.RegA0, platform.RegZero, platform.HaltPause),
	)
	g.EmitLoadImm(platform.RegA1, digestPtr)
	g.Emit(InsnEcall())
	g.EmitHalt(0)
	return g.Build()
}

// BusyLoopProgram decrements a counter from iterations to zero, two
// instructions per iteration, then terminates cleanly.
func BusyLoopProgram(iterations uint32) *memory.Program {
	g := NewGuestBuilder()
	g.EmitLoadImm(platform.RegT1, iterations)
	g.Emit(
		InsnAddi(platform.RegT1, platform.RegT1, -1),
		InsnBne(platform.RegT1, platform.RegZero, -4),
	)
	g.EmitHalt(0)
	return g.Build()
}

// JournalProgram commits the given bytes to the journal descriptor through
// sys_write, then terminates cleanly.
func JournalProgram(journal []byte) *memory.Program {
	g := NewGuestBuilder()
	namePtr := g.Data([]byte(platform.SysWrite + "\x00"))
	dataPtr := g.Data(journal)
	g.Emit(
		InsnAddi(platform.RegT0, platform.RegZero, platform.EcallSoftware),
		InsnAddi(platform.RegA0, platform.RegZero, 0),
		InsnAddi(platform.RegA1, platform.RegZero, 0),
	)
	g.EmitLoadImm(platform.RegA2, namePtr)
	g.Emit(InsnAddi(platform.RegA3, platform.RegZero, platform.FdJournal))
	g.EmitLoadImm(platform.RegA4, dataPtr)
	g.EmitLoadImm(platform.RegA5, uint32(len(journal)))
	g.Emit(InsnEcall())
	g.EmitHalt(0)
	return g.Build()
}

// FaultProgram loads through a null pointer, which always traps.
func FaultProgram() *memory.Program {
	g := NewGuestBuilder()
	g.Emit(InsnLw(platform.RegT1, platform.RegZero, 0))
	g.EmitHalt(0)
	return g.Build()
}

// ShaProgram compresses the given pre-padded blocks from the standard
// initial state and commits the resulting state words to the journal.
func ShaProgram(blocks []byte) *memory.Program {
	if len(blocks)%platform.ShaBlockBytes != 0 {
		panic("sha fixture blocks must be a multiple of 64 bytes")
	}
	g := NewGuestBuilder()
	statePtr := g.DataWords([]uint32{
		0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
		0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
	})
	outPtr := g.Data(make([]byte, platform.DigestBytes))
	blockPtr := g.Data(blocks)
	namePtr := g.Data([]byte(platform.SysWrite + "\x00"))

	g.Emit(InsnAddi(platform.RegT0, platform.RegZero, platform.EcallSha))
	g.EmitLoadImm(platform.RegA0, outPtr)
	g.EmitLoadImm(platform.RegA1, statePtr)
	g.EmitLoadImm(platform.RegA2, blockPtr)
	g.Emit(
		InsnAddi(platform.RegA3, platform.RegZero, int32(len(blocks)/platform.ShaBlockBytes)),
		InsnEcall(),
	)

	g.Emit(
		InsnAddi(platform.RegT0, platform.RegZero, platform.EcallSoftware),
		InsnAddi(platform.RegA0, platform.RegZero, 0),
		InsnAddi(platform.RegA1, platform.RegZero, 0),
	)
	g.EmitLoadImm(platform.RegA2, namePtr)
	g.Emit(InsnAddi(platform.RegA3, platform.RegZero, platform.FdJournal))
	g.EmitLoadImm(platform.RegA4, outPtr)
	g.Emit(
		InsnAddi(platform.RegA5, platform.RegZero, platform.DigestBytes),
		InsnEcall(),
	)
	g.EmitHalt(0)
	return g.Build()
}

// InputDigestProgram touches the input digest region through the input
// ecall and terminates cleanly. It returns the program together with the
// guest address of the region.
func InputDigestProgram() (*memory.Program, uint32) {
	g := NewGuestBuilder()
	inputPtr := g.Data(make([]byte, platform.DigestBytes))
	g.Emit(InsnAddi(platform.RegT0, platform.RegZero, platform.EcallInput))
	g.EmitLoadImm(platform.RegA0, inputPtr)
	g.Emit(InsnEcall())
	g.EmitHalt(0)
	return g.Build(), inputPtr
}

// LoopThenShaProgram burns the given loop iterations, then runs one bulk
// SHA-256 compression over zeroed blocks, then terminates cleanly. Sized
// right, the compression is the single instruction that overflows a
// segment budget.
func LoopThenShaProgram(iterations, blocks uint32) *memory.Program {
	g := NewGuestBuilder()
	statePtr := g.DataWords([]uint32{
		0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
		0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
	})
	outPtr := g.Data(make([]byte, platform.DigestBytes))
	blockPtr := g.Data(make([]byte, int(blocks)*platform.ShaBlockBytes))

	g.EmitLoadImm(platform.RegT1, iterations)
	g.Emit(
		InsnAddi(platform.RegT1, platform.RegT1, -1),
		InsnBne(platform.RegT1, platform.RegZero, -4),
	)
	g.Emit(InsnAddi(platform.RegT0, platform.RegZero, platform.EcallSha))
	g.EmitLoadImm(platform.RegA0, outPtr)
	g.EmitLoadImm(platform.RegA1, statePtr)
	g.EmitLoadImm(platform.RegA2, blockPtr)
	g.Emit(
		InsnAddi(platform.RegA3, platform.RegZero, int32(blocks)),
		InsnEcall(),
	)
	g.EmitHalt(0)
	return g.Build()
}

// BigIntProgram computes x*y mod n over little-endian 256-bit operands and
// commits the result to the journal.
func BigIntProgram(x, y, n [platform.BigIntWidthBytes]byte) *memory.Program {
	g := NewGuestBuilder()
	outPtr := g.Data(make([]byte, platform.BigIntWidthBytes))
	xPtr := g.Data(x[:])
	yPtr := g.Data(y[:])
	nPtr := g.Data(n[:])
	namePtr := g.Data([]byte(platform.SysWrite + "\x00"))

	g.Emit(InsnAddi(platform.RegT0, platform.RegZero, platform.EcallBigInt))
	g.EmitLoadImm(platform.RegA0, outPtr)
	g.Emit(InsnAddi(platform.RegA1, platform.RegZero, 0))
	g.EmitLoadImm(platform.RegA2, xPtr)
	g.EmitLoadImm(platform.RegA3, yPtr)
	g.EmitLoadImm(platform.RegA4, nPtr)
	g.Emit(InsnEcall())

	g.Emit(
		InsnAddi(platform.RegT0, platform.RegZero, platform.EcallSoftware),
		InsnAddi(platform.RegA0, platform.RegZero, 0),
		InsnAddi(platform.RegA1, platform.RegZero, 0),
	)
	g.EmitLoadImm(platform.RegA2, namePtr)
	g.Emit(InsnAddi(platform.RegA3, platform.RegZero, platform.FdJournal))
	g.EmitLoadImm(platform.RegA4, outPtr)
	g.Emit(
		InsnAddi(platform.RegA5, platform.RegZero, platform.BigIntWidthBytes),
		InsnEcall(),
	)
	g.EmitHalt(0)
	return g.Build()
}
