// Package platform defines the guest-side ABI shared between the host
// runtime and guest programs: the memory layout, the register file, the
// ecall numbering, and the fixed cycle-cost constants of the circuit.
package platform

const (
	// WordSize is the RV32 word size in bytes.
	WordSize = 4

	// PageSize is the fixed size of a guest memory page in bytes.
	PageSize = 1024

	// GuestMinMem is the lowest valid guest address. The zero page is
	// reserved so that null pointers always fault.
	GuestMinMem = 0x0000_0400

	// GuestMaxMem is the exclusive upper bound of guest-addressable memory.
	GuestMaxMem = 0x0C00_0000

	// SystemStart is the start of the system region, which holds the
	// register file. It lives inside the paged address space so that image
	// ids commit to register state, but guest pointers may not refer to it.
	SystemStart = GuestMaxMem

	// RegisterBase is the address of register x0 within the system region.
	RegisterBase = SystemStart

	// MemEnd is the exclusive upper bound of the paged address space.
	MemEnd = SystemStart + PageSize

	// NumPages is the number of pages covering the full address space.
	NumPages = MemEnd / PageSize
)

// NumRegisters is the size of the RV32 register file.
const NumRegisters = 32

// Register indices, per the RISC-V calling convention.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegT0   = 5
	RegT1   = 6
	RegT2   = 7
	RegS0   = 8
	RegS1   = 9
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
)

// Ecall numbers, read from register t0 when an ECALL instruction executes.
const (
	EcallHalt     = 0
	EcallInput    = 1
	EcallSoftware = 2
	EcallSha      = 3
	EcallBigInt   = 4
)

// Halt types, packed into the low byte of register a0 on EcallHalt. The
// user exit code occupies the next byte.
const (
	HaltTerminate = 0
	HaltPause     = 1
)

// Built-in software syscall names.
const (
	SysRead   = "sys_read"
	SysWrite  = "sys_write"
	SysGetenv = "sys_getenv"
	SysRandom = "sys_random"
	SysLog    = "sys_log"
)

// Well-known file descriptors for sys_read / sys_write.
const (
	FdStdin   = 0
	FdStdout  = 1
	FdStderr  = 2
	FdJournal = 3
)

const (
	// DigestWords is the size of a digest in u32 words.
	DigestWords = 8

	// DigestBytes is the size of a digest in bytes.
	DigestBytes = 32

	// ShaBlockBytes is the size of a SHA-256 compression block.
	ShaBlockBytes = 64

	// ShaBlockWords is the size of a SHA-256 compression block in words.
	ShaBlockWords = ShaBlockBytes / WordSize

	// BigIntWidthWords is the width of a bigint ecall operand in words.
	BigIntWidthWords = 8

	// BigIntWidthBytes is the width of a bigint ecall operand in bytes.
	BigIntWidthBytes = BigIntWidthWords * WordSize
)

// Fixed cycle costs of the circuit.
const (
	// ShaCycles is the cost of compressing one SHA-256 block.
	ShaCycles = 73

	// BigIntCycles is the cost of one 256-bit modular multiply.
	BigIntCycles = 9

	// PageCycles is the cost of paging one page in or out: one SHA-256
	// compression per block of the page, plus one for the page digest.
	PageCycles = (PageSize/ShaBlockBytes + 1) * ShaCycles

	// InitCycles is the fixed setup cost at the start of every segment.
	InitCycles = 2500

	// FiniCycles is the fixed teardown cost at the end of every segment.
	FiniCycles = 1500

	// ZKCycles is the number of cycles reserved in every segment for
	// zero-knowledge blinding.
	ZKCycles = 1994
)

// Bounds on the per-segment cycle budget, as powers of two.
const (
	MinCyclesPo2 = 13
	MaxCyclesPo2 = 24
)

// IsGuestAddr reports whether addr lies inside guest-addressable memory.
// The system region is deliberately excluded: guest pointers may never
// refer to the register file.
func IsGuestAddr(addr uint32) bool {
	return addr >= GuestMinMem && addr < GuestMaxMem
}
