// Package memory implements the guest address space: program loading, the
// paged merkleized memory image, and the monitor that tracks per-segment
// page activity during execution.
package memory

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/elcsa030/zero/zkvm/platform"
)

// Program is a guest program ready to be turned into a memory image: an
// entry point and the initial contents of memory, keyed by word-aligned
// address.
type Program struct {
	Entry uint32
	Words map[uint32]uint32
}

// NewProgram builds a program directly from words. Used for synthetic guests
// in tests and for the fault checker.
func NewProgram(entry uint32, words map[uint32]uint32) (*Program, error) {
	if entry%platform.WordSize != 0 {
		return nil, fmt.Errorf("misaligned entry point 0x%08x", entry)
	}
	if !platform.IsGuestAddr(entry) {
		return nil, fmt.Errorf("entry point 0x%08x outside guest memory", entry)
	}
	for addr := range words {
		if addr%platform.WordSize != 0 {
			return nil, fmt.Errorf("misaligned program word at 0x%08x", addr)
		}
		if !platform.IsGuestAddr(addr) {
			return nil, fmt.Errorf("program word at 0x%08x outside guest memory", addr)
		}
	}
	return &Program{Entry: entry, Words: words}, nil
}

// LoadELF parses a 32-bit little-endian RISC-V executable and extracts its
// loadable segments into a Program. Any segment reaching outside guest
// memory is rejected.
func LoadELF(data []byte) (*Program, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not parse elf: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("unsupported elf class: %s", f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("unsupported elf byte order: %s", f.Data)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("unsupported elf machine: %s", f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("unsupported elf type: %s", f.Type)
	}

	entry := uint32(f.Entry)
	words := make(map[uint32]uint32)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr+prog.Filesz > platform.GuestMaxMem {
			return nil, fmt.Errorf("elf segment at 0x%08x exceeds guest memory", prog.Vaddr)
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return nil, fmt.Errorf("could not read elf segment at 0x%08x: %w", prog.Vaddr, err)
		}
		for len(buf)%platform.WordSize != 0 {
			buf = append(buf, 0)
		}
		for i := 0; i < len(buf); i += platform.WordSize {
			addr := uint32(prog.Vaddr) + uint32(i)
			words[addr] = binary.LittleEndian.Uint32(buf[i:])
		}
	}

	return NewProgram(entry, words)
}
