package memory

import (
	"errors"
	"fmt"
	"sort"

	"github.com/elcsa030/zero/model/zkvm"
	"github.com/elcsa030/zero/zkvm/platform"
)

// ErrAddressFault indicates an access outside the guest-addressable region
// or a misaligned word access.
var ErrAddressFault = errors.New("address fault")

// maxGuestStringLen bounds null-terminated strings read from guest memory.
const maxGuestStringLen = 4096

// PageFaults records the pages a segment touched: the page-in set (reads)
// and the page-out set (dirty writes), as sorted page indices. It is part
// of the segment record because the prover must replay the same paging
// activity.
type PageFaults struct {
	Reads  []uint32 `cbor:"reads"`
	Writes []uint32 `cbor:"writes"`
}

// MemoryMonitor wraps a MemoryImage with the mutable working state of one
// executing session. It tracks which pages each segment touches and the
// cycle cost of paging them, buffers the current instruction's effects so
// they can be undone, and freezes immutable snapshots at segment
// boundaries.
//
// The monitor has exactly one mutator at any time: the executor that owns
// it. It is not safe for concurrent use.
type MemoryMonitor struct {
	// image is the session's baseline snapshot; committed writes overlay
	// it in pages.
	image *MemoryImage

	// pages holds working copies of every page written since the session
	// began.
	pages map[uint32][]byte

	// readPages and writePages are the pages charged for paging in the
	// current segment.
	readPages  map[uint32]struct{}
	writePages map[uint32]struct{}

	pageReadCycles  uint64
	pageWriteCycles uint64

	// Uncommitted state of the in-flight instruction.
	pendingWrites     map[uint32]uint32
	pendingReadPages  map[uint32]struct{}
	pendingWritePages map[uint32]struct{}
	pendingReadCost   uint64
	pendingWriteCost  uint64

	traceEnabled  bool
	pendingEvents []zkvm.TraceEvent
}

// NewMonitor wraps the given image for execution.
func NewMonitor(image *MemoryImage, traceEnabled bool) *MemoryMonitor {
	return &MemoryMonitor{
		image:             image,
		pages:             make(map[uint32][]byte),
		readPages:         make(map[uint32]struct{}),
		writePages:        make(map[uint32]struct{}),
		pendingWrites:     make(map[uint32]uint32),
		pendingReadPages:  make(map[uint32]struct{}),
		pendingWritePages: make(map[uint32]struct{}),
		traceEnabled:      traceEnabled,
	}
}

func (m *MemoryMonitor) chargeRead(pageIdx uint32) {
	if _, ok := m.readPages[pageIdx]; ok {
		return
	}
	if _, ok := m.pendingReadPages[pageIdx]; ok {
		return
	}
	m.pendingReadPages[pageIdx] = struct{}{}
	m.pendingReadCost += platform.PageCycles
}

func (m *MemoryMonitor) chargeWrite(pageIdx uint32) {
	// A dirty page is paged in before it is paged out.
	m.chargeRead(pageIdx)
	if _, ok := m.writePages[pageIdx]; ok {
		return
	}
	if _, ok := m.pendingWritePages[pageIdx]; ok {
		return
	}
	m.pendingWritePages[pageIdx] = struct{}{}
	m.pendingWriteCost += platform.PageCycles
}

// word reads the current value at a word-aligned address, observing
// uncommitted writes first, then committed working pages, then the baseline
// image.
func (m *MemoryMonitor) word(addr uint32) uint32 {
	if val, ok := m.pendingWrites[addr]; ok {
		return val
	}
	if page, ok := m.pages[addr/platform.PageSize]; ok {
		off := addr % platform.PageSize
		return uint32(page[off]) | uint32(page[off+1])<<8 | uint32(page[off+2])<<16 | uint32(page[off+3])<<24
	}
	return m.image.WordAt(addr)
}

// LoadU32 reads the word at addr, charging a page-in cost on the first
// touch of its page in the current segment.
func (m *MemoryMonitor) LoadU32(addr uint32) (uint32, error) {
	if addr%platform.WordSize != 0 {
		return 0, fmt.Errorf("misaligned load at 0x%08x: %w", addr, ErrAddressFault)
	}
	if addr >= platform.MemEnd {
		return 0, fmt.Errorf("load at 0x%08x outside addressable memory: %w", addr, ErrAddressFault)
	}
	m.chargeRead(addr / platform.PageSize)
	return m.word(addr), nil
}

// StoreU32 writes the word at addr into the uncommitted buffer, charging a
// page-out cost on the first dirty touch of its page in the current segment.
func (m *MemoryMonitor) StoreU32(addr uint32, val uint32) error {
	if addr%platform.WordSize != 0 {
		return fmt.Errorf("misaligned store at 0x%08x: %w", addr, ErrAddressFault)
	}
	if addr >= platform.MemEnd {
		return fmt.Errorf("store at 0x%08x outside addressable memory: %w", addr, ErrAddressFault)
	}
	m.chargeWrite(addr / platform.PageSize)
	m.pendingWrites[addr] = val
	if m.traceEnabled {
		m.pendingEvents = append(m.pendingEvents, zkvm.MemorySetEvent{Addr: addr, Value: val})
	}
	return nil
}

// LoadRegister reads register idx. Register x0 is always zero.
func (m *MemoryMonitor) LoadRegister(idx int) uint32 {
	if idx == 0 {
		return 0
	}
	addr := uint32(platform.RegisterBase + idx*platform.WordSize)
	m.chargeRead(addr / platform.PageSize)
	return m.word(addr)
}

// StoreRegister writes register idx. Writes to x0 are discarded.
func (m *MemoryMonitor) StoreRegister(idx int, val uint32) {
	if idx == 0 {
		return
	}
	addr := uint32(platform.RegisterBase + idx*platform.WordSize)
	m.chargeWrite(addr / platform.PageSize)
	m.pendingWrites[addr] = val
	if m.traceEnabled {
		m.pendingEvents = append(m.pendingEvents, zkvm.RegisterSetEvent{Idx: idx, Value: val})
	}
}

// LoadRegisters reads the full register file.
func (m *MemoryMonitor) LoadRegisters() [platform.NumRegisters]uint32 {
	var regs [platform.NumRegisters]uint32
	for i := 1; i < platform.NumRegisters; i++ {
		regs[i] = m.LoadRegister(i)
	}
	return regs
}

// LoadGuestU32 reads a word through a guest pointer, rejecting addresses
// outside guest-addressable memory.
func (m *MemoryMonitor) LoadGuestU32(addr uint32) (uint32, error) {
	if !platform.IsGuestAddr(addr) {
		return 0, fmt.Errorf("guest pointer 0x%08x outside guest memory: %w", addr, ErrAddressFault)
	}
	return m.LoadU32(addr)
}

// StoreGuestU32 writes a word through a guest pointer.
func (m *MemoryMonitor) StoreGuestU32(addr uint32, val uint32) error {
	if !platform.IsGuestAddr(addr) {
		return fmt.Errorf("guest pointer 0x%08x outside guest memory: %w", addr, ErrAddressFault)
	}
	return m.StoreU32(addr, val)
}

// LoadGuestRegion reads n bytes starting at a guest pointer.
func (m *MemoryMonitor) LoadGuestRegion(addr uint32, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if !platform.IsGuestAddr(addr) || !platform.IsGuestAddr(addr+n-1) || addr+n < addr {
		return nil, fmt.Errorf("guest region [0x%08x, +%d) outside guest memory: %w", addr, n, ErrAddressFault)
	}
	out := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		byteAddr := addr + i
		word, err := m.LoadU32(byteAddr &^ 3)
		if err != nil {
			return nil, err
		}
		out[i] = byte(word >> (8 * (byteAddr % platform.WordSize)))
	}
	return out, nil
}

// StoreGuestRegion writes bytes starting at a guest pointer, performing
// read-modify-write on partial words.
func (m *MemoryMonitor) StoreGuestRegion(addr uint32, data []byte) error {
	n := uint32(len(data))
	if n == 0 {
		return nil
	}
	if !platform.IsGuestAddr(addr) || !platform.IsGuestAddr(addr+n-1) || addr+n < addr {
		return fmt.Errorf("guest region [0x%08x, +%d) outside guest memory: %w", addr, n, ErrAddressFault)
	}
	for i := uint32(0); i < n; i++ {
		byteAddr := addr + i
		wordAddr := byteAddr &^ 3
		shift := 8 * (byteAddr % platform.WordSize)
		word, err := m.LoadU32(wordAddr)
		if err != nil {
			return err
		}
		word = (word &^ (0xff << shift)) | uint32(data[i])<<shift
		if err := m.StoreU32(wordAddr, word); err != nil {
			return err
		}
	}
	return nil
}

// LoadGuestString reads a null-terminated string from guest memory.
func (m *MemoryMonitor) LoadGuestString(addr uint32) (string, error) {
	var out []byte
	for i := uint32(0); i < maxGuestStringLen; i++ {
		b, err := m.LoadGuestRegion(addr+i, 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
	return "", fmt.Errorf("unterminated string at 0x%08x", addr)
}

// PageReadCycles returns the segment's page-in cost, including the
// in-flight instruction.
func (m *MemoryMonitor) PageReadCycles() uint64 {
	return m.pageReadCycles + m.pendingReadCost
}

// PageWriteCycles returns the segment's page-out cost, including the
// in-flight instruction.
func (m *MemoryMonitor) PageWriteCycles() uint64 {
	return m.pageWriteCycles + m.pendingWriteCost
}

// TraceEvents returns the trace events buffered by the in-flight
// instruction. The slice is invalidated by Commit and Undo.
func (m *MemoryMonitor) TraceEvents() []zkvm.TraceEvent {
	return m.pendingEvents
}

// Commit finalizes the in-flight instruction: applies buffered writes to the
// working pages and folds pending page charges into the segment totals.
func (m *MemoryMonitor) Commit() {
	for addr, val := range m.pendingWrites {
		pageIdx := addr / platform.PageSize
		page, ok := m.pages[pageIdx]
		if !ok {
			page = make([]byte, platform.PageSize)
			if orig := m.image.Page(pageIdx); orig != nil {
				copy(page, orig)
			}
			m.pages[pageIdx] = page
		}
		off := addr % platform.PageSize
		page[off] = byte(val)
		page[off+1] = byte(val >> 8)
		page[off+2] = byte(val >> 16)
		page[off+3] = byte(val >> 24)
	}
	for idx := range m.pendingReadPages {
		m.readPages[idx] = struct{}{}
	}
	for idx := range m.pendingWritePages {
		m.writePages[idx] = struct{}{}
	}
	m.pageReadCycles += m.pendingReadCost
	m.pageWriteCycles += m.pendingWriteCost
	m.resetPending()
}

// Undo discards everything since the last Commit. Used when an instruction
// must be retried in a fresh segment, and on trapped instructions.
func (m *MemoryMonitor) Undo() {
	m.resetPending()
}

func (m *MemoryMonitor) resetPending() {
	m.pendingWrites = make(map[uint32]uint32)
	m.pendingReadPages = make(map[uint32]struct{})
	m.pendingWritePages = make(map[uint32]struct{})
	m.pendingReadCost = 0
	m.pendingWriteCost = 0
	m.pendingEvents = nil
}

// BuildImage freezes the current memory contents into an immutable image
// restarting at pc. Uncommitted state is not included.
func (m *MemoryMonitor) BuildImage(pc uint32) *MemoryImage {
	return m.image.overlay(pc, m.pages)
}

// TakePageFaults drains the segment's page touch record.
func (m *MemoryMonitor) TakePageFaults() PageFaults {
	faults := PageFaults{
		Reads:  sortedPages(m.readPages),
		Writes: sortedPages(m.writePages),
	}
	return faults
}

func sortedPages(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClearSegment resets the per-segment page accounting. Memory contents are
// preserved: they carry forward into the next segment.
func (m *MemoryMonitor) ClearSegment() {
	m.readPages = make(map[uint32]struct{})
	m.writePages = make(map[uint32]struct{})
	m.pageReadCycles = 0
	m.pageWriteCycles = 0
	m.resetPending()
}

// ClearSession resets all per-session state ahead of a (re)run. Memory
// contents persist so that a paused session can resume where it left off.
func (m *MemoryMonitor) ClearSession() {
	m.ClearSegment()
}
