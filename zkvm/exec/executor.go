package exec

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/rs/zerolog"

	"github.com/elcsa030/zero/model/zkvm"
	"github.com/elcsa030/zero/module"
	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/platform"
)

// ErrSessionLimit indicates the session cycle cap was reached. No segments
// are emitted for a capped run.
var ErrSessionLimit = errors.New("session cycle limit exceeded")

// ErrSessionFaulted indicates the guest trapped and no fault checker was
// available to substantiate the fault. The faulted session accompanies the
// error.
var ErrSessionFaulted = errors.New("session faulted")

// ioChunkWords is the number of words transferred per software syscall
// cycle.
const ioChunkWords = 4

// SegmentCallback receives each segment as the executor emits it. A
// returned error aborts the run.
type SegmentCallback func(segment *Segment) error

// Executor runs a guest program under a per-segment cycle budget, slicing
// the run into provable segments at budget boundaries. An executor is bound
// to one guest image and supports repeated Run calls only to resume a
// paused session. Not safe for concurrent use.
type Executor struct {
	log     zerolog.Logger
	metrics module.ExecutorMetrics
	env     *ExecutorEnv

	monitor  *memory.MemoryMonitor
	syscalls *syscallTable
	journal  *bytes.Buffer

	pc          uint32
	inputDigest zkvm.Digest

	// Per-segment state.
	preImage       *memory.MemoryImage
	bodyCycles     uint64
	insnCounter    uint32
	segmentRecords []SyscallRecord

	// pendingSyscall survives an undo so that the retried instruction
	// replays the host interaction instead of repeating it.
	pendingSyscall *SyscallRecord

	segmentIndex   uint32
	segmentsPadded uint64
	insnRetired    uint64

	// faultInsn is the instruction word that trapped, kept to seed the
	// fault checker. Zero when the fetch itself faulted.
	faultInsn uint32

	exited   bool
	exitCode zkvm.ExitCode
}

// NewExecutor prepares a run of the given image under env.
func NewExecutor(
	log zerolog.Logger,
	metrics module.ExecutorMetrics,
	env *ExecutorEnv,
	image *memory.MemoryImage,
) (*Executor, error) {

	if env.segmentLimitPo2 < platform.MinCyclesPo2 || env.segmentLimitPo2 > platform.MaxCyclesPo2 {
		return nil, fmt.Errorf("segment limit po2 %d outside [%d, %d]",
			env.segmentLimitPo2, platform.MinCyclesPo2, platform.MaxCyclesPo2)
	}
	if env.sessionLimit < 1<<env.segmentLimitPo2 {
		return nil, fmt.Errorf("session limit %d below one segment of 2^%d cycles",
			env.sessionLimit, env.segmentLimitPo2)
	}

	if _, ok := env.readFds[platform.FdStdin]; !ok {
		env.readFds[platform.FdStdin] = bytes.NewReader(env.input)
	}

	journal := &bytes.Buffer{}
	e := &Executor{
		log:         log.With().Str("component", "executor").Logger(),
		metrics:     metrics,
		env:         env,
		monitor:     memory.NewMonitor(image, len(env.traceObservers) > 0),
		journal:     journal,
		pc:          image.Pc(),
		inputDigest: zkvm.HashBytes(env.input),
	}
	e.syscalls = newSyscallTable(env, journal, e.log)
	return e, nil
}

// NewExecutorFromELF loads an RV32IM ELF binary and prepares a run.
func NewExecutorFromELF(
	log zerolog.Logger,
	metrics module.ExecutorMetrics,
	env *ExecutorEnv,
	elf []byte,
) (*Executor, error) {

	program, err := memory.LoadELF(elf)
	if err != nil {
		return nil, fmt.Errorf("could not load guest elf: %w", err)
	}
	return NewExecutor(log, metrics, env, memory.NewImage(program))
}

// Run executes the guest to a terminal exit, collecting all segments into
// the session. After a Paused exit, calling Run again resumes the guest.
func (e *Executor) Run(ctx context.Context) (*Session, error) {
	var segments []*Segment
	session, err := e.RunWithCallback(ctx, func(segment *Segment) error {
		segments = append(segments, segment)
		return nil
	})
	if session != nil {
		session.Segments = segments
	}
	return session, err
}

// RunWithCallback executes the guest to a terminal exit, handing each
// segment to the callback as it is emitted. The returned session carries
// the journal and exit code but no segments; callers that need them collect
// via the callback.
func (e *Executor) RunWithCallback(ctx context.Context, callback SegmentCallback) (*Session, error) {
	if e.exited && e.exitCode.Kind != zkvm.ExitPaused {
		return nil, fmt.Errorf("cannot resume a session that exited with %s", e.exitCode)
	}

	e.beginSession()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		exit, err := e.step()
		if err != nil {
			return nil, err
		}
		if exit == nil {
			continue
		}

		segment, err := e.emitSegment(*exit)
		if err != nil {
			return nil, err
		}
		if err := callback(segment); err != nil {
			return nil, fmt.Errorf("segment callback: %w", err)
		}

		if !exit.IsSessionTerminal() {
			continue
		}

		e.exited = true
		e.exitCode = *exit
		e.metrics.SessionCompleted(exit.String(), int(e.segmentIndex))
		e.log.Info().
			Str("exit_code", exit.String()).
			Uint32("segments", e.segmentIndex).
			Msg("session complete")

		session := &Session{
			Journal:  append([]byte(nil), e.journal.Bytes()...),
			ExitCode: *exit,
		}

		if exit.Kind == zkvm.ExitFault {
			return e.handleFault(ctx, session, segment, callback)
		}
		return session, nil
	}
}

// beginSession resets per-session accounting ahead of a run or a resume.
// Memory contents and the journal persist across a pause.
func (e *Executor) beginSession() {
	e.monitor.ClearSession()
	e.preImage = e.monitor.BuildImage(e.pc)
	e.bodyCycles = 0
	e.insnCounter = 0
	e.segmentRecords = nil
	e.segmentIndex = 0
	e.segmentsPadded = 0
	e.exited = false
}

// step executes one instruction. A non-nil exit code means the current
// segment is finished and must be emitted before stepping further.
func (e *Executor) step() (*zkvm.ExitCode, error) {
	if e.sessionCycles() >= e.env.sessionLimit {
		return nil, fmt.Errorf("%d cycles used of %d allowed: %w",
			e.sessionCycles(), e.env.sessionLimit, ErrSessionLimit)
	}

	insn, err := e.fetch()
	if err != nil {
		return e.trap(0, err)
	}

	opcode, err := Decode(insn, e.pc)
	if err != nil {
		return e.trap(insn, err)
	}

	var (
		newPc  uint32
		cycles = opcode.Cycles
		exit   *zkvm.ExitCode
	)
	if opcode.Major == MajorECall {
		var extra uint64
		newPc, extra, exit, err = e.ecall()
		cycles += extra
	} else {
		newPc, err = executeInsn(e.monitor, e.pc, insn)
	}
	if err != nil {
		return e.trap(insn, err)
	}

	if e.overBudget(cycles) {
		if e.insnCounter == 0 {
			return nil, fmt.Errorf("instruction at pc 0x%08x needs %d cycles, over the 2^%d segment limit",
				e.pc, e.segmentCycles(cycles), e.env.segmentLimitPo2)
		}
		e.monitor.Undo()
		split := zkvm.SystemSplit
		return &split, nil
	}

	return e.advance(insn, newPc, cycles, exit)
}

// fetch reads the instruction word at pc.
func (e *Executor) fetch() (uint32, error) {
	if !platform.IsGuestAddr(e.pc) {
		return 0, fmt.Errorf("pc 0x%08x outside guest memory: %w", e.pc, memory.ErrAddressFault)
	}
	return e.monitor.LoadU32(e.pc)
}

// trap classifies an instruction error. Guest-attributable traps (illegal
// instructions, address faults) end the segment with a Fault exit and leave
// machine state untouched; anything else aborts the run.
func (e *Executor) trap(insn uint32, err error) (*zkvm.ExitCode, error) {
	e.monitor.Undo()
	e.pendingSyscall = nil
	if errors.Is(err, memory.ErrAddressFault) || errors.Is(err, ErrIllegalInstruction) {
		e.log.Warn().Err(err).Uint32("pc", e.pc).Msg("guest fault")
		e.faultInsn = insn
		fault := zkvm.Fault
		return &fault, nil
	}
	return nil, err
}

// advance commits the instruction: trace events are delivered, buffered
// memory effects land, and cycle accounting moves forward.
func (e *Executor) advance(insn uint32, newPc uint32, cycles uint64, exit *zkvm.ExitCode) (*zkvm.ExitCode, error) {
	if len(e.env.traceObservers) > 0 {
		events := append([]zkvm.TraceEvent{
			zkvm.InstructionStartEvent{Cycle: e.segmentCycles(0), Pc: e.pc, Insn: insn},
		}, e.monitor.TraceEvents()...)
		for _, obs := range e.env.traceObservers {
			for _, event := range events {
				if err := obs.Trace(event); err != nil {
					return nil, fmt.Errorf("trace observer: %w", err)
				}
			}
		}
	}

	e.monitor.Commit()
	if e.pendingSyscall != nil {
		e.segmentRecords = append(e.segmentRecords, *e.pendingSyscall)
		e.pendingSyscall = nil
	}
	e.bodyCycles += cycles
	e.insnCounter++
	e.insnRetired++
	e.pc = newPc
	return exit, nil
}

// segmentCycles is the total the segment would occupy if closed after an
// instruction costing extra cycles: setup, paging, body, teardown, and the
// zero-knowledge reserve.
func (e *Executor) segmentCycles(extra uint64) uint64 {
	return platform.InitCycles +
		e.monitor.PageReadCycles() +
		e.monitor.PageWriteCycles() +
		e.bodyCycles + extra +
		platform.FiniCycles + platform.ZKCycles
}

func (e *Executor) overBudget(extra uint64) bool {
	return e.segmentCycles(extra) > 1<<e.env.segmentLimitPo2
}

// sessionCycles charges every emitted segment at its full padded size.
func (e *Executor) sessionCycles() uint64 {
	return e.segmentsPadded + e.segmentCycles(0)
}

// emitSegment freezes the current segment with the given exit code and
// resets per-segment state for the next one.
func (e *Executor) emitSegment(exit zkvm.ExitCode) (*Segment, error) {
	postImage := e.monitor.BuildImage(e.pc)
	cycles := e.segmentCycles(0)

	po2 := fitPo2(cycles)
	if po2 > e.env.segmentLimitPo2 {
		return nil, fmt.Errorf("segment of %d cycles exceeds 2^%d budget",
			cycles, e.env.segmentLimitPo2)
	}

	var splitInsn *uint32
	if exit.Kind == zkvm.ExitSystemSplit || exit.Kind == zkvm.ExitFault {
		counter := e.insnCounter
		splitInsn = &counter
	}

	segment := &Segment{
		PreImage:    e.preImage,
		PostState:   postImage.SystemState(),
		Syscalls:    e.segmentRecords,
		Faults:      e.monitor.TakePageFaults(),
		ExitCode:    exit,
		SplitInsn:   splitInsn,
		Po2:         po2,
		Index:       e.segmentIndex,
		CycleCount:  cycles,
		InputDigest: e.inputDigest,
	}

	e.metrics.SegmentEmitted(po2, cycles)
	e.metrics.InstructionsExecuted(uint64(e.insnCounter))
	e.log.Debug().
		Uint32("index", segment.Index).
		Uint32("po2", po2).
		Uint64("cycles", cycles).
		Str("exit_code", exit.String()).
		Msg("segment emitted")

	e.segmentIndex++
	e.segmentsPadded += 1 << po2
	e.preImage = postImage
	e.bodyCycles = 0
	e.insnCounter = 0
	e.segmentRecords = nil
	e.monitor.ClearSegment()

	return segment, nil
}

// fitPo2 returns the smallest legal padded size exponent covering cycles.
func fitPo2(cycles uint64) uint32 {
	po2 := uint32(bits.Len64(cycles - 1))
	if po2 < platform.MinCyclesPo2 {
		po2 = platform.MinCyclesPo2
	}
	return po2
}

// handleFault substantiates a Fault exit. The fault checker program reruns
// in its own sub-session, seeded with the faulting pc, instruction,
// register file, and post image id; its segments join the session and its
// journal becomes the session's journal. Without a checker, or if the
// checker does not halt cleanly, the faulted session is returned alongside
// ErrSessionFaulted.
func (e *Executor) handleFault(ctx context.Context, session *Session, faultSegment *Segment, callback SegmentCallback) (*Session, error) {
	if e.env.faultChecker == nil {
		return session, fmt.Errorf("no fault checker configured: %w", ErrSessionFaulted)
	}

	e.log.Info().Uint32("pc", e.pc).Msg("running fault checker")

	regs := e.monitor.LoadRegisters()
	e.monitor.Undo()

	seed := make([]byte, 0, 8+platform.NumRegisters*4+platform.DigestBytes)
	seed = binary.LittleEndian.AppendUint32(seed, e.pc)
	seed = binary.LittleEndian.AppendUint32(seed, e.faultInsn)
	for _, reg := range regs {
		seed = binary.LittleEndian.AppendUint32(seed, reg)
	}
	postID := faultSegment.PostImageID()
	seed = append(seed, postID[:]...)

	checkerEnv := NewEnv(
		WithSegmentLimitPo2(e.env.segmentLimitPo2),
		WithSessionLimit(e.env.sessionLimit),
		WithInput(seed),
	)
	checker, err := NewExecutor(e.log, e.metrics, checkerEnv, memory.NewImage(e.env.faultChecker))
	if err != nil {
		return session, fmt.Errorf("could not prepare fault checker: %w", err)
	}
	checkSession, err := checker.Run(ctx)
	if err != nil {
		return session, fmt.Errorf("fault checker failed: %w", err)
	}
	if checkSession.ExitCode != zkvm.Halted(0) {
		return session, fmt.Errorf("fault checker exited with %s, want Halted(0): %w",
			checkSession.ExitCode, ErrSessionFaulted)
	}

	// The checker's segments continue the session's index sequence but
	// start a fresh image chain.
	for _, segment := range checkSession.Segments {
		segment.Index += e.segmentIndex
		if err := callback(segment); err != nil {
			return session, fmt.Errorf("segment callback: %w", err)
		}
	}
	session.Journal = checkSession.Journal
	return session, nil
}

// ecall dispatches the machine ecall selected by register t0. It returns
// the next pc, any cycle cost beyond the base ecall cycle, and a terminal
// exit for halt-class calls.
func (e *Executor) ecall() (uint32, uint64, *zkvm.ExitCode, error) {
	switch selector := e.monitor.LoadRegister(platform.RegT0); selector {
	case platform.EcallHalt:
		return e.ecallHalt()
	case platform.EcallInput:
		return e.ecallInput()
	case platform.EcallSoftware:
		return e.ecallSoftware()
	case platform.EcallSha:
		return e.ecallSha()
	case platform.EcallBigInt:
		return e.ecallBigInt()
	default:
		return 0, 0, nil, fmt.Errorf("ecall selector %d at pc 0x%08x: %w",
			selector, e.pc, ErrIllegalInstruction)
	}
}

// ecallHalt terminates or pauses the guest. Register a0 packs the halt type
// in its low byte and the user exit code in the next; a1 points at the
// guest's 32-byte output digest region. A pause leaves the pc past the
// ecall so the resumed session continues with the next instruction; a
// terminate leaves it in place.
func (e *Executor) ecallHalt() (uint32, uint64, *zkvm.ExitCode, error) {
	a0 := e.monitor.LoadRegister(platform.RegA0)
	outPtr := e.monitor.LoadRegister(platform.RegA1)
	haltType := a0 & 0xff
	userExit := (a0 >> 8) & 0xff

	if _, err := e.monitor.LoadGuestRegion(outPtr, platform.DigestBytes); err != nil {
		return 0, 0, nil, err
	}

	switch haltType {
	case platform.HaltTerminate:
		exit := zkvm.Halted(userExit)
		return e.pc, 0, &exit, nil
	case platform.HaltPause:
		exit := zkvm.Paused(userExit)
		return e.pc + 4, 0, &exit, nil
	default:
		return 0, 0, nil, fmt.Errorf("halt type %d at pc 0x%08x: %w",
			haltType, e.pc, ErrIllegalInstruction)
	}
}

// ecallInput reads the 32-byte input digest region pointed at by a0. The
// digest itself is committed through the segment record, not through guest
// memory.
func (e *Executor) ecallInput() (uint32, uint64, *zkvm.ExitCode, error) {
	ptr := e.monitor.LoadRegister(platform.RegA0)
	if _, err := e.monitor.LoadGuestRegion(ptr, platform.DigestBytes); err != nil {
		return 0, 0, nil, err
	}
	return e.pc + 4, 0, nil, nil
}

// ecallSoftware services a named host syscall: a0 points at the guest's
// return buffer, a1 is its size in words, a2 names the call. The host
// interaction is recorded so replays are deterministic.
func (e *Executor) ecallSoftware() (uint32, uint64, *zkvm.ExitCode, error) {
	outPtr := e.monitor.LoadRegister(platform.RegA0)
	outWords := e.monitor.LoadRegister(platform.RegA1)
	namePtr := e.monitor.LoadRegister(platform.RegA2)

	if e.pendingSyscall == nil {
		name, err := e.monitor.LoadGuestString(namePtr)
		if err != nil {
			return 0, 0, nil, err
		}
		toGuest, a0, a1, err := e.syscalls.dispatch(name, e.monitor, outWords)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("syscall %s: %w", name, err)
		}
		if uint64(len(toGuest)) > uint64(outWords)*platform.WordSize {
			return 0, 0, nil, fmt.Errorf("syscall %s returned %d bytes for a %d-word buffer",
				name, len(toGuest), outWords)
		}
		e.pendingSyscall = &SyscallRecord{ToGuest: toGuest, Ret0: a0, Ret1: a1}
	}

	record := e.pendingSyscall
	if outWords > 0 && len(record.ToGuest) > 0 {
		if err := e.monitor.StoreGuestRegion(outPtr, record.ToGuest); err != nil {
			return 0, 0, nil, err
		}
	}
	e.monitor.StoreRegister(platform.RegA0, record.Ret0)
	e.monitor.StoreRegister(platform.RegA1, record.Ret1)

	chunks := (uint64(outWords) + ioChunkWords - 1) / ioChunkWords
	return e.pc + 4, chunks + 1, nil, nil
}

// ecallSha runs the SHA-256 compression over a4 blocks: a0 points at the
// output state, a1 at the input state, a2 at the block data. Block bytes
// are interpreted big-endian per FIPS 180-4.
func (e *Executor) ecallSha() (uint32, uint64, *zkvm.ExitCode, error) {
	outPtr := e.monitor.LoadRegister(platform.RegA0)
	inPtr := e.monitor.LoadRegister(platform.RegA1)
	blockPtr := e.monitor.LoadRegister(platform.RegA2)
	count := e.monitor.LoadRegister(platform.RegA3)

	var state [8]uint32
	for i := range state {
		word, err := e.monitor.LoadGuestU32(inPtr + uint32(i)*platform.WordSize)
		if err != nil {
			return 0, 0, nil, err
		}
		state[i] = word
	}

	for b := uint32(0); b < count; b++ {
		var block [16]uint32
		for i := range block {
			addr := blockPtr + (b*platform.ShaBlockWords+uint32(i))*platform.WordSize
			word, err := e.monitor.LoadGuestU32(addr)
			if err != nil {
				return 0, 0, nil, err
			}
			block[i] = bits.ReverseBytes32(word)
		}
		compress256(&state, &block)
	}

	for i, word := range state {
		if err := e.monitor.StoreGuestU32(outPtr+uint32(i)*platform.WordSize, word); err != nil {
			return 0, 0, nil, err
		}
	}
	return e.pc + 4, uint64(count) * platform.ShaCycles, nil, nil
}

// ecallBigInt computes a 256-bit modular multiply: a0 points at the result,
// a2 and a3 at the operands, a4 at the modulus. A zero modulus selects
// plain multiplication truncated to 256 bits. Operands are little-endian
// word arrays.
func (e *Executor) ecallBigInt() (uint32, uint64, *zkvm.ExitCode, error) {
	outPtr := e.monitor.LoadRegister(platform.RegA0)
	op := e.monitor.LoadRegister(platform.RegA1)
	xPtr := e.monitor.LoadRegister(platform.RegA2)
	yPtr := e.monitor.LoadRegister(platform.RegA3)
	modPtr := e.monitor.LoadRegister(platform.RegA4)

	if op != 0 {
		return 0, 0, nil, fmt.Errorf("bigint op %d at pc 0x%08x: %w",
			op, e.pc, ErrIllegalInstruction)
	}

	x, err := e.loadBigInt(xPtr)
	if err != nil {
		return 0, 0, nil, err
	}
	y, err := e.loadBigInt(yPtr)
	if err != nil {
		return 0, 0, nil, err
	}
	mod, err := e.loadBigInt(modPtr)
	if err != nil {
		return 0, 0, nil, err
	}

	result := new(big.Int).Mul(x, y)
	if mod.Sign() != 0 {
		result.Mod(result, mod)
	} else if result.BitLen() > platform.BigIntWidthBytes*8 {
		// With no modulus the product must fit the operand width; wrapping
		// silently would let the guest commit to a truncated value.
		return 0, 0, nil, fmt.Errorf("bigint multiply overflows %d bits at pc 0x%08x",
			platform.BigIntWidthBytes*8, e.pc)
	}

	if err := e.storeBigInt(outPtr, result); err != nil {
		return 0, 0, nil, err
	}
	return e.pc + 4, platform.BigIntCycles, nil, nil
}

func (e *Executor) loadBigInt(ptr uint32) (*big.Int, error) {
	data, err := e.monitor.LoadGuestRegion(ptr, platform.BigIntWidthBytes)
	if err != nil {
		return nil, err
	}
	// Reverse to big-endian for math/big.
	be := make([]byte, len(data))
	for i, b := range data {
		be[len(data)-1-i] = b
	}
	return new(big.Int).SetBytes(be), nil
}

func (e *Executor) storeBigInt(ptr uint32, val *big.Int) error {
	be := val.Bytes()
	le := make([]byte, platform.BigIntWidthBytes)
	for i := 0; i < len(be) && i < len(le); i++ {
		le[i] = be[len(be)-1-i]
	}
	return e.monitor.StoreGuestRegion(ptr, le)
}
