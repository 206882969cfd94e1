package zkvm

// TraceEvent is one entry in the instruction-level execution trace. Events
// are delivered synchronously on the executing goroutine to an observer
// registered on the executor environment.
type TraceEvent interface {
	isTraceEvent()
}

// InstructionStartEvent marks the start of one instruction.
type InstructionStartEvent struct {
	Cycle uint64
	Pc    uint32
	Insn  uint32
}

func (InstructionStartEvent) isTraceEvent() {}

// RegisterSetEvent records a register write.
type RegisterSetEvent struct {
	Idx   int
	Value uint32
}

func (RegisterSetEvent) isTraceEvent() {}

// MemorySetEvent records a memory write.
type MemorySetEvent struct {
	Addr  uint32
	Value uint32
}

func (MemorySetEvent) isTraceEvent() {}
