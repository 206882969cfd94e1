package exec

import (
	"io"

	"github.com/elcsa030/zero/model/zkvm"
	"github.com/elcsa030/zero/zkvm/memory"
)

const (
	// DefaultSegmentLimitPo2 is the default per-segment cycle budget.
	DefaultSegmentLimitPo2 = 20

	// DefaultSessionLimit is the default session cycle cap: 64Mi cycles.
	DefaultSessionLimit = 1 << 26
)

// TraceObserver receives fine-grained execution events when tracing is
// enabled. A returned error aborts the run.
type TraceObserver interface {
	Trace(event zkvm.TraceEvent) error
}

// TraceFn adapts a function to the TraceObserver interface.
type TraceFn func(event zkvm.TraceEvent) error

func (f TraceFn) Trace(event zkvm.TraceEvent) error { return f(event) }

// SyscallHandler handles one named software syscall. nWords is the size of
// the guest's return buffer in words; the returned bytes fill that buffer
// and the two words are handed back in registers a0 and a1. Handlers read
// further call arguments from registers a3 through a7 via the monitor.
type SyscallHandler interface {
	Syscall(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error)
}

// SyscallFn adapts a function to the SyscallHandler interface.
type SyscallFn func(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error)

func (f SyscallFn) Syscall(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error) {
	return f(name, m, nWords)
}

// ExecutorEnv carries everything the host supplies to one guest run: cycle
// budgets, the input commitment bytes, environment variables, file
// descriptor bindings, extension syscalls, trace observers, and the
// optional fault checker program.
type ExecutorEnv struct {
	segmentLimitPo2 uint32
	sessionLimit    uint64
	envVars         map[string]string
	input           []byte
	readFds         map[uint32]io.Reader
	writeFds        map[uint32]io.Writer
	syscalls        map[string]SyscallHandler
	traceObservers  []TraceObserver
	faultChecker    *memory.Program
}

// EnvOption configures an ExecutorEnv.
type EnvOption func(*ExecutorEnv)

// NewEnv builds an execution environment with the given options applied over
// the defaults.
func NewEnv(opts ...EnvOption) *ExecutorEnv {
	env := &ExecutorEnv{
		segmentLimitPo2: DefaultSegmentLimitPo2,
		sessionLimit:    DefaultSessionLimit,
		envVars:         make(map[string]string),
		readFds:         make(map[uint32]io.Reader),
		writeFds:        make(map[uint32]io.Writer),
		syscalls:        make(map[string]SyscallHandler),
	}
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// WithSegmentLimitPo2 sets the per-segment cycle budget to 2^po2 cycles.
func WithSegmentLimitPo2(po2 uint32) EnvOption {
	return func(env *ExecutorEnv) {
		env.segmentLimitPo2 = po2
	}
}

// WithSessionLimit caps the total cycles a session may consume.
func WithSessionLimit(limit uint64) EnvOption {
	return func(env *ExecutorEnv) {
		env.sessionLimit = limit
	}
}

// WithEnvVar exposes one environment variable to the guest via sys_getenv.
func WithEnvVar(key, value string) EnvOption {
	return func(env *ExecutorEnv) {
		env.envVars[key] = value
	}
}

// WithInput sets the session input bytes. Their digest is committed into
// every segment and into the final receipt metadata.
func WithInput(input []byte) EnvOption {
	return func(env *ExecutorEnv) {
		env.input = input
	}
}

// WithStdin connects the guest's stdin descriptor.
func WithStdin(r io.Reader) EnvOption {
	return WithReadFd(0, r)
}

// WithStdout connects the guest's stdout descriptor.
func WithStdout(w io.Writer) EnvOption {
	return WithWriteFd(1, w)
}

// WithStderr connects the guest's stderr descriptor.
func WithStderr(w io.Writer) EnvOption {
	return WithWriteFd(2, w)
}

// WithReadFd binds a readable file descriptor.
func WithReadFd(fd uint32, r io.Reader) EnvOption {
	return func(env *ExecutorEnv) {
		env.readFds[fd] = r
	}
}

// WithWriteFd binds a writable file descriptor.
func WithWriteFd(fd uint32, w io.Writer) EnvOption {
	return func(env *ExecutorEnv) {
		env.writeFds[fd] = w
	}
}

// WithSyscall registers a handler for a named software syscall. Registering
// a built-in name overrides the built-in handler.
func WithSyscall(name string, handler SyscallHandler) EnvOption {
	return func(env *ExecutorEnv) {
		env.syscalls[name] = handler
	}
}

// WithTraceObserver adds an execution trace observer. Tracing slows down
// execution and is meant for debugging.
func WithTraceObserver(o TraceObserver) EnvOption {
	return func(env *ExecutorEnv) {
		env.traceObservers = append(env.traceObservers, o)
	}
}

// WithFaultChecker supplies the program that proves a fault claim. When set,
// a faulting guest yields a fault-checker session instead of a plain error.
func WithFaultChecker(program *memory.Program) EnvOption {
	return func(env *ExecutorEnv) {
		env.faultChecker = program
	}
}
