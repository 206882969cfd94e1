package exec

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/platform"
)

// syscallTable dispatches software syscalls by name: the built-in handlers,
// with any environment-registered handlers layered on top.
type syscallTable struct {
	handlers map[string]SyscallHandler
}

func newSyscallTable(env *ExecutorEnv, journal io.Writer, log zerolog.Logger) *syscallTable {
	writeFds := make(map[uint32]io.Writer, len(env.writeFds)+1)
	for fd, w := range env.writeFds {
		writeFds[fd] = w
	}
	// The journal descriptor is owned by the executor. A user-supplied
	// binding observes journal bytes but never replaces the commitment.
	if user, ok := writeFds[platform.FdJournal]; ok {
		writeFds[platform.FdJournal] = io.MultiWriter(journal, user)
	} else {
		writeFds[platform.FdJournal] = journal
	}

	table := &syscallTable{handlers: map[string]SyscallHandler{
		platform.SysRead:   &sysRead{fds: env.readFds},
		platform.SysWrite:  &sysWrite{fds: writeFds},
		platform.SysGetenv: &sysGetenv{vars: env.envVars},
		platform.SysRandom: &sysRandom{},
		platform.SysLog:    &sysLog{log: log},
	}}
	for name, handler := range env.syscalls {
		table.handlers[name] = handler
	}
	return table
}

func (t *syscallTable) dispatch(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error) {
	handler, ok := t.handlers[name]
	if !ok {
		return nil, 0, 0, fmt.Errorf("no handler registered for syscall %q", name)
	}
	return handler.Syscall(name, m, nWords)
}

// sysRead reads up to a4 bytes from the descriptor in a3 into the guest's
// return buffer. a0 carries the number of bytes read; zero means EOF.
type sysRead struct {
	fds map[uint32]io.Reader
}

func (s *sysRead) Syscall(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error) {
	fd := m.LoadRegister(platform.RegA3)
	nBytes := m.LoadRegister(platform.RegA4)

	r, ok := s.fds[fd]
	if !ok {
		return nil, 0, 0, fmt.Errorf("read from unbound fd %d", fd)
	}
	if uint64(nBytes) > uint64(nWords)*platform.WordSize {
		return nil, 0, 0, fmt.Errorf("read of %d bytes exceeds %d-word buffer", nBytes, nWords)
	}

	buf := make([]byte, nBytes)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, 0, 0, fmt.Errorf("read from fd %d: %w", fd, err)
	}
	return buf[:n], uint32(n), 0, nil
}

// sysWrite copies the guest region (a4, a5) to the descriptor in a3.
type sysWrite struct {
	fds map[uint32]io.Writer
}

func (s *sysWrite) Syscall(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error) {
	fd := m.LoadRegister(platform.RegA3)
	ptr := m.LoadRegister(platform.RegA4)
	length := m.LoadRegister(platform.RegA5)

	w, ok := s.fds[fd]
	if !ok {
		return nil, 0, 0, fmt.Errorf("write to unbound fd %d", fd)
	}
	data, err := m.LoadGuestRegion(ptr, length)
	if err != nil {
		return nil, 0, 0, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, 0, 0, fmt.Errorf("write to fd %d: %w", fd, err)
	}
	return nil, length, 0, nil
}

// sysGetenv looks up the variable named by the guest region (a3, a4). The
// value bytes fill the return buffer and a0 carries the value length, or the
// all-ones word when the variable is unset.
type sysGetenv struct {
	vars map[string]string
}

func (s *sysGetenv) Syscall(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error) {
	ptr := m.LoadRegister(platform.RegA3)
	length := m.LoadRegister(platform.RegA4)

	varName, err := m.LoadGuestRegion(ptr, length)
	if err != nil {
		return nil, 0, 0, err
	}
	val, ok := s.vars[string(varName)]
	if !ok {
		return nil, ^uint32(0), 0, nil
	}
	if uint64(len(val)) > uint64(nWords)*platform.WordSize {
		return nil, 0, 0, fmt.Errorf("value for %q exceeds %d-word buffer", varName, nWords)
	}
	return []byte(val), uint32(len(val)), 0, nil
}

// sysRandom fills the return buffer with host entropy.
type sysRandom struct{}

func (s *sysRandom) Syscall(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error) {
	buf := make([]byte, nWords*platform.WordSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, 0, 0, fmt.Errorf("gather entropy: %w", err)
	}
	return buf, 0, 0, nil
}

// sysLog forwards the guest message in region (a3, a4) to the host log.
type sysLog struct {
	log zerolog.Logger
}

func (s *sysLog) Syscall(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error) {
	ptr := m.LoadRegister(platform.RegA3)
	length := m.LoadRegister(platform.RegA4)

	msg, err := m.LoadGuestRegion(ptr, length)
	if err != nil {
		return nil, 0, 0, err
	}
	s.log.Info().Str("guest_msg", string(msg)).Msg("guest log")
	return nil, 0, 0, nil
}
