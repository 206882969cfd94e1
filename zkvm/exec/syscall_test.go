package exec

import (
	"bytes"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/platform"
)

func syscallMonitor(t *testing.T) *memory.MemoryMonitor {
	program, err := memory.NewProgram(0x1000, map[uint32]uint32{0x1000: 0x13})
	require.NoError(t, err)
	return memory.NewMonitor(memory.NewImage(program), false)
}

func TestSysRead(t *testing.T) {
	m := syscallMonitor(t)
	m.StoreRegister(platform.RegA3, platform.FdStdin)
	m.StoreRegister(platform.RegA4, 5)
	m.Commit()

	handler := &sysRead{fds: map[uint32]io.Reader{
		platform.FdStdin: bytes.NewReader([]byte("hello world")),
	}}

	toGuest, ret0, ret1, err := handler.Syscall(platform.SysRead, m, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), toGuest)
	assert.Equal(t, uint32(5), ret0)
	assert.Equal(t, uint32(0), ret1)
}

func TestSysReadEOF(t *testing.T) {
	m := syscallMonitor(t)
	m.StoreRegister(platform.RegA3, platform.FdStdin)
	m.StoreRegister(platform.RegA4, 8)
	m.Commit()

	handler := &sysRead{fds: map[uint32]io.Reader{
		platform.FdStdin: bytes.NewReader([]byte("abc")),
	}}

	toGuest, ret0, _, err := handler.Syscall(platform.SysRead, m, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), toGuest)
	assert.Equal(t, uint32(3), ret0)
}

func TestSysReadUnboundFd(t *testing.T) {
	m := syscallMonitor(t)
	m.StoreRegister(platform.RegA3, 42)
	m.Commit()

	handler := &sysRead{fds: map[uint32]io.Reader{}}
	_, _, _, err := handler.Syscall(platform.SysRead, m, 2)
	assert.Error(t, err)
}

func TestSysWrite(t *testing.T) {
	m := syscallMonitor(t)
	require.NoError(t, m.StoreGuestRegion(0x2000, []byte("journal entry")))
	m.StoreRegister(platform.RegA3, platform.FdJournal)
	m.StoreRegister(platform.RegA4, 0x2000)
	m.StoreRegister(platform.RegA5, 13)
	m.Commit()

	var sink bytes.Buffer
	handler := &sysWrite{fds: map[uint32]io.Writer{platform.FdJournal: &sink}}

	_, ret0, _, err := handler.Syscall(platform.SysWrite, m, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(13), ret0)
	assert.Equal(t, "journal entry", sink.String())
}

func TestSysGetenv(t *testing.T) {
	m := syscallMonitor(t)
	require.NoError(t, m.StoreGuestRegion(0x2000, []byte("RUST_LOG")))
	m.StoreRegister(platform.RegA3, 0x2000)
	m.StoreRegister(platform.RegA4, 8)
	m.Commit()

	handler := &sysGetenv{vars: map[string]string{"RUST_LOG": "debug"}}

	toGuest, ret0, _, err := handler.Syscall(platform.SysGetenv, m, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("debug"), toGuest)
	assert.Equal(t, uint32(5), ret0)
}

func TestSysGetenvUnset(t *testing.T) {
	m := syscallMonitor(t)
	require.NoError(t, m.StoreGuestRegion(0x2000, []byte("MISSING")))
	m.StoreRegister(platform.RegA3, 0x2000)
	m.StoreRegister(platform.RegA4, 7)
	m.Commit()

	handler := &sysGetenv{vars: map[string]string{}}

	toGuest, ret0, _, err := handler.Syscall(platform.SysGetenv, m, 4)
	require.NoError(t, err)
	assert.Nil(t, toGuest)
	assert.Equal(t, ^uint32(0), ret0)
}

func TestSysRandom(t *testing.T) {
	m := syscallMonitor(t)

	handler := &sysRandom{}
	toGuest, _, _, err := handler.Syscall(platform.SysRandom, m, 4)
	require.NoError(t, err)
	assert.Len(t, toGuest, 16)
}

func TestSyscallTableOverride(t *testing.T) {
	env := NewEnv(WithSyscall(platform.SysRandom, SyscallFn(
		func(name string, m *memory.MemoryMonitor, nWords uint32) ([]byte, uint32, uint32, error) {
			return []byte{4, 4, 4, 4}, 4, 0, nil
		},
	)))
	table := newSyscallTable(env, io.Discard, zerolog.Nop())

	m := syscallMonitor(t)
	toGuest, ret0, _, err := table.dispatch(platform.SysRandom, m, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 4, 4, 4}, toGuest)
	assert.Equal(t, uint32(4), ret0)

	_, _, _, err = table.dispatch("sys_unknown", m, 0)
	assert.Error(t, err)
}
