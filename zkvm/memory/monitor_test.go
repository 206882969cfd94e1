package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/platform"
)

func testMonitor(t *testing.T) *memory.MemoryMonitor {
	img := memory.NewImage(testProgram(t, 0x1000, map[uint32]uint32{0x1000: 0xcafebabe}))
	return memory.NewMonitor(img, false)
}

func TestMonitorLoadStoreCommit(t *testing.T) {
	m := testMonitor(t)

	val, err := m.LoadU32(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xcafebabe), val)

	require.NoError(t, m.StoreU32(0x2000, 42))

	// Uncommitted writes are already visible to loads.
	val, err = m.LoadU32(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), val)

	m.Commit()
	val, err = m.LoadU32(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), val)
}

func TestMonitorUndo(t *testing.T) {
	m := testMonitor(t)
	before := m.BuildImage(0x1000).ID()

	require.NoError(t, m.StoreU32(0x2000, 42))
	m.Undo()

	val, err := m.LoadU32(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), val)
	assert.Equal(t, before, m.BuildImage(0x1000).ID())
}

func TestMonitorRegisterZeroHardwired(t *testing.T) {
	m := testMonitor(t)

	m.StoreRegister(0, 99)
	m.Commit()
	assert.Equal(t, uint32(0), m.LoadRegister(0))

	m.StoreRegister(5, 77)
	m.Commit()
	assert.Equal(t, uint32(77), m.LoadRegister(5))
}

func TestMonitorPageCharging(t *testing.T) {
	m := testMonitor(t)

	// First touch of a page charges one page-in.
	_, err := m.LoadU32(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint64(platform.PageCycles), m.PageReadCycles())

	// Second touch of the same page is free.
	_, err = m.LoadU32(0x2004)
	require.NoError(t, err)
	assert.Equal(t, uint64(platform.PageCycles), m.PageReadCycles())

	// A dirty page is paged in and out.
	require.NoError(t, m.StoreU32(0x3000, 1))
	assert.Equal(t, uint64(2*platform.PageCycles), m.PageReadCycles())
	assert.Equal(t, uint64(platform.PageCycles), m.PageWriteCycles())
}

func TestMonitorAddressFaults(t *testing.T) {
	m := testMonitor(t)

	_, err := m.LoadU32(0x1001)
	assert.ErrorIs(t, err, memory.ErrAddressFault)

	_, err = m.LoadU32(platform.MemEnd)
	assert.ErrorIs(t, err, memory.ErrAddressFault)

	err = m.StoreU32(platform.MemEnd+4, 1)
	assert.ErrorIs(t, err, memory.ErrAddressFault)

	// Guest pointers may not reach the register file.
	_, err = m.LoadGuestU32(platform.RegisterBase)
	assert.ErrorIs(t, err, memory.ErrAddressFault)

	err = m.StoreGuestU32(0, 1)
	assert.ErrorIs(t, err, memory.ErrAddressFault)
}

func TestMonitorGuestRegions(t *testing.T) {
	m := testMonitor(t)

	payload := []byte("hello, guest")
	require.NoError(t, m.StoreGuestRegion(0x2001, payload))
	m.Commit()

	got, err := m.LoadGuestRegion(0x2001, uint32(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Unwritten neighbors are untouched by the read-modify-write.
	word, err := m.LoadU32(0x2000)
	require.NoError(t, err)
	assert.Equal(t, byte(0), byte(word))
}

func TestMonitorGuestString(t *testing.T) {
	m := testMonitor(t)

	require.NoError(t, m.StoreGuestRegion(0x2000, []byte("sys_read\x00")))
	m.Commit()

	s, err := m.LoadGuestString(0x2000)
	require.NoError(t, err)
	assert.Equal(t, "sys_read", s)
}

func TestMonitorBuildImageExcludesPending(t *testing.T) {
	m := testMonitor(t)

	require.NoError(t, m.StoreU32(0x2000, 42))
	assert.Equal(t, uint32(0), m.BuildImage(0x1000).WordAt(0x2000))

	m.Commit()
	assert.Equal(t, uint32(42), m.BuildImage(0x1000).WordAt(0x2000))
}

func TestMonitorPageFaultsSorted(t *testing.T) {
	m := testMonitor(t)

	_, err := m.LoadU32(0x5000)
	require.NoError(t, err)
	_, err = m.LoadU32(0x2000)
	require.NoError(t, err)
	require.NoError(t, m.StoreU32(0x3000, 1))
	m.Commit()

	faults := m.TakePageFaults()
	assert.Equal(t, []uint32{0x2000 / platform.PageSize, 0x3000 / platform.PageSize, 0x5000 / platform.PageSize}, faults.Reads)
	assert.Equal(t, []uint32{0x3000 / platform.PageSize}, faults.Writes)
}

func TestMonitorClearSegmentKeepsMemory(t *testing.T) {
	m := testMonitor(t)

	require.NoError(t, m.StoreU32(0x2000, 42))
	m.Commit()
	m.ClearSegment()

	assert.Equal(t, uint64(0), m.PageReadCycles())
	assert.Equal(t, uint64(0), m.PageWriteCycles())

	val, err := m.LoadU32(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), val)

	// The page is charged afresh in the new segment.
	assert.Equal(t, uint64(platform.PageCycles), m.PageReadCycles())
}
