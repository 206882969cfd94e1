package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/platform"
)

func testProgram(t *testing.T, entry uint32, words map[uint32]uint32) *memory.Program {
	program, err := memory.NewProgram(entry, words)
	require.NoError(t, err)
	return program
}

func TestImageDeterministicID(t *testing.T) {
	words := map[uint32]uint32{
		0x1000: 0xdeadbeef,
		0x1004: 0x00000013,
		0x8000: 0x12345678,
	}
	img1 := memory.NewImage(testProgram(t, 0x1000, words))
	img2 := memory.NewImage(testProgram(t, 0x1000, words))

	assert.Equal(t, img1.MerkleRoot(), img2.MerkleRoot())
	assert.Equal(t, img1.ID(), img2.ID())
}

func TestImageIDCommitsToPc(t *testing.T) {
	words := map[uint32]uint32{0x1000: 0x00000013}
	img1 := memory.NewImage(testProgram(t, 0x1000, words))
	img2 := memory.NewImage(testProgram(t, 0x2000, map[uint32]uint32{0x1000: 0x00000013, 0x2000: 0x00000013}))

	// Same kind of content, different restart pc: distinct image ids.
	assert.NotEqual(t, img1.ID(), img2.ID())
}

func TestImageIDCommitsToMemory(t *testing.T) {
	img1 := memory.NewImage(testProgram(t, 0x1000, map[uint32]uint32{0x1000: 1}))
	img2 := memory.NewImage(testProgram(t, 0x1000, map[uint32]uint32{0x1000: 2}))

	assert.NotEqual(t, img1.MerkleRoot(), img2.MerkleRoot())
}

func TestImageWordAt(t *testing.T) {
	img := memory.NewImage(testProgram(t, 0x1000, map[uint32]uint32{0x1000: 0xcafebabe}))

	assert.Equal(t, uint32(0xcafebabe), img.WordAt(0x1000))
	assert.Equal(t, uint32(0), img.WordAt(0x1004))
	assert.Equal(t, uint32(0), img.WordAt(0x00400000))
}

func TestImagePage(t *testing.T) {
	img := memory.NewImage(testProgram(t, 0x1000, map[uint32]uint32{0x1000: 0xff}))

	page := img.Page(0x1000 / platform.PageSize)
	require.NotNil(t, page)
	assert.Len(t, page, platform.PageSize)
	assert.Nil(t, img.Page(0))
}

func TestImageCBORRoundTrip(t *testing.T) {
	img := memory.NewImage(testProgram(t, 0x1000, map[uint32]uint32{
		0x1000: 0xdeadbeef,
		0x9ffc: 0x12345678,
	}))

	data, err := img.MarshalCBOR()
	require.NoError(t, err)

	// Deterministic bytes regardless of map iteration order.
	again, err := img.MarshalCBOR()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	var decoded memory.MemoryImage
	require.NoError(t, decoded.UnmarshalCBOR(data))
	assert.Equal(t, img.Pc(), decoded.Pc())
	assert.Equal(t, img.ID(), decoded.ID())
	assert.Equal(t, uint32(0xdeadbeef), decoded.WordAt(0x1000))
}
