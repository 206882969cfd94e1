package exec

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

var shaInitState = [8]uint32{
	0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
	0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
}

func TestCompress256SingleBlock(t *testing.T) {
	// "abc" with FIPS 180-4 padding fits one block.
	var padded [64]byte
	copy(padded[:], "abc")
	padded[3] = 0x80
	padded[63] = 24 // bit length

	var block [16]uint32
	for i := range block {
		block[i] = binary.BigEndian.Uint32(padded[i*4:])
	}

	state := shaInitState
	compress256(&state, &block)

	expected := sha256.Sum256([]byte("abc"))
	for i, word := range state {
		assert.Equal(t, binary.BigEndian.Uint32(expected[i*4:]), word)
	}
}

func TestCompress256MultiBlock(t *testing.T) {
	// 100 bytes of data spans two padded blocks.
	msg := make([]byte, 100)
	for i := range msg {
		msg[i] = byte(i)
	}

	padded := make([]byte, 128)
	copy(padded, msg)
	padded[100] = 0x80
	binary.BigEndian.PutUint64(padded[120:], uint64(len(msg))*8)

	state := shaInitState
	for b := 0; b < 2; b++ {
		var block [16]uint32
		for i := range block {
			block[i] = binary.BigEndian.Uint32(padded[b*64+i*4:])
		}
		compress256(&state, &block)
	}

	expected := sha256.Sum256(msg)
	for i, word := range state {
		assert.Equal(t, binary.BigEndian.Uint32(expected[i*4:]), word)
	}
}
