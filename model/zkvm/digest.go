package zkvm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/elcsa030/zero/zkvm/platform"
)

// Digest is an opaque fixed-size cryptographic hash value. Digests identify
// memory images, merkle roots, and trusted circuit shapes (control ids).
type Digest [platform.DigestBytes]byte

// ZeroDigest is the all-zero digest, used as the digest of an absent value.
var ZeroDigest = Digest{}

// HashBytes returns the SHA-256 digest of data.
func HashBytes(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// DigestFromBytes converts a byte slice to a Digest.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != len(d) {
		return ZeroDigest, fmt.Errorf("invalid digest length: got %d, expected %d", len(b), len(d))
	}
	copy(d[:], b)
	return d, nil
}

// MustDigestFromHex converts a hex string to a Digest, panicking on malformed
// input. Intended for static control-id tables.
func MustDigestFromHex(s string) Digest {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid digest hex %q: %s", s, err))
	}
	d, err := DigestFromBytes(b)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

// TaggedStruct computes the digest of a structure in the tagged-hash scheme:
// SHA-256 over the digest of the tag, followed by the member digests, the
// member words (little-endian), and a trailing count of member digests. The
// tag binds the hash to one structure type so digests of distinct types can
// never collide.
func TaggedStruct(tag string, digests []Digest, words []uint32) Digest {
	tagDigest := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagDigest[:])
	for _, d := range digests {
		h.Write(d[:])
	}
	var buf [4]byte
	for _, w := range words {
		binary.LittleEndian.PutUint32(buf[:], w)
		h.Write(buf[:])
	}
	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(digests)))
	h.Write(count[:])

	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// TaggedList computes the digest of an ordered list of digests by folding
// right-to-left with a tagged cons cell. The empty list hashes to the zero
// digest.
func TaggedList(tag string, items []Digest) Digest {
	cur := ZeroDigest
	for i := len(items) - 1; i >= 0; i-- {
		cur = TaggedStruct(tag, []Digest{items[i], cur}, nil)
	}
	return cur
}
