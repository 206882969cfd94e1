package memory

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/elcsa030/zero/model/zkvm"
	"github.com/elcsa030/zero/zkvm/platform"
)

// treeDepth is the height of the page merkle tree: the smallest power of two
// covering every page of the address space.
const treeDepth = 18

// pageDigestCacheSize bounds the per-image page digest cache.
const pageDigestCacheSize = 4096

// zeroDigests[k] is the digest of a fully-zero subtree of height k.
var zeroDigests = func() [treeDepth + 1]zkvm.Digest {
	var out [treeDepth + 1]zkvm.Digest
	out[0] = zkvm.HashBytes(make([]byte, platform.PageSize))
	for i := 1; i <= treeDepth; i++ {
		out[i] = hashNode(out[i-1], out[i-1])
	}
	return out
}()

func hashNode(left, right zkvm.Digest) zkvm.Digest {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out zkvm.Digest
	copy(out[:], h.Sum(nil))
	return out
}

// MemoryImage is an immutable paged snapshot of the guest address space,
// together with the program counter at which execution (re)starts. The
// merkle root over all pages plus the pc forms the image id.
//
// Images are immutable once constructed; the monitor produces fresh images
// at segment boundaries rather than mutating existing ones.
type MemoryImage struct {
	pc uint32

	// pages maps page index to page contents. Absent pages are all-zero.
	pages map[uint32][]byte

	// digests caches page digests so that unchanged pages are not
	// re-hashed at every segment boundary.
	digests *lru.Cache
}

// NewImage allocates a memory image for the given program, with the pc set
// to the program entry point.
func NewImage(program *Program) *MemoryImage {
	img := &MemoryImage{
		pc:      program.Entry,
		pages:   make(map[uint32][]byte),
		digests: newDigestCache(),
	}
	for addr, word := range program.Words {
		img.setWord(addr, word)
	}
	return img
}

func newDigestCache() *lru.Cache {
	cache, err := lru.New(pageDigestCacheSize)
	if err != nil {
		panic(err) // only fails for non-positive sizes
	}
	return cache
}

// setWord is only used during construction; images are immutable afterward.
func (img *MemoryImage) setWord(addr uint32, word uint32) {
	pageIdx := addr / platform.PageSize
	page, ok := img.pages[pageIdx]
	if !ok {
		page = make([]byte, platform.PageSize)
		img.pages[pageIdx] = page
	}
	off := addr % platform.PageSize
	page[off] = byte(word)
	page[off+1] = byte(word >> 8)
	page[off+2] = byte(word >> 16)
	page[off+3] = byte(word >> 24)
}

// Pc returns the program counter the image restarts at.
func (img *MemoryImage) Pc() uint32 {
	return img.pc
}

// Page returns the contents of the page with the given index, or nil if the
// page is all-zero. The returned slice must not be modified.
func (img *MemoryImage) Page(pageIdx uint32) []byte {
	return img.pages[pageIdx]
}

// WordAt reads the word at the given word-aligned address.
func (img *MemoryImage) WordAt(addr uint32) uint32 {
	page, ok := img.pages[addr/platform.PageSize]
	if !ok {
		return 0
	}
	off := addr % platform.PageSize
	return uint32(page[off]) | uint32(page[off+1])<<8 | uint32(page[off+2])<<16 | uint32(page[off+3])<<24
}

// overlay produces a new image with the given dirty pages replacing the
// originals and the pc updated. Clean pages and their cached digests are
// shared with the parent.
func (img *MemoryImage) overlay(pc uint32, dirty map[uint32][]byte) *MemoryImage {
	out := &MemoryImage{
		pc:      pc,
		pages:   make(map[uint32][]byte, len(img.pages)+len(dirty)),
		digests: newDigestCache(),
	}
	for idx, page := range img.pages {
		out.pages[idx] = page
	}
	for _, key := range img.digests.Keys() {
		if val, ok := img.digests.Peek(key); ok {
			out.digests.Add(key, val)
		}
	}
	for idx, page := range dirty {
		cp := make([]byte, platform.PageSize)
		copy(cp, page)
		out.pages[idx] = cp
		out.digests.Remove(idx)
	}
	return out
}

func (img *MemoryImage) pageDigest(pageIdx uint32) zkvm.Digest {
	if cached, ok := img.digests.Get(pageIdx); ok {
		return cached.(zkvm.Digest)
	}
	page, ok := img.pages[pageIdx]
	if !ok {
		return zeroDigests[0]
	}
	d := zkvm.HashBytes(page)
	img.digests.Add(pageIdx, d)
	return d
}

// MerkleRoot computes the merkle root over all pages of the address space.
// Empty subtrees use precomputed zero digests, so cost scales with the
// number of allocated pages.
func (img *MemoryImage) MerkleRoot() zkvm.Digest {
	idxs := make([]uint32, 0, len(img.pages))
	for idx := range img.pages {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return img.subtree(idxs, 0, treeDepth)
}

func (img *MemoryImage) subtree(idxs []uint32, base uint32, level int) zkvm.Digest {
	if len(idxs) == 0 {
		return zeroDigests[level]
	}
	if level == 0 {
		return img.pageDigest(base)
	}
	mid := base + uint32(1)<<(level-1)
	split := sort.Search(len(idxs), func(i int) bool { return idxs[i] >= mid })
	left := img.subtree(idxs[:split], base, level-1)
	right := img.subtree(idxs[split:], mid, level-1)
	return hashNode(left, right)
}

// imageRecord is the persisted form of a memory image. Digest caches are
// rebuilt on load.
type imageRecord struct {
	Pc    uint32            `cbor:"pc"`
	Pages map[uint32][]byte `cbor:"pages"`
}

// encMode sorts map keys so that identical images always serialize to
// identical bytes.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// MarshalCBOR implements cbor.Marshaler.
func (img *MemoryImage) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(imageRecord{Pc: img.pc, Pages: img.pages})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (img *MemoryImage) UnmarshalCBOR(data []byte) error {
	var rec imageRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.Pages == nil {
		rec.Pages = make(map[uint32][]byte)
	}
	for idx, page := range rec.Pages {
		if len(page) != platform.PageSize {
			return fmt.Errorf("page %d has %d bytes, want %d", idx, len(page), platform.PageSize)
		}
	}
	img.pc = rec.Pc
	img.pages = rec.Pages
	img.digests = newDigestCache()
	return nil
}

// SystemState returns the pc plus merkle root snapshot for this image.
func (img *MemoryImage) SystemState() zkvm.SystemState {
	return zkvm.SystemState{Pc: img.pc, MerkleRoot: img.MerkleRoot()}
}

// ID computes the image id: the digest of the image's system state.
func (img *MemoryImage) ID() zkvm.Digest {
	return img.SystemState().Digest()
}
