package unittest

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/elcsa030/zero/model/zkvm"
	"github.com/elcsa030/zero/zkvm/exec"
	"github.com/elcsa030/zero/zkvm/platform"
	"github.com/elcsa030/zero/zkvm/verify"
)

// FakeHashFn is the hash suite name the fake proving suite seals under.
const FakeHashFn = "sha-256"

// ControlID derives the fixture control id for one circuit shape and size.
func ControlID(hashFn string, po2 uint32) zkvm.Digest {
	return zkvm.TaggedStruct("zero.ControlID", []zkvm.Digest{zkvm.HashBytes([]byte(hashFn))}, []uint32{po2})
}

// ControlRegistryFixture returns a registry trusting every legal segment
// size under the given hash suites.
func ControlRegistryFixture(hashFns ...string) *verify.ControlRegistry {
	registry := verify.NewControlRegistry()
	for _, hashFn := range hashFns {
		for po2 := uint32(platform.MinCyclesPo2); po2 <= platform.MaxCyclesPo2; po2++ {
			registry.Register(hashFn, ControlID(hashFn, po2))
		}
	}
	return registry
}

// Fake seal layout, in words:
//
//	0         po2
//	1..2      exit code pair (system, user)
//	3         output present flag
//	4..11     pre merkle root
//	12        pre pc
//	13..20    post merkle root
//	21        post pc
//	22..29    input digest
//	30..37    journal digest (zero when output absent)
//	38..45    assumptions digest (zero when output absent)
//	46..53    checksum over words 0..45
const (
	fakeSealWords     = 54
	fakeChecksumStart = 46
)

// FakeProver builds receipts whose seals are plain encodings of the claimed
// metadata protected by a checksum. FakeSealSuite decodes and re-checks
// them, standing in for the proof-system oracle in tests.
type FakeProver struct {
	hashFn string
}

func NewFakeProver() *FakeProver {
	return &FakeProver{hashFn: FakeHashFn}
}

// ProveSegment seals one segment's claim. The journal and assumption
// digests are only committed into the final, output-carrying segment.
func (p *FakeProver) ProveSegment(segment *exec.Segment, journal []byte, assumptions []zkvm.Digest) (*zkvm.SegmentReceipt, error) {
	meta := SegmentMetadata(segment, journal, assumptions)
	seal, err := encodeFakeSeal(meta, segment.Po2)
	if err != nil {
		return nil, err
	}
	return &zkvm.SegmentReceipt{
		Seal:   seal,
		Index:  segment.Index,
		HashFn: p.hashFn,
	}, nil
}

// ProveSession seals every segment of a session into a composite receipt.
func (p *FakeProver) ProveSession(session *exec.Session) (*zkvm.Receipt, error) {
	composite := &zkvm.CompositeReceipt{}
	for _, segment := range session.Segments {
		receipt, err := p.ProveSegment(segment, session.Journal, nil)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", segment.Index, err)
		}
		composite.Segments = append(composite.Segments, receipt)
	}
	if session.ExitCode.ExpectsOutput() {
		digest := zkvm.HashBytes(session.Journal)
		composite.JournalDigest = &digest
	}
	return &zkvm.Receipt{Inner: composite, Journal: session.Journal}, nil
}

// ProveConditionalSession seals a session whose execution relied on the
// given assumptions: the final segment's output commits to their claim
// digests, and the receipts of the proven ones ride along for the verifier
// to resolve.
func (p *FakeProver) ProveConditionalSession(
	session *exec.Session,
	assumptions []zkvm.Assumption,
) (*zkvm.Receipt, error) {

	composite := &zkvm.CompositeReceipt{}
	digests := make([]zkvm.Digest, 0, len(assumptions))
	for i, assumption := range assumptions {
		if !assumption.Proven() {
			digests = append(digests, assumption.MetadataDigest)
			continue
		}
		digest, err := claimDigest(assumption.Receipt.Inner)
		if err != nil {
			return nil, fmt.Errorf("assumption %d: %w", i, err)
		}
		digests = append(digests, digest)
		composite.Assumptions = append(composite.Assumptions, assumption.Receipt.Inner)
	}

	for _, segment := range session.Segments {
		receipt, err := p.ProveSegment(segment, session.Journal, digests)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", segment.Index, err)
		}
		composite.Segments = append(composite.Segments, receipt)
	}
	if session.ExitCode.ExpectsOutput() {
		digest := zkvm.HashBytes(session.Journal)
		composite.JournalDigest = &digest
	}
	return &zkvm.Receipt{Inner: composite, Journal: session.Journal}, nil
}

// claimDigest extracts the metadata digest an inner receipt attests to.
func claimDigest(inner zkvm.InnerReceipt) (zkvm.Digest, error) {
	switch r := inner.(type) {
	case *zkvm.SuccinctReceipt:
		return r.Meta.Digest()
	case *zkvm.Groth16Receipt:
		return r.Meta.Digest()
	case *zkvm.FakeReceipt:
		return r.Meta.Digest()
	default:
		return zkvm.ZeroDigest, fmt.Errorf("no claim digest for a %T assumption", inner)
	}
}

// SealedSegmentReceipt seals arbitrary metadata, letting tests craft chains
// that no honest prover would produce.
func SealedSegmentReceipt(meta *zkvm.ReceiptMetadata, po2 uint32, index uint32, hashFn string) (*zkvm.SegmentReceipt, error) {
	seal, err := encodeFakeSeal(meta, po2)
	if err != nil {
		return nil, err
	}
	return &zkvm.SegmentReceipt{Seal: seal, Index: index, HashFn: hashFn}, nil
}

// SegmentMetadata derives the claim a faithful prover would attest to for
// the given segment.
func SegmentMetadata(segment *exec.Segment, journal []byte, assumptions []zkvm.Digest) *zkvm.ReceiptMetadata {
	meta := &zkvm.ReceiptMetadata{
		Pre:      segment.PreImage.SystemState(),
		Post:     segment.PostState,
		ExitCode: segment.ExitCode,
		Input:    segment.InputDigest,
	}
	if segment.ExitCode.ExpectsOutput() {
		meta.Output = &zkvm.Output{
			JournalDigest:     zkvm.HashBytes(journal),
			AssumptionsDigest: zkvm.AssumptionsDigest(assumptions),
		}
	}
	return meta
}

func encodeFakeSeal(meta *zkvm.ReceiptMetadata, po2 uint32) ([]uint32, error) {
	sys, user, err := meta.ExitCode.Pair()
	if err != nil {
		return nil, err
	}

	seal := make([]uint32, fakeSealWords)
	seal[0] = po2
	seal[1] = sys
	seal[2] = user
	copy(seal[4:12], digestWords(meta.Pre.MerkleRoot))
	seal[12] = meta.Pre.Pc
	copy(seal[13:21], digestWords(meta.Post.MerkleRoot))
	seal[21] = meta.Post.Pc
	copy(seal[22:30], digestWords(meta.Input))
	if meta.Output != nil {
		seal[3] = 1
		copy(seal[30:38], digestWords(meta.Output.JournalDigest))
		copy(seal[38:46], digestWords(meta.Output.AssumptionsDigest))
	}
	copy(seal[fakeChecksumStart:], digestWords(sealChecksum(seal[:fakeChecksumStart])))
	return seal, nil
}

func sealChecksum(words []uint32) zkvm.Digest {
	buf := make([]byte, len(words)*platform.WordSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*platform.WordSize:], w)
	}
	return zkvm.Digest(sha256.Sum256(buf))
}

func digestWords(d zkvm.Digest) []uint32 {
	out := make([]uint32, platform.DigestWords)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(d[i*platform.WordSize:])
	}
	return out
}

func wordsDigest(words []uint32) zkvm.Digest {
	var d zkvm.Digest
	for i, w := range words {
		binary.LittleEndian.PutUint32(d[i*platform.WordSize:], w)
	}
	return d
}

// FakeSealSuite implements the proof-system oracle over fake seals.
type FakeSealSuite struct{}

func (s FakeSealSuite) VerifySegmentSeal(seal []uint32, hashFn string) (*zkvm.ReceiptMetadata, zkvm.Digest, uint32, error) {
	if len(seal) != fakeSealWords {
		return nil, zkvm.ZeroDigest, 0, fmt.Errorf("seal is %d words, want %d: %w",
			len(seal), fakeSealWords, zkvm.ErrInvalidProof)
	}
	if sealChecksum(seal[:fakeChecksumStart]) != wordsDigest(seal[fakeChecksumStart:]) {
		return nil, zkvm.ZeroDigest, 0, fmt.Errorf("seal checksum mismatch: %w", zkvm.ErrInvalidProof)
	}

	po2 := seal[0]
	exitCode, err := zkvm.ExitCodeFromPair(seal[1], seal[2])
	if err != nil {
		return nil, zkvm.ZeroDigest, 0, fmt.Errorf("%s: %w", err, zkvm.ErrInvalidProof)
	}

	meta := &zkvm.ReceiptMetadata{
		Pre:      zkvm.SystemState{Pc: seal[12], MerkleRoot: wordsDigest(seal[4:12])},
		Post:     zkvm.SystemState{Pc: seal[21], MerkleRoot: wordsDigest(seal[13:21])},
		ExitCode: exitCode,
		Input:    wordsDigest(seal[22:30]),
	}
	if seal[3] != 0 {
		meta.Output = &zkvm.Output{
			JournalDigest:     wordsDigest(seal[30:38]),
			AssumptionsDigest: wordsDigest(seal[38:46]),
		}
	}
	return meta, ControlID(hashFn, po2), po2, nil
}

func (s FakeSealSuite) VerifyRecursionSeal(seal []uint32, hashFn string, metaDigest zkvm.Digest) (zkvm.Digest, uint32, error) {
	// layout: 8 words claim digest, 1 word po2, 8 words checksum.
	if len(seal) != platform.DigestWords+1+platform.DigestWords {
		return zkvm.ZeroDigest, 0, fmt.Errorf("recursion seal is %d words: %w", len(seal), zkvm.ErrInvalidProof)
	}
	if sealChecksum(seal[:9]) != wordsDigest(seal[9:]) {
		return zkvm.ZeroDigest, 0, fmt.Errorf("recursion seal checksum mismatch: %w", zkvm.ErrInvalidProof)
	}
	if wordsDigest(seal[:8]) != metaDigest {
		return zkvm.ZeroDigest, 0, fmt.Errorf("recursion seal attests a different claim: %w", zkvm.ErrInvalidProof)
	}
	po2 := seal[8]
	return ControlID(hashFn, po2), po2, nil
}

// SuccinctReceiptFixture folds a claim into a fake recursion seal.
func SuccinctReceiptFixture(meta *zkvm.ReceiptMetadata, po2 uint32) (*zkvm.SuccinctReceipt, error) {
	metaDigest, err := meta.Digest()
	if err != nil {
		return nil, err
	}
	seal := make([]uint32, 9)
	copy(seal, digestWords(metaDigest))
	seal[8] = po2
	seal = append(seal, digestWords(sealChecksum(seal))...)
	return &zkvm.SuccinctReceipt{
		Seal:      seal,
		ControlID: ControlID(FakeHashFn, po2),
		HashFn:    FakeHashFn,
		Meta:      *meta,
	}, nil
}

// VerifierContextFixture wires the fake oracle into a verification context.
func VerifierContextFixture(devMode bool) *verify.Context {
	return &verify.Context{
		Seals:    FakeSealSuite{},
		Registry: ControlRegistryFixture(FakeHashFn),
		DevMode:  devMode,
	}
}
