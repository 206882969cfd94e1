package zkvm

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
)

// Receipt attests that a journal was produced by a faithful execution of the
// program identified by an image id. Receipts are produced by an external
// prover and only ever consumed read-only by the verifier.
type Receipt struct {
	// Inner is the polymorphic proof body.
	Inner InnerReceipt

	// Journal holds the public bytes committed by the guest. The receipt is
	// only meaningful once the journal has been checked against the output
	// digest inside Inner.
	Journal []byte
}

// InnerReceipt is one of the receipt kinds: Composite, Succinct, Groth16 or
// Fake. Verification logic dispatches on the concrete type.
type InnerReceipt interface {
	isInnerReceipt()
}

// CompositeReceipt proves a single continuation-spanning execution as an
// ordered chain of segment receipts, plus receipts for any assumptions the
// execution made.
type CompositeReceipt struct {
	// Segments are the per-segment proofs, in execution order.
	Segments []*SegmentReceipt

	// Assumptions are receipts for the sub-claims made during execution.
	// If any listed assumption is unresolved, this receipt is only
	// conditionally valid.
	Assumptions []InnerReceipt

	// JournalDigest is the digest of the journal in the final segment's
	// output. Nil when the continuation produced no output (e.g. Fault).
	JournalDigest *Digest
}

func (r *CompositeReceipt) isInnerReceipt() {}

// SuccinctReceipt proves the same claim as a composite receipt, folded into
// a single recursion seal.
type SuccinctReceipt struct {
	Seal      []uint32        `cbor:"seal"`
	ControlID Digest          `cbor:"control_id"`
	HashFn    string          `cbor:"hashfn"`
	Meta      ReceiptMetadata `cbor:"meta"`
}

func (r *SuccinctReceipt) isInnerReceipt() {}

// Groth16Receipt wraps a Groth16 proof over the BN254 curve attesting to the
// digest of its metadata.
type Groth16Receipt struct {
	Seal []byte          `cbor:"seal"`
	Meta ReceiptMetadata `cbor:"meta"`
}

func (r *Groth16Receipt) isInnerReceipt() {}

// FakeReceipt carries a bare claim with no proof at all. It fails
// verification unless the verifier context explicitly enables dev mode.
type FakeReceipt struct {
	Meta ReceiptMetadata `cbor:"meta"`
}

func (r *FakeReceipt) isInnerReceipt() {}

// SegmentReceipt attests that one segment was executed consistently with the
// metadata sealed inside it. The seal is opaque cryptographic data owned by
// the proof system; the index orders the receipt within its composite
// parent, and the hash function name selects the suite the seal was built
// with.
type SegmentReceipt struct {
	Seal   []uint32 `cbor:"seal"`
	Index  uint32   `cbor:"index"`
	HashFn string   `cbor:"hashfn"`
}

// SealBytes returns the seal as little-endian bytes, the persisted form.
func (r *SegmentReceipt) SealBytes() []byte {
	out := make([]byte, len(r.Seal)*4)
	for i, w := range r.Seal {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Encode serializes the receipt record for persistence.
func (r *SegmentReceipt) Encode() ([]byte, error) {
	return cbor.Marshal(r)
}

// DecodeSegmentReceipt deserializes a persisted segment receipt record.
func DecodeSegmentReceipt(data []byte) (*SegmentReceipt, error) {
	var r SegmentReceipt
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Assumption is a conditionally-resolved sub-claim: either already proven by
// a receipt, or left unresolved as a bare metadata digest pending later
// proof.
type Assumption struct {
	// Receipt proves the assumption when non-nil.
	Receipt *Receipt

	// MetadataDigest identifies the claim of an unresolved assumption.
	// Unused when Receipt is set.
	MetadataDigest Digest
}

// ProvenAssumption wraps a receipt as a resolved assumption.
func ProvenAssumption(receipt *Receipt) Assumption {
	return Assumption{Receipt: receipt}
}

// UnresolvedAssumption records a claim digest without proof.
func UnresolvedAssumption(metadataDigest Digest) Assumption {
	return Assumption{MetadataDigest: metadataDigest}
}

// Proven reports whether the assumption carries a proof.
func (a Assumption) Proven() bool {
	return a.Receipt != nil
}
