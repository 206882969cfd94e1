package zkvm

// Output is the public commitment produced by a terminated execution: the
// digest of the journal the guest wrote, and the digest of the list of
// assumptions the execution made.
type Output struct {
	JournalDigest     Digest `cbor:"journal_digest"`
	AssumptionsDigest Digest `cbor:"assumptions_digest"`
}

// Digest returns the commitment digest of the output.
func (o *Output) Digest() Digest {
	if o == nil {
		return ZeroDigest
	}
	return TaggedStruct("zero.Output", []Digest{o.JournalDigest, o.AssumptionsDigest}, nil)
}

// ReceiptMetadata is the public claim a segment's seal attests to: the pre
// and post execution states, the exit code, and the input and output
// commitments. A verified receipt proves exactly this structure and nothing
// else.
type ReceiptMetadata struct {
	Pre      SystemState `cbor:"pre"`
	Post     SystemState `cbor:"post"`
	ExitCode ExitCode    `cbor:"exit_code"`
	Input    Digest      `cbor:"input"`

	// Output is nil for segments that ended in SystemSplit or Fault.
	Output *Output `cbor:"output"`
}

// Digest returns the commitment digest of the metadata, used to identify
// assumptions and to bind Groth16 and succinct seals to their claim.
func (m *ReceiptMetadata) Digest() (Digest, error) {
	sys, user, err := m.ExitCode.Pair()
	if err != nil {
		return ZeroDigest, err
	}
	return TaggedStruct(
		"zero.ReceiptMetadata",
		[]Digest{m.Input, m.Pre.Digest(), m.Post.Digest(), m.Output.Digest()},
		[]uint32{sys, user},
	), nil
}

// AssumptionsDigest folds an ordered list of assumption metadata digests
// into a single commitment.
func AssumptionsDigest(metadataDigests []Digest) Digest {
	return TaggedList("zero.Assumptions", metadataDigests)
}
