package zkvm

// SystemState is a snapshot of the execution position of the machine: the
// program counter together with the merkle root of the memory image at that
// point. Its digest is the image id used to chain segments and to identify
// programs to the verifier.
type SystemState struct {
	Pc         uint32 `cbor:"pc"`
	MerkleRoot Digest `cbor:"merkle_root"`
}

// Digest returns the image id for this state.
func (s SystemState) Digest() Digest {
	return TaggedStruct("zero.SystemState", []Digest{s.MerkleRoot}, []uint32{s.Pc})
}
