// Package verify implements the receipt chain-verification protocol: it
// validates externally produced receipts against chain continuity, exit
// code legality, and output digest consistency, recursively resolving
// nested assumptions. The cryptographic seal check itself is an external
// oracle consumed through the SealVerifier interface.
package verify

import (
	"fmt"

	"github.com/elcsa030/zero/model/zkvm"
)

// SealVerifier is the proof-system oracle. Implementations check a seal
// against a circuit description and decode the public claim it attests to;
// they do not enforce any cross-seal invariant.
type SealVerifier interface {
	// VerifySegmentSeal checks one segment seal under the named hash suite,
	// returning the attested metadata together with the control id and
	// padded size exponent the seal was built for. A malformed or forged
	// seal fails with zkvm.ErrInvalidProof.
	VerifySegmentSeal(seal []uint32, hashFn string) (*zkvm.ReceiptMetadata, zkvm.Digest, uint32, error)

	// VerifyRecursionSeal checks a succinct recursion seal against the
	// digest of the claim it folds, returning the control id and padded
	// size exponent it was built for.
	VerifyRecursionSeal(seal []uint32, hashFn string, metaDigest zkvm.Digest) (zkvm.Digest, uint32, error)
}

// Groth16Verifier checks a Groth16 proof over the BN254 curve against the
// digest of its claim.
type Groth16Verifier interface {
	VerifyGroth16(seal []byte, metaDigest zkvm.Digest) error
}

// ControlRegistry holds the set of permitted control ids, one per trusted
// circuit shape and size, keyed by hash suite. A seal built against any
// other circuit is rejected regardless of its cryptographic validity.
type ControlRegistry struct {
	controls map[string]map[zkvm.Digest]struct{}
}

// NewControlRegistry returns an empty registry.
func NewControlRegistry() *ControlRegistry {
	return &ControlRegistry{controls: make(map[string]map[zkvm.Digest]struct{})}
}

// Register marks a control id as trusted under the given hash suite.
func (r *ControlRegistry) Register(hashFn string, id zkvm.Digest) {
	ids, ok := r.controls[hashFn]
	if !ok {
		ids = make(map[zkvm.Digest]struct{})
		r.controls[hashFn] = ids
	}
	ids[id] = struct{}{}
}

// KnownSuite reports whether any control id is registered under hashFn.
func (r *ControlRegistry) KnownSuite(hashFn string) bool {
	return len(r.controls[hashFn]) > 0
}

// Check validates that the control id is trusted under the hash suite,
// failing with zkvm.ErrInvalidHashSuite for an unknown suite and
// zkvm.ErrControlVerification for an unregistered id.
func (r *ControlRegistry) Check(hashFn string, id zkvm.Digest) error {
	ids, ok := r.controls[hashFn]
	if !ok {
		return fmt.Errorf("hash suite %q: %w", hashFn, zkvm.ErrInvalidHashSuite)
	}
	if _, ok := ids[id]; !ok {
		return fmt.Errorf("control id %s not registered under %q: %w", id, hashFn, zkvm.ErrControlVerification)
	}
	return nil
}

// Context carries everything one verification pass depends on: the seal
// oracles, the trusted control ids, and the dev-mode switch that admits
// fake receipts. Contexts are immutable after construction and safe to
// share across verifications.
type Context struct {
	// Seals is the proof-system oracle for segment and recursion seals.
	Seals SealVerifier

	// Groth16 checks wrapped proofs. Nil when the deployment carries no
	// Groth16 verifying key; Groth16 receipts are then rejected.
	Groth16 Groth16Verifier

	// Registry holds the trusted control ids.
	Registry *ControlRegistry

	// DevMode admits fake receipts. Never enable outside tests and local
	// development.
	DevMode bool
}
