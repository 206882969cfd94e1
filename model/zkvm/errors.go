package zkvm

import "errors"

// Verification failures form a closed set of typed rejections suitable for
// programmatic branching. They are terminal: the verifier never recovers,
// retries, or downgrades any of them.
var (
	// ErrReceiptFormat indicates a receipt that is structurally malformed
	// or internally inconsistent.
	ErrReceiptFormat = errors.New("receipt format error")

	// ErrImageVerification indicates a break in the image id chain, or a
	// first segment whose pre-state does not match the claimed image id.
	ErrImageVerification = errors.New("image verification error")

	// ErrUnexpectedExitCode indicates an exit code that is illegal at its
	// position in the chain, or an unsuccessful terminal exit code.
	ErrUnexpectedExitCode = errors.New("unexpected exit code")

	// ErrJournalDigestMismatch indicates the declared journal does not
	// match the output digest sealed into the final segment.
	ErrJournalDigestMismatch = errors.New("journal digest mismatch")

	// ErrControlVerification indicates a seal whose control id is not in
	// the registry of trusted circuit shapes.
	ErrControlVerification = errors.New("control id verification error")

	// ErrInvalidHashSuite indicates a seal built with an unregistered hash
	// suite.
	ErrInvalidHashSuite = errors.New("invalid hash suite")

	// ErrInvalidProof indicates the cryptographic seal check failed.
	ErrInvalidProof = errors.New("invalid proof")
)
