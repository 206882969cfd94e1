package verify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elcsa030/zero/model/zkvm"
	"github.com/elcsa030/zero/module/metrics"
	"github.com/elcsa030/zero/utils/unittest"
	"github.com/elcsa030/zero/zkvm/exec"
	"github.com/elcsa030/zero/zkvm/memory"
	"github.com/elcsa030/zero/zkvm/verify"
)

func newVerifier(t *testing.T, devMode bool) *verify.Verifier {
	return verify.New(unittest.Logger(), metrics.NewNoopCollector(),
		unittest.VerifierContextFixture(devMode), 0)
}

// provenSession executes the program and seals the resulting session with
// the fake proving suite.
func provenSession(t *testing.T, program *memory.Program, opts ...exec.EnvOption) (*exec.Session, *zkvm.Receipt, zkvm.Digest) {
	image := memory.NewImage(program)
	e, err := exec.NewExecutor(unittest.Logger(), metrics.NewNoopCollector(),
		exec.NewEnv(opts...), image)
	require.NoError(t, err)

	session, err := e.Run(context.Background())
	require.NoError(t, err)

	receipt, err := unittest.NewFakeProver().ProveSession(session)
	require.NoError(t, err)
	return session, receipt, image.ID()
}

func TestVerifyComposite(t *testing.T) {
	session, receipt, imageID := provenSession(t, unittest.BusyLoopProgram(70000),
		exec.WithSegmentLimitPo2(16))
	require.Len(t, session.Segments, 3)

	v := newVerifier(t, false)
	require.NoError(t, v.Verify(receipt, imageID))

	// The verified claim collapses the chain: first pre, last post, and an
	// output stripped of assumptions.
	meta, err := v.VerifyIntegrity(receipt)
	require.NoError(t, err)
	assert.Equal(t, imageID, meta.Pre.Digest())
	assert.Equal(t, session.Segments[2].PostState, meta.Post)
	assert.Equal(t, zkvm.Halted(0), meta.ExitCode)
	require.NotNil(t, meta.Output)
	assert.Equal(t, zkvm.HashBytes(nil), meta.Output.JournalDigest)
	assert.Equal(t, zkvm.AssumptionsDigest(nil), meta.Output.AssumptionsDigest)
}

func TestVerifyJournal(t *testing.T) {
	message := []byte("attested output")
	_, receipt, imageID := provenSession(t, unittest.JournalProgram(message))

	v := newVerifier(t, false)
	require.NoError(t, v.Verify(receipt, imageID))

	tampered := *receipt
	tampered.Journal = []byte("attested outpuT")
	err := v.Verify(&tampered, imageID)
	assert.ErrorIs(t, err, zkvm.ErrJournalDigestMismatch)

	tampered.Journal = nil
	err = v.Verify(&tampered, imageID)
	assert.ErrorIs(t, err, zkvm.ErrJournalDigestMismatch)
}

func TestVerifyPaused(t *testing.T) {
	session, receipt, imageID := provenSession(t, unittest.PauseProgram())
	require.Equal(t, zkvm.Paused(0), session.ExitCode)

	v := newVerifier(t, false)
	require.NoError(t, v.Verify(receipt, imageID))
}

func TestVerifyWrongImage(t *testing.T) {
	_, receipt, _ := provenSession(t, unittest.ImmediateHaltProgram(0))

	v := newVerifier(t, false)
	err := v.Verify(receipt, zkvm.HashBytes([]byte("some other guest")))
	assert.ErrorIs(t, err, zkvm.ErrImageVerification)
}

func TestVerifyUserExitCode(t *testing.T) {
	_, receipt, imageID := provenSession(t, unittest.ImmediateHaltProgram(7))

	v := newVerifier(t, false)

	// Integrity holds, but the strong check rejects a nonzero user exit.
	meta, err := v.VerifyIntegrity(receipt)
	require.NoError(t, err)
	assert.Equal(t, zkvm.Halted(7), meta.ExitCode)

	err = v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrUnexpectedExitCode)
}

func TestVerifySealTampered(t *testing.T) {
	_, receipt, imageID := provenSession(t, unittest.BusyLoopProgram(70000),
		exec.WithSegmentLimitPo2(16))

	composite := receipt.Inner.(*zkvm.CompositeReceipt)
	composite.Segments[0].Seal[5] ^= 1

	v := newVerifier(t, false)
	err := v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrInvalidProof)
}

func TestVerifyBrokenChain(t *testing.T) {
	session, receipt, imageID := provenSession(t, unittest.BusyLoopProgram(70000),
		exec.WithSegmentLimitPo2(16))

	// Re-seal the middle segment over a claim starting from a different
	// memory image. The seal itself is valid; the chain is not.
	meta := unittest.SegmentMetadata(session.Segments[1], session.Journal, nil)
	meta.Pre.MerkleRoot[0] ^= 1
	resealed, err := unittest.SealedSegmentReceipt(meta, session.Segments[1].Po2, 1, unittest.FakeHashFn)
	require.NoError(t, err)
	receipt.Inner.(*zkvm.CompositeReceipt).Segments[1] = resealed

	v := newVerifier(t, false)
	err = v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrImageVerification)
}

func TestVerifySegmentIndexGap(t *testing.T) {
	_, receipt, imageID := provenSession(t, unittest.BusyLoopProgram(70000),
		exec.WithSegmentLimitPo2(16))

	receipt.Inner.(*zkvm.CompositeReceipt).Segments[1].Index = 2

	v := newVerifier(t, false)
	err := v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrReceiptFormat)
}

func TestVerifyNonFinalExitCode(t *testing.T) {
	session, receipt, imageID := provenSession(t, unittest.BusyLoopProgram(70000),
		exec.WithSegmentLimitPo2(16))
	composite := receipt.Inner.(*zkvm.CompositeReceipt)

	// A non-final segment claiming a clean halt must be rejected even
	// though its seal verifies.
	meta := unittest.SegmentMetadata(session.Segments[0], session.Journal, nil)
	meta.ExitCode = zkvm.Halted(0)
	resealed, err := unittest.SealedSegmentReceipt(meta, session.Segments[0].Po2, 0, unittest.FakeHashFn)
	require.NoError(t, err)
	composite.Segments[0] = resealed

	v := newVerifier(t, false)
	err = v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrUnexpectedExitCode)
}

func TestVerifyNonFinalOutput(t *testing.T) {
	session, receipt, imageID := provenSession(t, unittest.BusyLoopProgram(70000),
		exec.WithSegmentLimitPo2(16))
	composite := receipt.Inner.(*zkvm.CompositeReceipt)

	meta := unittest.SegmentMetadata(session.Segments[0], session.Journal, nil)
	meta.Output = &zkvm.Output{
		JournalDigest:     zkvm.HashBytes(session.Journal),
		AssumptionsDigest: zkvm.AssumptionsDigest(nil),
	}
	resealed, err := unittest.SealedSegmentReceipt(meta, session.Segments[0].Po2, 0, unittest.FakeHashFn)
	require.NoError(t, err)
	composite.Segments[0] = resealed

	v := newVerifier(t, false)
	err = v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrReceiptFormat)
}

func TestVerifyTruncatedChain(t *testing.T) {
	_, receipt, imageID := provenSession(t, unittest.BusyLoopProgram(70000),
		exec.WithSegmentLimitPo2(16))

	// Dropping the final segment leaves a declared journal digest with no
	// sealed output commitment to back it.
	composite := receipt.Inner.(*zkvm.CompositeReceipt)
	composite.Segments = composite.Segments[:2]

	v := newVerifier(t, false)
	err := v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrJournalDigestMismatch)
}

func TestVerifyUntrustedControlID(t *testing.T) {
	session, receipt, imageID := provenSession(t, unittest.ImmediateHaltProgram(0))

	// Re-seal the sole segment for a circuit size outside the trusted set.
	meta := unittest.SegmentMetadata(session.Segments[0], session.Journal, nil)
	resealed, err := unittest.SealedSegmentReceipt(meta, 12, 0, unittest.FakeHashFn)
	require.NoError(t, err)
	receipt.Inner.(*zkvm.CompositeReceipt).Segments[0] = resealed

	v := newVerifier(t, false)
	err = v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrControlVerification)
}

func TestVerifyUnknownHashSuite(t *testing.T) {
	session, receipt, imageID := provenSession(t, unittest.ImmediateHaltProgram(0))

	meta := unittest.SegmentMetadata(session.Segments[0], session.Journal, nil)
	resealed, err := unittest.SealedSegmentReceipt(meta, session.Segments[0].Po2, 0, "poseidon")
	require.NoError(t, err)
	receipt.Inner.(*zkvm.CompositeReceipt).Segments[0] = resealed

	v := newVerifier(t, false)
	err = v.Verify(receipt, imageID)
	assert.ErrorIs(t, err, zkvm.ErrInvalidHashSuite)
}

func TestVerifyEmptyComposite(t *testing.T) {
	v := newVerifier(t, false)
	_, err := v.VerifyIntegrity(&zkvm.Receipt{Inner: &zkvm.CompositeReceipt{}})
	assert.ErrorIs(t, err, zkvm.ErrReceiptFormat)
}

func TestVerifySuccinct(t *testing.T) {
	message := []byte("folded claim")
	_, receipt, imageID := provenSession(t, unittest.JournalProgram(message))

	v := newVerifier(t, false)
	meta, err := v.VerifyIntegrity(receipt)
	require.NoError(t, err)

	succinct, err := unittest.SuccinctReceiptFixture(meta, 16)
	require.NoError(t, err)
	folded := &zkvm.Receipt{Inner: succinct, Journal: message}
	require.NoError(t, v.Verify(folded, imageID))

	t.Run("tampered seal", func(t *testing.T) {
		broken, err := unittest.SuccinctReceiptFixture(meta, 16)
		require.NoError(t, err)
		broken.Seal[3] ^= 1
		err = v.Verify(&zkvm.Receipt{Inner: broken, Journal: message}, imageID)
		assert.ErrorIs(t, err, zkvm.ErrInvalidProof)
	})

	t.Run("control id mismatch", func(t *testing.T) {
		broken, err := unittest.SuccinctReceiptFixture(meta, 16)
		require.NoError(t, err)
		broken.ControlID[0] ^= 1
		err = v.Verify(&zkvm.Receipt{Inner: broken, Journal: message}, imageID)
		assert.ErrorIs(t, err, zkvm.ErrControlVerification)
	})

	t.Run("untrusted circuit size", func(t *testing.T) {
		broken, err := unittest.SuccinctReceiptFixture(meta, 12)
		require.NoError(t, err)
		err = v.Verify(&zkvm.Receipt{Inner: broken, Journal: message}, imageID)
		assert.ErrorIs(t, err, zkvm.ErrControlVerification)
	})
}

func TestVerifyFakeReceipt(t *testing.T) {
	_, receipt, imageID := provenSession(t, unittest.ImmediateHaltProgram(0))

	dev := newVerifier(t, true)
	meta, err := dev.VerifyIntegrity(receipt)
	require.NoError(t, err)

	fake := &zkvm.Receipt{Inner: &zkvm.FakeReceipt{Meta: *meta}}
	require.NoError(t, dev.Verify(fake, imageID))

	prod := newVerifier(t, false)
	err = prod.Verify(fake, imageID)
	assert.ErrorIs(t, err, zkvm.ErrInvalidProof)
}

// stubGroth16 accepts or rejects every proof wholesale.
type stubGroth16 struct {
	err error
}

func (s stubGroth16) VerifyGroth16(seal []byte, metaDigest zkvm.Digest) error {
	return s.err
}

func TestVerifyGroth16(t *testing.T) {
	_, receipt, imageID := provenSession(t, unittest.ImmediateHaltProgram(0))

	v := newVerifier(t, false)
	meta, err := v.VerifyIntegrity(receipt)
	require.NoError(t, err)

	wrapped := &zkvm.Receipt{Inner: &zkvm.Groth16Receipt{Seal: []byte{1, 2, 3}, Meta: *meta}}

	// Without a verifying key every Groth16 receipt is rejected.
	err = v.Verify(wrapped, imageID)
	assert.ErrorIs(t, err, zkvm.ErrInvalidProof)

	vc := unittest.VerifierContextFixture(false)
	vc.Groth16 = stubGroth16{}
	withKey := verify.New(unittest.Logger(), metrics.NewNoopCollector(), vc, 0)
	require.NoError(t, withKey.Verify(wrapped, imageID))

	vc.Groth16 = stubGroth16{err: zkvm.ErrInvalidProof}
	err = withKey.Verify(wrapped, imageID)
	assert.ErrorIs(t, err, zkvm.ErrInvalidProof)
}

func TestVerifyConditional(t *testing.T) {
	message := []byte("conditional output")

	image := memory.NewImage(unittest.JournalProgram(message))
	e, err := exec.NewExecutor(unittest.Logger(), metrics.NewNoopCollector(),
		exec.NewEnv(), image)
	require.NoError(t, err)
	session, err := e.Run(context.Background())
	require.NoError(t, err)

	// The assumption is a bare claim, provable only in dev mode.
	_, assumed, _ := provenSession(t, unittest.ImmediateHaltProgram(0))
	dev := newVerifier(t, true)
	assumedMeta, err := dev.VerifyIntegrity(assumed)
	require.NoError(t, err)

	receipt, err := unittest.NewFakeProver().ProveConditionalSession(
		session,
		[]zkvm.Assumption{zkvm.ProvenAssumption(
			&zkvm.Receipt{Inner: &zkvm.FakeReceipt{Meta: *assumedMeta}},
		)},
	)
	require.NoError(t, err)

	// Integrity resolves the assumption and prunes it from the collapsed
	// claim.
	meta, err := dev.VerifyIntegrity(receipt)
	require.NoError(t, err)
	require.NotNil(t, meta.Output)
	assert.Equal(t, zkvm.AssumptionsDigest(nil), meta.Output.AssumptionsDigest)

	// The strong check refuses a receipt that still carries assumptions.
	err = dev.Verify(receipt, image.ID())
	assert.ErrorIs(t, err, zkvm.ErrReceiptFormat)

	// Outside dev mode the fake assumption cannot be resolved at all.
	prod := newVerifier(t, false)
	_, err = prod.VerifyIntegrity(receipt)
	assert.ErrorIs(t, err, zkvm.ErrInvalidProof)

	t.Run("unresolved assumption", func(t *testing.T) {
		assumedDigest, err := assumedMeta.Digest()
		require.NoError(t, err)

		// The sealed output commits to the claim digest, but no receipt
		// rides along to discharge it.
		bare, err := unittest.NewFakeProver().ProveConditionalSession(
			session,
			[]zkvm.Assumption{zkvm.UnresolvedAssumption(assumedDigest)},
		)
		require.NoError(t, err)

		_, err = dev.VerifyIntegrity(bare)
		assert.ErrorIs(t, err, zkvm.ErrJournalDigestMismatch)
	})
}
