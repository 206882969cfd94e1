package verify

import (
	"fmt"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/elcsa030/zero/model/zkvm"
	"github.com/elcsa030/zero/module"
)

// defaultWorkers bounds the parallelism of per-segment seal checks within
// one composite receipt.
const defaultWorkers = 8

// Verifier validates receipt chains. It is stateless per call and safe for
// concurrent use across independent receipts.
type Verifier struct {
	log     zerolog.Logger
	metrics module.VerifierMetrics
	vc      *Context
	workers int
}

// New builds a verifier over the given context. workers bounds the
// parallelism of seal checks inside one composite receipt; zero selects the
// default.
func New(log zerolog.Logger, metrics module.VerifierMetrics, vc *Context, workers int) *Verifier {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Verifier{
		log:     log.With().Str("component", "receipt_verifier").Logger(),
		metrics: metrics,
		vc:      vc,
		workers: workers,
	}
}

// Verify is the strong entry point: it checks the receipt's integrity and
// then requires an unconditional successful claim — a clean terminal exit,
// a pre-state matching the claimed image id, and no unproven assumptions.
func (v *Verifier) Verify(receipt *zkvm.Receipt, imageID zkvm.Digest) error {
	kind := receiptKind(receipt.Inner)

	err := v.verify(receipt, imageID)
	if err != nil {
		v.metrics.ReceiptVerified(kind, "rejected")
		v.log.Info().Err(err).Str("kind", kind).Msg("receipt rejected")
		return err
	}
	v.metrics.ReceiptVerified(kind, "ok")
	return nil
}

func (v *Verifier) verify(receipt *zkvm.Receipt, imageID zkvm.Digest) error {
	meta, err := v.verifyInner(receipt.Inner, receipt.Journal)
	if err != nil {
		return err
	}

	if meta.ExitCode != zkvm.Halted(0) && meta.ExitCode != zkvm.Paused(0) {
		return fmt.Errorf("terminal exit code %s: %w", meta.ExitCode, zkvm.ErrUnexpectedExitCode)
	}
	if meta.Pre.Digest() != imageID {
		return fmt.Errorf("claim starts from image %s, want %s: %w",
			meta.Pre.Digest(), imageID, zkvm.ErrImageVerification)
	}
	if composite, ok := receipt.Inner.(*zkvm.CompositeReceipt); ok && len(composite.Assumptions) > 0 {
		return fmt.Errorf("%d unresolved assumptions on an unconditional receipt: %w",
			len(composite.Assumptions), zkvm.ErrReceiptFormat)
	}
	return nil
}

// VerifyIntegrity checks that the receipt is internally consistent and its
// seals are cryptographically valid, returning the verified claim. Unlike
// Verify it accepts conditional receipts and unsuccessful exit codes.
func (v *Verifier) VerifyIntegrity(receipt *zkvm.Receipt) (*zkvm.ReceiptMetadata, error) {
	kind := receiptKind(receipt.Inner)

	meta, err := v.verifyInner(receipt.Inner, receipt.Journal)
	if err != nil {
		v.metrics.ReceiptVerified(kind, "rejected")
		v.log.Info().Err(err).Str("kind", kind).Msg("receipt rejected")
		return nil, err
	}
	v.metrics.ReceiptVerified(kind, "ok")
	return meta, nil
}

// verifyInner dispatches on the receipt kind and binds the declared journal
// bytes to the output digest inside the verified claim.
func (v *Verifier) verifyInner(inner zkvm.InnerReceipt, journal []byte) (*zkvm.ReceiptMetadata, error) {
	meta, err := v.integrity(inner)
	if err != nil {
		return nil, err
	}
	if err := checkJournal(meta, journal); err != nil {
		return nil, err
	}
	return meta, nil
}

// checkJournal requires the declared journal bytes to hash to the journal
// digest committed in the claim. An absent output admits only an empty
// journal.
func checkJournal(meta *zkvm.ReceiptMetadata, journal []byte) error {
	if meta.Output == nil {
		if len(journal) != 0 {
			return fmt.Errorf("journal of %d bytes on a claim with no output: %w",
				len(journal), zkvm.ErrJournalDigestMismatch)
		}
		return nil
	}
	if got := zkvm.HashBytes(journal); got != meta.Output.JournalDigest {
		return fmt.Errorf("journal hashes to %s, claim commits %s: %w",
			got, meta.Output.JournalDigest, zkvm.ErrJournalDigestMismatch)
	}
	return nil
}

// integrity verifies one inner receipt and returns its claim.
func (v *Verifier) integrity(inner zkvm.InnerReceipt) (*zkvm.ReceiptMetadata, error) {
	switch r := inner.(type) {
	case *zkvm.CompositeReceipt:
		return v.verifyComposite(r)
	case *zkvm.SuccinctReceipt:
		return v.verifySuccinct(r)
	case *zkvm.Groth16Receipt:
		return v.verifyGroth16(r)
	case *zkvm.FakeReceipt:
		return v.verifyFake(r)
	default:
		return nil, fmt.Errorf("unknown receipt kind %T: %w", inner, zkvm.ErrReceiptFormat)
	}
}

// verifyComposite checks a chain of segment receipts: every seal verifies,
// non-final segments end in SystemSplit with no output, adjacent claims
// chain by image id, nested assumptions resolve recursively, and the
// declared journal and assumptions match the final output commitment. Seal
// checks run concurrently; chaining applies afterwards in order.
func (v *Verifier) verifyComposite(r *zkvm.CompositeReceipt) (*zkvm.ReceiptMetadata, error) {
	if len(r.Segments) == 0 {
		return nil, fmt.Errorf("composite receipt with no segments: %w", zkvm.ErrReceiptFormat)
	}

	metas, err := v.checkSeals(r.Segments)
	if err != nil {
		return nil, err
	}

	final := len(r.Segments) - 1
	prev := metas[0].Pre.Digest()
	for i, meta := range metas {
		if r.Segments[i].Index != uint32(i) {
			return nil, fmt.Errorf("segment %d carries index %d: %w",
				i, r.Segments[i].Index, zkvm.ErrReceiptFormat)
		}
		if meta.Pre.Digest() != prev {
			return nil, fmt.Errorf("segment %d does not chain from its predecessor: %w",
				i, zkvm.ErrImageVerification)
		}
		prev = meta.Post.Digest()

		if i == final {
			continue
		}
		if meta.ExitCode.Kind != zkvm.ExitSystemSplit {
			return nil, fmt.Errorf("non-final segment %d exits with %s: %w",
				i, meta.ExitCode, zkvm.ErrUnexpectedExitCode)
		}
		if meta.Output != nil {
			return nil, fmt.Errorf("non-final segment %d carries an output: %w",
				i, zkvm.ErrReceiptFormat)
		}
	}

	assumptionDigests, err := v.resolveAssumptions(r.Assumptions)
	if err != nil {
		return nil, err
	}

	finalMeta := metas[final]
	if err := checkCompositeOutput(r, finalMeta, assumptionDigests); err != nil {
		return nil, err
	}

	// Collapse the chain into one claim. Verified assumptions are pruned:
	// the collapsed output commits to an empty assumption list.
	var output *zkvm.Output
	if finalMeta.Output != nil {
		output = &zkvm.Output{
			JournalDigest:     finalMeta.Output.JournalDigest,
			AssumptionsDigest: zkvm.AssumptionsDigest(nil),
		}
	}
	return &zkvm.ReceiptMetadata{
		Pre:      metas[0].Pre,
		Post:     finalMeta.Post,
		ExitCode: finalMeta.ExitCode,
		Input:    metas[0].Input,
		Output:   output,
	}, nil
}

// checkSeals runs the oracle over every segment seal concurrently. Results
// are examined in segment order so rejections are deterministic.
func (v *Verifier) checkSeals(segments []*zkvm.SegmentReceipt) ([]*zkvm.ReceiptMetadata, error) {
	metas := make([]*zkvm.ReceiptMetadata, len(segments))
	errs := make([]error, len(segments))

	pool := workerpool.New(v.workers)
	for i, segment := range segments {
		i, segment := i, segment
		pool.Submit(func() {
			metas[i], errs[i] = v.checkSegmentSeal(segment)
		})
	}
	pool.StopWait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return metas, nil
}

// checkSegmentSeal verifies one segment seal against the oracle and the
// control registry.
func (v *Verifier) checkSegmentSeal(segment *zkvm.SegmentReceipt) (*zkvm.ReceiptMetadata, error) {
	if !v.vc.Registry.KnownSuite(segment.HashFn) {
		return nil, fmt.Errorf("hash suite %q: %w", segment.HashFn, zkvm.ErrInvalidHashSuite)
	}
	meta, controlID, _, err := v.vc.Seals.VerifySegmentSeal(segment.Seal, segment.HashFn)
	if err != nil {
		return nil, err
	}
	if err := v.vc.Registry.Check(segment.HashFn, controlID); err != nil {
		return nil, err
	}
	v.metrics.SealChecked(segment.HashFn)
	return meta, nil
}

// resolveAssumptions recursively verifies every nested assumption receipt
// and returns their claim digests in order.
func (v *Verifier) resolveAssumptions(assumptions []zkvm.InnerReceipt) ([]zkvm.Digest, error) {
	digests := make([]zkvm.Digest, 0, len(assumptions))
	for i, assumption := range assumptions {
		meta, err := v.integrity(assumption)
		if err != nil {
			return nil, fmt.Errorf("assumption %d: %w", i, err)
		}
		digest, err := meta.Digest()
		if err != nil {
			return nil, fmt.Errorf("assumption %d: %w", i, err)
		}
		digests = append(digests, digest)
	}
	return digests, nil
}

// checkCompositeOutput requires the receipt's declared journal digest and
// resolved assumptions to equal the output commitment sealed into the final
// segment. A receipt with no declared journal, no assumptions, and no
// sealed output is the legitimate degenerate case.
func checkCompositeOutput(r *zkvm.CompositeReceipt, finalMeta *zkvm.ReceiptMetadata, assumptionDigests []zkvm.Digest) error {
	if finalMeta.Output == nil {
		if r.JournalDigest == nil && len(assumptionDigests) == 0 {
			return nil
		}
		return fmt.Errorf("declared output has no sealed counterpart: %w", zkvm.ErrJournalDigestMismatch)
	}

	var journalDigest zkvm.Digest
	if r.JournalDigest != nil {
		journalDigest = *r.JournalDigest
	} else {
		journalDigest = zkvm.HashBytes(nil)
	}
	self := zkvm.Output{
		JournalDigest:     journalDigest,
		AssumptionsDigest: zkvm.AssumptionsDigest(assumptionDigests),
	}
	if self.Digest() != finalMeta.Output.Digest() {
		return fmt.Errorf("declared output does not match the sealed commitment: %w",
			zkvm.ErrJournalDigestMismatch)
	}
	return nil
}

// verifySuccinct checks a recursion seal against its claim digest and the
// control registry.
func (v *Verifier) verifySuccinct(r *zkvm.SuccinctReceipt) (*zkvm.ReceiptMetadata, error) {
	if !v.vc.Registry.KnownSuite(r.HashFn) {
		return nil, fmt.Errorf("hash suite %q: %w", r.HashFn, zkvm.ErrInvalidHashSuite)
	}
	metaDigest, err := r.Meta.Digest()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, zkvm.ErrReceiptFormat)
	}
	controlID, _, err := v.vc.Seals.VerifyRecursionSeal(r.Seal, r.HashFn, metaDigest)
	if err != nil {
		return nil, err
	}
	if controlID != r.ControlID {
		return nil, fmt.Errorf("seal built for control id %s, receipt claims %s: %w",
			controlID, r.ControlID, zkvm.ErrControlVerification)
	}
	if err := v.vc.Registry.Check(r.HashFn, controlID); err != nil {
		return nil, err
	}
	v.metrics.SealChecked(r.HashFn)
	meta := r.Meta
	return &meta, nil
}

// verifyGroth16 checks a wrapped proof against its claim digest.
func (v *Verifier) verifyGroth16(r *zkvm.Groth16Receipt) (*zkvm.ReceiptMetadata, error) {
	if v.vc.Groth16 == nil {
		return nil, fmt.Errorf("no groth16 verifying key configured: %w", zkvm.ErrInvalidProof)
	}
	metaDigest, err := r.Meta.Digest()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, zkvm.ErrReceiptFormat)
	}
	if err := v.vc.Groth16.VerifyGroth16(r.Seal, metaDigest); err != nil {
		return nil, err
	}
	meta := r.Meta
	return &meta, nil
}

// verifyFake admits a bare claim in dev mode only.
func (v *Verifier) verifyFake(r *zkvm.FakeReceipt) (*zkvm.ReceiptMetadata, error) {
	if !v.vc.DevMode {
		return nil, fmt.Errorf("fake receipt outside dev mode: %w", zkvm.ErrInvalidProof)
	}
	meta := r.Meta
	return &meta, nil
}

func receiptKind(inner zkvm.InnerReceipt) string {
	switch inner.(type) {
	case *zkvm.CompositeReceipt:
		return "composite"
	case *zkvm.SuccinctReceipt:
		return "succinct"
	case *zkvm.Groth16Receipt:
		return "groth16"
	case *zkvm.FakeReceipt:
		return "fake"
	default:
		return "unknown"
	}
}
