package exec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/elcsa030/zero/model/zkvm"
	"github.com/elcsa030/zero/zkvm/memory"
)

// SyscallRecord is the replay log of one software syscall: the bytes handed
// to the guest and the result register pair. Re-executions of the same
// instruction reuse the record verbatim instead of re-invoking the handler,
// so segments are byte-identical across replays.
type SyscallRecord struct {
	ToGuest []byte `cbor:"to_guest"`
	Ret0    uint32 `cbor:"ret0"`
	Ret1    uint32 `cbor:"ret1"`
}

// Segment is one provable unit of work: a bounded-cycle slice of guest
// execution together with everything the prover needs to replay it.
// Segments are immutable once emitted.
type Segment struct {
	// PreImage is the memory image the segment starts from. Owned by the
	// segment after emission.
	PreImage *memory.MemoryImage

	// PostState is the system state at the end of the segment. Its digest
	// is the post image id that the next segment must chain to.
	PostState zkvm.SystemState

	// Syscalls is the replay log of software syscalls in this segment.
	Syscalls []SyscallRecord

	// Faults records the pages this segment touched.
	Faults memory.PageFaults

	// ExitCode is why this segment ended.
	ExitCode zkvm.ExitCode

	// SplitInsn is the index of the instruction that forced a split, when
	// the segment ended in SystemSplit or Fault.
	SplitInsn *uint32

	// Po2 is the log2 of the segment's padded cycle count.
	Po2 uint32

	// Index is the position of this segment within its session.
	Index uint32

	// CycleCount is the total number of cycles the segment consumed,
	// including paging and the fixed per-segment overhead. Always at most
	// 1 << Po2.
	CycleCount uint64

	// InputDigest commits to the session input bytes.
	InputDigest zkvm.Digest
}

// PostImageID returns the image id the next segment must start from.
func (s *Segment) PostImageID() zkvm.Digest {
	return s.PostState.Digest()
}

// segmentRecord is the persisted form of a segment.
type segmentRecord struct {
	PreImage    *memory.MemoryImage `cbor:"pre_image"`
	PostState   zkvm.SystemState    `cbor:"post_state"`
	Syscalls    []SyscallRecord     `cbor:"syscalls"`
	Faults      memory.PageFaults   `cbor:"faults"`
	ExitCode    zkvm.ExitCode       `cbor:"exit_code"`
	SplitInsn   *uint32             `cbor:"split_insn"`
	Po2         uint32              `cbor:"po2"`
	Index       uint32              `cbor:"index"`
	CycleCount  uint64              `cbor:"cycle_count"`
	InputDigest zkvm.Digest         `cbor:"input_digest"`
}

// Encode serializes the segment record.
func (s *Segment) Encode() ([]byte, error) {
	return cbor.Marshal(segmentRecord{
		PreImage:    s.PreImage,
		PostState:   s.PostState,
		Syscalls:    s.Syscalls,
		Faults:      s.Faults,
		ExitCode:    s.ExitCode,
		SplitInsn:   s.SplitInsn,
		Po2:         s.Po2,
		Index:       s.Index,
		CycleCount:  s.CycleCount,
		InputDigest: s.InputDigest,
	})
}

// DecodeSegment deserializes a persisted segment record.
func DecodeSegment(data []byte) (*Segment, error) {
	var rec segmentRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &Segment{
		PreImage:    rec.PreImage,
		PostState:   rec.PostState,
		Syscalls:    rec.Syscalls,
		Faults:      rec.Faults,
		ExitCode:    rec.ExitCode,
		SplitInsn:   rec.SplitInsn,
		Po2:         rec.Po2,
		Index:       rec.Index,
		CycleCount:  rec.CycleCount,
		InputDigest: rec.InputDigest,
	}, nil
}

// Session is the full record of one guest run: the ordered segments, the
// journal the guest committed, and the terminal exit code. Immutable once
// the run has ended.
type Session struct {
	Segments []*Segment
	Journal  []byte
	ExitCode zkvm.ExitCode
}

// TotalCycles sums the cycle counts of all segments.
func (s *Session) TotalCycles() uint64 {
	var total uint64
	for _, seg := range s.Segments {
		total += seg.CycleCount
	}
	return total
}

// Validate checks the session's structural invariants: strictly increasing
// segment indices from zero, per-segment cycle bounds, continuity of the
// image id chain, and legal exit code placement. All violations are
// collected and reported together.
func (s *Session) Validate() error {
	var result *multierror.Error

	if len(s.Segments) == 0 {
		return fmt.Errorf("session has no segments")
	}

	for i, seg := range s.Segments {
		if seg.Index != uint32(i) {
			result = multierror.Append(result, fmt.Errorf(
				"segment %d has index %d", i, seg.Index))
		}
		if seg.CycleCount > 1<<seg.Po2 {
			result = multierror.Append(result, fmt.Errorf(
				"segment %d exceeds cycle bound: %d > 2^%d", i, seg.CycleCount, seg.Po2))
		}
		if i < len(s.Segments)-1 {
			// A Fault segment hands over to the fault checker, which
			// starts a fresh image chain.
			if seg.ExitCode.Kind == zkvm.ExitFault {
				continue
			}
			next := s.Segments[i+1]
			if seg.PostImageID() != next.PreImage.ID() {
				result = multierror.Append(result, fmt.Errorf(
					"image id chain broken between segments %d and %d", i, i+1))
			}
		}
	}

	last := s.Segments[len(s.Segments)-1]
	if !last.ExitCode.IsSessionTerminal() {
		result = multierror.Append(result, fmt.Errorf(
			"final segment has non-terminal exit code %s", last.ExitCode))
	}

	return result.ErrorOrNil()
}
