package zkvm

import "fmt"

// ExitKind classifies why a segment or session stopped.
type ExitKind int

const (
	// ExitHalted indicates normal termination with a user exit code.
	ExitHalted ExitKind = iota

	// ExitPaused indicates the guest paused itself and can be resumed.
	ExitPaused

	// ExitSystemSplit indicates a system-initiated split because the
	// segment cycle budget was reached; the run continues in a fresh
	// segment.
	ExitSystemSplit

	// ExitSessionLimit indicates the session cycle cap was reached. This
	// aborts the run as an error and is never a legitimate guest outcome.
	ExitSessionLimit

	// ExitFault indicates the guest executed an instruction that trapped.
	ExitFault
)

func (k ExitKind) String() string {
	switch k {
	case ExitHalted:
		return "Halted"
	case ExitPaused:
		return "Paused"
	case ExitSystemSplit:
		return "SystemSplit"
	case ExitSessionLimit:
		return "SessionLimit"
	case ExitFault:
		return "Fault"
	default:
		return fmt.Sprintf("ExitKind(%d)", int(k))
	}
}

// ExitCode describes how a segment or session stopped. Only Halted, Paused
// and Fault are session-terminal.
type ExitCode struct {
	Kind ExitKind `cbor:"kind"`

	// User carries the guest-supplied exit code for Halted and Paused.
	User uint32 `cbor:"user"`
}

// Halted returns the exit code for normal termination with the given user
// exit code.
func Halted(user uint32) ExitCode { return ExitCode{Kind: ExitHalted, User: user} }

// Paused returns the exit code for a guest-initiated pause with the given
// user exit code.
func Paused(user uint32) ExitCode { return ExitCode{Kind: ExitPaused, User: user} }

// SystemSplit is the exit code of every segment but the last in a
// multi-segment session.
var SystemSplit = ExitCode{Kind: ExitSystemSplit}

// SessionLimit is the exit code reported when the session cycle cap is hit.
var SessionLimit = ExitCode{Kind: ExitSessionLimit}

// Fault is the exit code of a segment that ended on a trapped instruction.
var Fault = ExitCode{Kind: ExitFault}

func (e ExitCode) String() string {
	switch e.Kind {
	case ExitHalted, ExitPaused:
		return fmt.Sprintf("%s(%d)", e.Kind, e.User)
	default:
		return e.Kind.String()
	}
}

// IsSessionTerminal reports whether this exit code ends the session.
func (e ExitCode) IsSessionTerminal() bool {
	switch e.Kind {
	case ExitHalted, ExitPaused, ExitFault:
		return true
	default:
		return false
	}
}

// ExpectsOutput reports whether a receipt with this exit code must carry an
// output commitment.
func (e ExitCode) ExpectsOutput() bool {
	return e.Kind == ExitHalted || e.Kind == ExitPaused
}

// Pair encodes the exit code as the (system, user) word pair committed to by
// the circuit.
func (e ExitCode) Pair() (uint32, uint32, error) {
	switch e.Kind {
	case ExitHalted:
		return 0, e.User, nil
	case ExitPaused:
		return 1, e.User, nil
	case ExitSystemSplit:
		return 2, 0, nil
	case ExitFault:
		return 3, 0, nil
	default:
		return 0, 0, fmt.Errorf("exit code %s cannot be committed to a receipt", e)
	}
}

// ExitCodeFromPair decodes the (system, user) word pair committed to by the
// circuit.
func ExitCodeFromPair(sys, user uint32) (ExitCode, error) {
	switch sys {
	case 0:
		return Halted(user), nil
	case 1:
		return Paused(user), nil
	case 2:
		return SystemSplit, nil
	case 3:
		return Fault, nil
	default:
		return ExitCode{}, fmt.Errorf("invalid exit code pair (%d, %d)", sys, user)
	}
}
