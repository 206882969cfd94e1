package module

// ZKVMMetrics exposes the instrumentation points of the guest execution and
// receipt verification pipeline.
type ZKVMMetrics interface {
	ExecutorMetrics
	VerifierMetrics
}

// ExecutorMetrics covers guest execution.
type ExecutorMetrics interface {
	// SegmentEmitted is called once per emitted segment with its padded
	// size exponent and its actual cycle count.
	SegmentEmitted(po2 uint32, cycles uint64)

	// SessionCompleted is called once per finished run with the terminal
	// exit code and the number of segments produced.
	SessionCompleted(exitCode string, segments int)

	// InstructionsExecuted accumulates the number of retired instructions.
	InstructionsExecuted(n uint64)
}

// VerifierMetrics covers receipt verification.
type VerifierMetrics interface {
	// SealChecked is called once per verified segment seal.
	SealChecked(hashFn string)

	// ReceiptVerified is called once per top-level verification with the
	// receipt kind and the outcome ("ok" or the failure class).
	ReceiptVerified(kind string, result string)
}
