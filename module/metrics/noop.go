package metrics

// NoopCollector satisfies every metrics consumer interface without
// recording anything. Intended for tests and tooling that does not
// run a metrics server.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (nc *NoopCollector) SegmentEmitted(po2 uint32, cycles uint64)       {}
func (nc *NoopCollector) SessionCompleted(exitCode string, segments int) {}
func (nc *NoopCollector) InstructionsExecuted(n uint64)                  {}
func (nc *NoopCollector) SealChecked(hashFn string)                      {}
func (nc *NoopCollector) ReceiptVerified(kind string, result string)     {}
