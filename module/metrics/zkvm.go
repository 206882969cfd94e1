package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespaceExecutor = "zkvm_executor"
	namespaceVerifier = "zkvm_verifier"
)

// ZKVMCollector implements module.ZKVMMetrics on top of prometheus.
type ZKVMCollector struct {
	segmentsEmitted      prometheus.Counter
	segmentCycles        prometheus.Histogram
	segmentPo2           prometheus.Histogram
	sessionsCompleted    *prometheus.CounterVec
	sessionSegments      prometheus.Histogram
	instructionsExecuted prometheus.Counter
	sealsChecked         *prometheus.CounterVec
	receiptsVerified     *prometheus.CounterVec
}

func NewZKVMCollector() *ZKVMCollector {

	zc := &ZKVMCollector{

		segmentsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceExecutor,
			Name:      "segments_emitted_total",
			Help:      "count of segments emitted by the executor",
		}),

		segmentCycles: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceExecutor,
			Buckets:   prometheus.ExponentialBuckets(1<<13, 2, 12),
			Name:      "segment_cycles",
			Help:      "cycles consumed per emitted segment",
		}),

		segmentPo2: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceExecutor,
			Buckets:   prometheus.LinearBuckets(13, 1, 12),
			Name:      "segment_po2",
			Help:      "padded size exponent per emitted segment",
		}),

		sessionsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceExecutor,
			Name:      "sessions_completed_total",
			Help:      "count of completed sessions by terminal exit code",
		}, []string{"exit_code"}),

		sessionSegments: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceExecutor,
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
			Name:      "session_segments",
			Help:      "number of segments per completed session",
		}),

		instructionsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceExecutor,
			Name:      "instructions_executed_total",
			Help:      "count of retired guest instructions",
		}),

		sealsChecked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceVerifier,
			Name:      "seals_checked_total",
			Help:      "count of verified segment seals by hash suite",
		}, []string{"hash_fn"}),

		receiptsVerified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceVerifier,
			Name:      "receipts_verified_total",
			Help:      "count of top-level receipt verifications by kind and outcome",
		}, []string{"kind", "result"}),
	}

	return zc
}

func (zc *ZKVMCollector) SegmentEmitted(po2 uint32, cycles uint64) {
	zc.segmentsEmitted.Inc()
	zc.segmentCycles.Observe(float64(cycles))
	zc.segmentPo2.Observe(float64(po2))
}

func (zc *ZKVMCollector) SessionCompleted(exitCode string, segments int) {
	zc.sessionsCompleted.WithLabelValues(exitCode).Inc()
	zc.sessionSegments.Observe(float64(segments))
}

func (zc *ZKVMCollector) InstructionsExecuted(n uint64) {
	zc.instructionsExecuted.Add(float64(n))
}

func (zc *ZKVMCollector) SealChecked(hashFn string) {
	zc.sealsChecked.WithLabelValues(hashFn).Inc()
}

func (zc *ZKVMCollector) ReceiptVerified(kind string, result string) {
	zc.receiptsVerified.WithLabelValues(kind, result).Inc()
}
