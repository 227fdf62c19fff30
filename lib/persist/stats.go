package persist

import (
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Stats is a point in time view of a store's counters
type Stats struct {
	Flushes           int64
	FailedFlushes     int64
	FullWrites        int64
	AppliedOps        int64
	Pending           int
	MeanFlushDuration time.Duration
	SnapshotSize      int64
}

// storeMetrics keeps the counters of one store in its own registry
type storeMetrics struct {
	registry      gometrics.Registry
	flushes       gometrics.Counter
	failedFlushes gometrics.Counter
	fullWrites    gometrics.Counter
	appliedOps    gometrics.Counter
	flushTime     gometrics.Timer
	snapshotSize  gometrics.Gauge
}

func newStoreMetrics() *storeMetrics {
	r := gometrics.NewRegistry()
	return &storeMetrics{
		registry:      r,
		flushes:       gometrics.GetOrRegisterCounter("flushes", r),
		failedFlushes: gometrics.GetOrRegisterCounter("flushes.failed", r),
		fullWrites:    gometrics.GetOrRegisterCounter("writes.full", r),
		appliedOps:    gometrics.GetOrRegisterCounter("ops.applied", r),
		flushTime:     gometrics.GetOrRegisterTimer("flush.duration", r),
		snapshotSize:  gometrics.GetOrRegisterGauge("snapshot.size", r),
	}
}

func (m *storeMetrics) snapshot(pending int) Stats {
	return Stats{
		Flushes:           m.flushes.Count(),
		FailedFlushes:     m.failedFlushes.Count(),
		FullWrites:        m.fullWrites.Count(),
		AppliedOps:        m.appliedOps.Count(),
		Pending:           pending,
		MeanFlushDuration: time.Duration(m.flushTime.Mean()),
		SnapshotSize:      m.snapshotSize.Value(),
	}
}
