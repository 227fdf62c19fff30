package executor

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// process wide counters, shared by all executors
var (
	panicked = metrics.GetOrCreateCounter(`dsnap_executor_tasks_panicked_total`)
)

// poolMetrics groups the counters of one pool kind
type poolMetrics struct {
	submitted *metrics.Counter
	rejected  *metrics.Counter
	failed    *metrics.Counter
	workers   *metrics.Counter
}

func newPoolMetrics(pool string) poolMetrics {
	return poolMetrics{
		submitted: metrics.GetOrCreateCounter(fmt.Sprintf(`dsnap_executor_tasks_submitted_total{pool=%q}`, pool)),
		rejected:  metrics.GetOrCreateCounter(fmt.Sprintf(`dsnap_executor_tasks_rejected_total{pool=%q}`, pool)),
		failed:    metrics.GetOrCreateCounter(fmt.Sprintf(`dsnap_executor_tasks_failed_total{pool=%q}`, pool)),
		workers:   metrics.GetOrCreateCounter(fmt.Sprintf(`dsnap_executor_workers{pool=%q}`, pool)),
	}
}
