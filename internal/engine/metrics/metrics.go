// Package metrics wires the engine's deploy/revert/verify outcomes into
// Prometheus counters, following the same promauto.NewCounterVec pattern
// the server's signal-reload metrics use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder counts deploy/revert/verify outcomes by engine tag and status.
type Recorder struct {
	operations *prometheus.CounterVec
}

// New registers the engine's counters against the default registry.
func New() *Recorder {
	return &Recorder{
		operations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deployctl",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total number of deploy/revert/verify operations by engine tag, operation, and outcome",
			},
			[]string{"engine", "operation", "status"},
		),
	}
}

func (r *Recorder) DeploySucceeded(engine string) { r.operations.WithLabelValues(engine, "deploy", "success").Inc() }
func (r *Recorder) DeployFailed(engine string)    { r.operations.WithLabelValues(engine, "deploy", "failure").Inc() }
func (r *Recorder) RevertSucceeded(engine string) { r.operations.WithLabelValues(engine, "revert", "success").Inc() }
func (r *Recorder) RevertFailed(engine string)    { r.operations.WithLabelValues(engine, "revert", "failure").Inc() }
func (r *Recorder) VerifySucceeded(engine string) { r.operations.WithLabelValues(engine, "verify", "success").Inc() }
func (r *Recorder) VerifyFailed(engine string)    { r.operations.WithLabelValues(engine, "verify", "failure").Inc() }
