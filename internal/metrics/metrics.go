// Package metrics counts what one run did to the host: ledger traffic,
// restore outcomes, special-case outcomes and the final phase. Each run gets
// its own prometheus registry, written to a node-exporter textfile when one
// is configured.
package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric is one flattened sample, for the CLI.
type Metric struct {
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Run implements rollback.Observer and specialcases.Observer.
type Run struct {
	reg *prometheus.Registry

	tracked    prometheus.Counter
	ledgerSize prometheus.Gauge
	restores   *prometheus.CounterVec
	cases      *prometheus.CounterVec
	phase      *prometheus.GaugeVec
	duration   prometheus.Gauge
	finished   prometheus.Gauge
}

func NewRun() *Run {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Run{
		reg: reg,
		tracked: f.NewCounter(prometheus.CounterOpts{
			Name: "distroconv_ledger_tracked_total",
			Help: "Resources backed up and added to the rollback ledger",
		}),
		ledgerSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "distroconv_ledger_size",
			Help: "Resources currently reversible",
		}),
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "distroconv_restores_total",
			Help: "Restore attempts during rollback by result",
		}, []string{"result"}),
		cases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "distroconv_special_cases_total",
			Help: "Special cases evaluated by name and outcome",
		}, []string{"case", "outcome"}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "distroconv_run_phase",
			Help: "1 for the phase the run is in",
		}, []string{"phase"}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "distroconv_run_duration_seconds",
			Help: "Wall time of the run",
		}),
		finished: f.NewGauge(prometheus.GaugeOpts{
			Name: "distroconv_run_finished_timestamp_seconds",
			Help: "Unix time the run reached a final phase",
		}),
	}
}

func (r *Run) Registry() *prometheus.Registry { return r.reg }

func (r *Run) Tracked(identity string) {
	r.tracked.Inc()
	r.ledgerSize.Inc()
}

func (r *Run) Restored(identity string, err error) {
	if err != nil {
		r.restores.WithLabelValues("failed").Inc()
		return
	}
	r.restores.WithLabelValues("ok").Inc()
	r.ledgerSize.Dec()
}

// Committed zeroes the ledger gauge once backups are discarded.
func (r *Run) Committed() {
	r.ledgerSize.Set(0)
}

func (r *Run) CaseFinished(name, outcome string) {
	r.cases.WithLabelValues(name, outcome).Inc()
}

// SetPhase marks phase as current and clears the previous one.
func (r *Run) SetPhase(phase string) {
	r.phase.Reset()
	r.phase.WithLabelValues(phase).Set(1)
}

// Finish records the run's duration and end time.
func (r *Run) Finish(d time.Duration) {
	r.duration.Set(d.Seconds())
	r.finished.SetToCurrentTime()
}

// WriteTextfile writes the registry atomically in the text exposition
// format for node-exporter's textfile collector.
func (r *Run) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}

// Snapshot flattens the registry into samples sorted by name.
func (r *Run) Snapshot() ([]Metric, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}
	var out []Metric
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if len(labels) == 0 {
				labels = nil
			}
			v := m.GetGauge().GetValue()
			if c := m.GetCounter(); c != nil {
				v = c.GetValue()
			}
			out = append(out, Metric{Name: fam.GetName(), Value: v, Labels: labels})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
