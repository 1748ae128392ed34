package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepthDesc = prometheus.NewDesc(
		"transcriber_queue_depth", "Number of job ids currently buffered in the scheduler's dispatch queue.", nil, nil)
	activeWorkersDesc = prometheus.NewDesc(
		"transcriber_active_workers", "Number of worker goroutines currently running a job.", nil, nil)
	jobsTotalDesc = prometheus.NewDesc(
		"transcriber_jobs_total", "Total jobs that have reached a terminal state, by outcome.", []string{"outcome"}, nil)
	jobsByStateDesc = prometheus.NewDesc(
		"transcriber_jobs_by_state", "Current job count per pipeline state.", []string{"state"}, nil)
)

// Compile-time interface compliance check.
var _ prometheus.Collector = (*Scheduler)(nil)

// Describe implements prometheus.Collector. Stats() is the source of truth;
// this is a side-channel telemetry surface alongside it, never required for
// Stats() itself to function.
func (s *Scheduler) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueDepthDesc
	ch <- activeWorkersDesc
	ch <- jobsTotalDesc
	ch <- jobsByStateDesc
}

// Collect implements prometheus.Collector.
func (s *Scheduler) Collect(ch chan<- prometheus.Metric) {
	stats := s.Stats()

	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(stats.QueueDepth))
	ch <- prometheus.MustNewConstMetric(activeWorkersDesc, prometheus.GaugeValue, float64(stats.ActiveWorkers))
	ch <- prometheus.MustNewConstMetric(jobsTotalDesc, prometheus.CounterValue, float64(stats.TotalSuccess), "success")
	ch <- prometheus.MustNewConstMetric(jobsTotalDesc, prometheus.CounterValue, float64(stats.TotalFailed), "failed")

	for state, count := range stats.ByState {
		ch <- prometheus.MustNewConstMetric(jobsByStateDesc, prometheus.GaugeValue, float64(count), state.String())
	}
}
