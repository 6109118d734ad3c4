// Package metrics records tuning lifecycle metrics.
//
// Components receive a Recorder. NoopRecorder is the default and does nothing;
// PrometheusRecorder is swapped in when daemon.metrics.listen is configured,
// and HTTPHandler exposes its registry.
//
//	reg := prometheus.NewRegistry()
//	rec := metrics.NewPrometheusRecorder(reg)
//	mux.Handle("/metrics", metrics.HTTPHandler(reg))
package metrics
