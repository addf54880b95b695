/*
Package monitoring collects Prometheus metrics for package acquisition and
extension discovery.

# Overview

A CLI run is short lived, so metrics are not scraped. They are gathered into
a dedicated registry and written once, at exit, in the text exposition format
understood by the node exporter textfile collector.

# Metrics

  - dismantle_fetch_total{kind,result}: conditional fetches (updated, not_modified, error)
  - dismantle_fetch_duration_seconds{kind}: fetch latency
  - dismantle_install_total{handler,result}: package installs (installed, skipped, error)
  - dismantle_uninstall_total{result}: removals (removed, kept, warning)
  - dismantle_extension_units_total{result}: unit loads (loaded, failed, skipped)
  - dismantle_extensions_registered{category}: registry size per category

# Usage

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	metrics.RecordFetch("package", monitoring.ResultUpdated, time.Since(start))
	_ = metrics.WriteTextfile("/var/lib/node_exporter/dismantle.prom")

A nil *Metrics is valid and records nothing.
*/
package monitoring
