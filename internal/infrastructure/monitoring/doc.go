/*
Package monitoring provides Prometheus metrics for termlink.

# Overview

Metrics live on a private registry created by NewMetrics. The client side
records connection attempts, RPC latency, handle validation and refresh,
command outcomes per execution strategy, and structured to sentinel
fallbacks. The control-plane server records websocket traffic.

All recording methods accept a nil receiver, so components take an optional
*Metrics and never branch on it.

# Usage

	metrics := monitoring.NewMetrics()
	sup := controlplane.NewSupervisor(opts, controlplane.WithMetrics(metrics))

	// expose for scraping
	mux.Handle("/metrics", metrics.Handler())

	// or summarize at exit
	logger.Debug("run summary", metrics.Snapshot().Fields()...)
*/
package monitoring
