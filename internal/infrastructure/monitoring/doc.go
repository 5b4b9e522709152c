/*
Package monitoring provides metrics collection for the sync engine.

# Overview

This package implements Prometheus-based metrics collection, tracking
WebSocket connection lifecycle, inbound frame dispatch, turn outcomes,
and snapshot recovery.

# Features

- Connection metrics (active sockets, connects, reconnects)
- Frame metrics (per kind/event counters, drop reasons)
- Turn metrics (outcome counters)
- Snapshot/catch-up metrics
- Debug HTTP request metrics (latency, throughput)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Record engine activity
	metrics.RecordFrame("chat", "token")
	metrics.RecordFrameDropped("parse")
	metrics.IncReconnects()

All recording methods are nil-safe: components constructed without a
collector simply skip recording.

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
