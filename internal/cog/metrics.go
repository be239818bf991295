// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Lifecycle operations.
const (
	OpLoad     = "load"
	OpUnload   = "unload"
	OpReload   = "reload"
	OpTeardown = "teardown"
)

// Status constants for lifecycle and dispatch metrics.
const (
	StatusSuccess          = "success"
	StatusError            = "error"
	StatusNotFound         = "not_found"
	StatusPermissionDenied = "permission_denied"
	StatusRateLimited      = "rate_limited"
)

// LifecycleOperations counts load, unload, reload and teardown outcomes.
// Use RegisterMetrics to register this with a Prometheus registry.
var LifecycleOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cogbot_cog_lifecycle_total",
		Help: "Total number of cog lifecycle operations",
	},
	[]string{"operation", "status"},
)

// LoadedCogs tracks the number of cogs currently published in the registry.
var LoadedCogs = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "cogbot_cogs_loaded",
		Help: "Number of currently loaded cogs",
	},
)

// CommandExecutions is the counter for command dispatches.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cogbot_command_executions_total",
		Help: "Total number of command executions",
	},
	[]string{"cog", "command", "status"},
)

// CommandDuration is the histogram for command execution duration.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "cogbot_command_duration_seconds",
		Help:    "Command execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"cog", "command"},
)

// RegisterMetrics registers cog package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LifecycleOperations)
	reg.MustRegister(LoadedCogs)
	reg.MustRegister(CommandExecutions)
	reg.MustRegister(CommandDuration)
}

// RecordLifecycle increments the lifecycle counter.
func RecordLifecycle(op, status string) {
	LifecycleOperations.WithLabelValues(op, status).Inc()
}

// RecordCommandExecution increments the command execution counter.
// Unresolved commands are recorded with an empty cog label.
func RecordCommandExecution(cogName, command, status string) {
	CommandExecutions.WithLabelValues(cogName, command, status).Inc()
}

// RecordCommandDuration records how long a command took to execute.
func RecordCommandDuration(cogName, command string, duration time.Duration) {
	CommandDuration.WithLabelValues(cogName, command).Observe(duration.Seconds())
}
