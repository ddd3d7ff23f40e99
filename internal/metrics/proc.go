// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcTerminateTotal counts termination signals sent to child process groups.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "juke_proc_terminate_total",
		Help: "Termination signals sent to child process groups by signal and result",
	}, []string{"signal", "result"})

	// ProcWaitTotal counts child process wait outcomes.
	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "juke_proc_wait_total",
		Help: "Child process wait outcomes",
	}, []string{"outcome"})
)

// IncProcTerminate records a termination signal delivery result.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records a child process wait outcome.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}
