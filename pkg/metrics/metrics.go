package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CommandsTotal counts workflow commands by command name and outcome
// ("ok" or the error code).
var CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "buildforge",
	Subsystem: "requests",
	Name:      "commands_total",
	Help:      "Workflow commands processed, by command and outcome.",
}, []string{"cmd", "outcome"})

// OpenRequests tracks requests currently in a non-terminal state.
var OpenRequests = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "buildforge",
	Subsystem: "requests",
	Name:      "open_requests",
	Help:      "Requests currently in state new or review.",
})

func ObserveCommand(cmd string, err error, codeOf func(error) string) {
	outcome := "ok"
	if err != nil {
		outcome = codeOf(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	CommandsTotal.WithLabelValues(cmd, outcome).Inc()
}
