package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hylord",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server process starts.",
		},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hylord",
			Subsystem: "server",
			Name:      "exits_total",
			Help:      "Number of server process exits by kind (stopped, crashed, killed).",
		}, []string{"kind"},
	)
	serverState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hylord",
			Subsystem: "server",
			Name:      "state",
			Help:      "Current lifecycle state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	playersOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hylord",
			Subsystem: "players",
			Name:      "online",
			Help:      "Players currently online.",
		},
	)
	playerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hylord",
			Subsystem: "players",
			Name:      "events_total",
			Help:      "Player join/leave events observed in the server console.",
		}, []string{"event"},
	)
	backups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hylord",
			Subsystem: "backup",
			Name:      "snapshots_total",
			Help:      "Snapshot attempts by mode (online, offline, restore) and result.",
		}, []string{"mode", "result"},
	)
	scheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hylord",
			Subsystem: "schedule",
			Name:      "actions_total",
			Help:      "Scheduled maintenance actions by kind (restart, backup) and outcome.",
		}, []string{"kind", "outcome"},
	)
	processCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hylord",
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage of the server process tree.",
		},
	)
	processRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hylord",
			Subsystem: "server",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the server process tree.",
		},
	)
)

var states = []string{"offline", "starting", "online", "crashed"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serverStarts, serverStops, serverState, playersOnline, playerEvents, backups, scheduled, processCPU, processRSS}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		serverStarts.Inc()
	}
}

func IncExit(kind string) {
	if regOK.Load() {
		serverStops.WithLabelValues(kind).Inc()
	}
}

// SetState marks state as the only active lifecycle state.
func SetState(state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		serverState.WithLabelValues(s).Set(v)
	}
}

func SetPlayersOnline(n int) {
	if regOK.Load() {
		playersOnline.Set(float64(n))
	}
}

func IncPlayerEvent(event string) {
	if regOK.Load() {
		playerEvents.WithLabelValues(event).Inc()
	}
}

func IncBackup(mode string, err error) {
	if regOK.Load() {
		backups.WithLabelValues(mode, result(err)).Inc()
	}
}

func IncScheduled(kind, outcome string) {
	if regOK.Load() {
		scheduled.WithLabelValues(kind, outcome).Inc()
	}
}

func SetProcessUsage(cpuPercent float64, rssBytes uint64) {
	if regOK.Load() {
		processCPU.Set(cpuPercent)
		processRSS.Set(float64(rssBytes))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
