// Package health exposes liveness and readiness endpoints for the monitor.
package health

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultGoroutineThreshold fails liveness when the monitor leaks goroutines.
const DefaultGoroutineThreshold = 10000

// PIDSource lists the processes that are believed to be running, by module.
type PIDSource interface {
	PIDs() map[string]int
}

// ProcessCheck fails when a process the source believes is running no longer exists.
func ProcessCheck(src PIDSource) healthcheck.Check {
	return func() error {
		pids := src.PIDs()
		modules := make([]string, 0, len(pids))
		for module := range pids {
			modules = append(modules, module)
		}
		sort.Strings(modules)
		for _, module := range modules {
			ok, err := process.PidExists(int32(pids[module]))
			if err != nil {
				return fmt.Errorf("%s: %w", module, err)
			}
			if !ok {
				return fmt.Errorf("%s: pid %d is gone", module, pids[module])
			}
		}
		return nil
	}
}

// NewHandler serves /live and /ready. When reg is not nil the check results are also
// exported as metrics.
func NewHandler(src PIDSource, reg prometheus.Registerer) healthcheck.Handler {
	var h healthcheck.Handler
	if reg != nil {
		h = healthcheck.NewMetricsHandler(reg, "ipcdemo")
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(DefaultGoroutineThreshold))
	h.AddReadinessCheck("supervised-processes", healthcheck.Timeout(ProcessCheck(src), time.Second))
	return h
}

// Mount registers the health endpoints on mux.
func Mount(mux *http.ServeMux, h healthcheck.Handler) {
	mux.HandleFunc("/live", h.LiveEndpoint)
	mux.HandleFunc("/ready", h.ReadyEndpoint)
}
