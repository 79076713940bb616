// control/endpoint_control.go
// Author: momentics <momentics@gmail.com>
//
// Wires ConfigStore/MetricsRegistry/DebugProbes into the api.Control
// surface the endpoint exposes, and periodically refreshes the sampled
// observables from the live component collection.

package control

import (
	"time"

	"github.com/momentics/nioendpoint/api"
)

// Observables is the subset of live component state the endpoint samples
// into the metrics registry.
type Observables struct {
	KeepAliveCount       func() int64
	SendfileCount        func() int64
	AcceptFailures       func() int64
	PollerCriticalFailures func() int64
	WaitingCount         func() int
}

// Controller is the endpoint's api.Control implementation, composing
// ConfigStore, MetricsRegistry, and DebugProbes.
type Controller struct {
	cfg    *ConfigStore
	metrics *MetricsRegistry
	probes *DebugProbes

	obs Observables

	closing chan struct{}
}

// NewController builds a Controller and registers platform debug probes.
func NewController(obs Observables) *Controller {
	c := &Controller{
		cfg:     NewConfigStore(),
		metrics: NewMetricsRegistry(),
		probes:  NewDebugProbes(),
		obs:     obs,
		closing: make(chan struct{}),
	}
	RegisterPlatformProbes(c.probes)
	return c
}

// GetConfig implements api.Control.
func (c *Controller) GetConfig() map[string]any { return c.cfg.GetSnapshot() }

// SetConfig implements api.Control; the ConfigStore merges and fires
// reload hooks itself, asynchronously.
func (c *Controller) SetConfig(cfg map[string]any) error {
	c.cfg.SetConfig(cfg)
	return nil
}

// ReloadSync applies cfg and runs every reload hook on the calling
// goroutine before returning, for callers (an admin endpoint, a test)
// that need to observe the reload's effects before proceeding — unlike
// SetConfig, which only guarantees hooks are scheduled.
func (c *Controller) ReloadSync(cfg map[string]any) error {
	c.cfg.SetConfigSync(cfg)
	return nil
}

// Stats implements api.Control, returning the last sampled Observables
// snapshot, the config reload generation, metrics staleness, debug probe
// output, and the count of registered probes.
func (c *Controller) Stats() map[string]any {
	snap := c.metrics.GetSnapshot()
	snap["configGeneration"] = c.cfg.Generation()
	if last := c.metrics.LastUpdated(); !last.IsZero() {
		snap["metricsAgeMillis"] = time.Since(last).Milliseconds()
	}
	snap["debugProbeCount"] = c.probes.Count()
	for k, v := range c.probes.DumpState() {
		snap[k] = v
	}
	return snap
}

// OnReload implements api.Control.
func (c *Controller) OnReload(fn func()) { c.cfg.OnReload(fn) }

// RegisterDebugProbe implements api.Control.
func (c *Controller) RegisterDebugProbe(name string, fn func() any) {
	c.probes.RegisterProbe(name, fn)
}

// sample refreshes the metrics registry from the endpoint's live
// observables: keepAliveCount, sendfileCount, accept failures, poller
// critical failures, and the current async-parked count.
func (c *Controller) sample() {
	if c.obs.KeepAliveCount != nil {
		c.metrics.Set("keepAliveCount", c.obs.KeepAliveCount())
	}
	if c.obs.SendfileCount != nil {
		c.metrics.Set("sendfileCount", c.obs.SendfileCount())
	}
	if c.obs.AcceptFailures != nil {
		c.metrics.Set("acceptFailures", c.obs.AcceptFailures())
	}
	if c.obs.PollerCriticalFailures != nil {
		c.metrics.Set("pollerCriticalFailures", c.obs.PollerCriticalFailures())
	}
	if c.obs.WaitingCount != nil {
		c.metrics.Set("waitingCount", c.obs.WaitingCount())
	}
}

// Run samples Observables every interval until Shutdown. Intended to be
// launched as its own goroutine by the endpoint controller.
func (c *Controller) Run(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	c.sample()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.closing:
			return
		}
	}
}

// Shutdown stops the sampling loop. Idempotent.
func (c *Controller) Shutdown() error {
	select {
	case <-c.closing:
	default:
		close(c.closing)
	}
	return nil
}

var _ api.Control = (*Controller)(nil)
var _ api.GracefulShutdown = (*Controller)(nil)
