// Package controller owns the instance registry and the work queue and runs
// the admission algorithm over them.
//
// A Controller is not safe for concurrent use. Run executes every mutation on
// one goroutine; other goroutines submit work through Do.
package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"k8s.io/utils/clock"

	"github.com/micro-nova/tabyctl/internal/config"
	"github.com/micro-nova/tabyctl/internal/events"
	"github.com/micro-nova/tabyctl/internal/metrics"
	"github.com/micro-nova/tabyctl/internal/models"
	"github.com/micro-nova/tabyctl/internal/naming"
	"github.com/micro-nova/tabyctl/internal/ports"
	"github.com/micro-nova/tabyctl/internal/queue"
	"github.com/micro-nova/tabyctl/internal/registry"
	"github.com/micro-nova/tabyctl/internal/supervisor"
)

// ErrStopped is returned by Do once Run has returned.
var ErrStopped = errors.New("controller loop stopped")

// Workers starts, probes and stops worker processes.
// *supervisor.Supervisor implements it.
type Workers interface {
	Spawn(ctx context.Context, spec supervisor.Spec) (int, error)
	IsAlive(pid int) bool
	Stop(ctx context.Context, pid int) error
	StopAll(ctx context.Context, pids []int) map[int]error
	LogPath(id int) string
}

// Namer derives device names for a locator. *naming.Resolver implements it.
type Namer interface {
	Resolve(ctx context.Context, locator string) naming.Names
}

// Controller is the single source of truth for instances and queued work.
type Controller struct {
	cfg     config.Config
	reg     *registry.Registry
	queue   *queue.Queue
	workers Workers
	namer   Namer

	clock     clock.WithTicker
	bus       *events.Bus
	metrics   *metrics.Metrics
	portInUse func(port int) bool
	backfill  bool // a death was seen since the last admission pass

	reqs    chan request
	stopped chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.WithTicker) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithBus publishes a snapshot to bus after every state change.
func WithBus(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithMetrics records admissions, evictions and occupancy in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithPortProbe replaces the check used to warn about occupied ports.
// A nil probe disables the check.
func WithPortProbe(inUse func(port int) bool) Option {
	return func(c *Controller) { c.portInUse = inUse }
}

// New creates a Controller with an empty registry and queue.
func New(cfg config.Config, workers Workers, namer Namer, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		reg:     registry.New(),
		queue:   queue.New(),
		workers: workers,
		namer:   namer,
		clock:   clock.RealClock{},
		reqs:    make(chan request),
		stopped: make(chan struct{}),
	}
	if cfg.ProbePorts {
		c.portInUse = ports.InUse
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() config.Config { return c.cfg }

// Instances returns every registry entry, Dead ones included, in insertion order.
func (c *Controller) Instances() []models.Instance {
	return slices.Collect(c.reg.ListAll())
}

// Get returns the instance with the given id.
func (c *Controller) Get(id int) (models.Instance, *models.CmdError) {
	inst, ok := c.reg.Get(id)
	if !ok {
		return models.Instance{}, models.ErrNotFound(fmt.Sprintf("no instance with id %d", id))
	}
	return inst, nil
}

// Queue returns the queued work items in admission order.
func (c *Controller) Queue() []models.WorkItem {
	return c.queue.Snapshot()
}

// RunningCount returns the number of Starting or Running instances.
func (c *Controller) RunningCount() int {
	return c.reg.RunningCount()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() models.Snapshot {
	return models.Snapshot{
		Instances:     c.Instances(),
		Queue:         c.Queue(),
		Active:        c.reg.RunningCount(),
		MaxConcurrent: c.cfg.MaxConcurrent,
	}
}

// changed publishes the new state to subscribers and metrics.
func (c *Controller) changed() {
	active, queued := c.reg.RunningCount(), c.queue.PeekSize()
	c.metrics.SetOccupancy(active, queued)
	if c.bus != nil {
		c.bus.Publish(c.Snapshot())
	}
}
