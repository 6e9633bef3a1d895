package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/micro-nova/tabyctl/internal/models"
	"github.com/micro-nova/tabyctl/internal/ports"
	"github.com/micro-nova/tabyctl/internal/supervisor"
)

// Enqueue appends a work item to the queue without admitting anything.
func (c *Controller) Enqueue(item models.WorkItem) {
	c.queue.Enqueue(item)
	c.changed()
}

// AdmitUpTo admits queued items in FIFO order until the concurrency bound is
// reached or the queue is empty. It returns the instances it started.
//
// An item whose worker fails to start is dropped, or put back at the tail of
// the queue when requeueing is configured. A requeued failure ends the pass.
func (c *Controller) AdmitUpTo(ctx context.Context) []models.Instance {
	var admitted []models.Instance
	c.backfill = false
	for c.reg.RunningCount() < c.cfg.MaxConcurrent && ctx.Err() == nil {
		item, ok := c.queue.DequeueFront()
		if !ok {
			break
		}
		inst, err := c.admit(ctx, item)
		if err != nil {
			c.metrics.IncSpawnFailures()
			if c.cfg.RequeueFailed {
				slog.Warn("controller: worker failed to start, requeueing", "url", item.URL, "err", err)
				c.queue.Enqueue(item)
				break
			}
			slog.Error("controller: worker failed to start, dropping work item", "url", item.URL, "err", err)
			continue
		}
		admitted = append(admitted, inst)
	}
	c.changed()
	return admitted
}

// admit turns one work item into a Starting instance.
func (c *Controller) admit(ctx context.Context, item models.WorkItem) (models.Instance, error) {
	names := c.namer.Resolve(ctx, item.URL)
	for live := range c.reg.Live() {
		if live.SinkName == names.Sink {
			slog.Warn("controller: device name already used by a live instance",
				"sink", names.Sink, "other_id", live.ID, "url", item.URL)
			break
		}
	}

	id := c.reg.NextID()
	ordinal := ports.NextOrdinal(c.reg.HeldOrdinals())
	spec := supervisor.Spec{
		ID:         id,
		URL:        item.URL,
		SinkName:   names.Sink,
		SourceName: names.Source,
	}
	if c.cfg.Streaming {
		pair := ports.For(ordinal, c.cfg.PortBase())
		spec.RTSPPort, spec.HTTPPort = &pair.RTSP, &pair.HTTP
		c.probePorts(id, pair)
	}

	pid, err := c.workers.Spawn(ctx, spec)
	if err != nil {
		return models.Instance{}, err
	}

	inst := models.Instance{
		ID:         id,
		PID:        pid,
		Source:     item,
		Name:       names.Derived,
		SinkName:   names.Sink,
		SourceName: names.Source,
		Ordinal:    ordinal,
		RTSPPort:   spec.RTSPPort,
		HTTPPort:   spec.HTTPPort,
		State:      models.StateStarting,
		LogPath:    c.workers.LogPath(id),
		StartedAt:  c.clock.Now(),
	}
	if err := c.reg.Insert(inst); err != nil {
		// Ids come from the registry itself, so this means a bug. Do not leak the worker.
		_ = c.workers.Stop(ctx, pid)
		return models.Instance{}, fmt.Errorf("register instance %d: %w", id, err)
	}
	c.metrics.IncAdmissions()
	slog.Info("controller: instance admitted", "id", id, "pid", pid, "name", names.Derived,
		"ordinal", ordinal, "url", item.URL)
	return inst, nil
}

func (c *Controller) probePorts(id int, pair ports.Pair) {
	if c.portInUse == nil {
		return
	}
	for _, p := range []int{pair.RTSP, pair.HTTP} {
		if c.portInUse(p) {
			slog.Warn("controller: port already accepting connections", "id", id, "port", p)
		}
	}
}
