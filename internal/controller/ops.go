package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/micro-nova/tabyctl/internal/models"
)

// Add validates raw as a locator, enqueues it and runs admission.
func (c *Controller) Add(ctx context.Context, raw string) (models.WorkItem, []models.Instance, *models.CmdError) {
	item, cerr := models.ParseWorkItem(raw)
	if cerr != nil {
		return models.WorkItem{}, nil, cerr
	}
	c.queue.Enqueue(item)
	slog.Debug("controller: work item queued", "url", item.URL, "queue", c.queue.PeekSize())
	return item, c.AdmitUpTo(ctx), nil
}

// Stop stops the live instance id, marks it Dead and backfills from the queue.
func (c *Controller) Stop(ctx context.Context, id int) (models.Instance, []models.Instance, *models.CmdError) {
	inst, ok := c.reg.Get(id)
	if !ok || !inst.State.Live() {
		return models.Instance{}, nil, models.ErrNotFound(notFoundMsg(id))
	}
	stopped := c.terminate(ctx, inst)
	c.metrics.IncStops()
	return stopped, c.AdmitUpTo(ctx), nil
}

// Next evicts the oldest live instance, if any, and backfills from the queue.
// The evicted instance is nil when nothing was live.
func (c *Controller) Next(ctx context.Context) (*models.Instance, []models.Instance) {
	var evicted *models.Instance
	if oldest, ok := c.reg.Oldest(); ok {
		stopped := c.terminate(ctx, oldest)
		evicted = &stopped
		c.metrics.IncEvictions()
	}
	return evicted, c.AdmitUpTo(ctx)
}

// StopAll stops every live instance and marks each Dead, even those whose
// worker could not be stopped. It does not admit queued work.
func (c *Controller) StopAll(ctx context.Context) []models.Instance {
	var (
		live []models.Instance
		pids []int
	)
	for inst := range c.reg.Live() {
		live = append(live, inst)
		pids = append(pids, inst.PID)
	}
	if len(live) == 0 {
		return nil
	}

	failed := c.workers.StopAll(ctx, pids)
	now := c.clock.Now()
	stopped := make([]models.Instance, 0, len(live))
	for _, inst := range live {
		if err, ok := failed[inst.PID]; ok {
			slog.Error("controller: worker did not stop, marking dead anyway", "id", inst.ID, "pid", inst.PID, "err", err)
		}
		_ = c.reg.MarkDead(inst.ID, now)
		dead, _ := c.reg.Get(inst.ID)
		stopped = append(stopped, dead)
	}
	slog.Info("controller: stopped all instances", "count", len(stopped))
	c.changed()
	return stopped
}

// Clean removes every Dead instance from the registry and returns their ids.
func (c *Controller) Clean() []int {
	purged := c.reg.PurgeDead()
	if len(purged) > 0 {
		slog.Info("controller: purged dead instances", "ids", purged)
		c.changed()
	}
	return purged
}

// Refresh checks the liveness of every live worker without admitting
// anything. Starting instances that outlived the start grace become Running;
// vanished workers become Dead and leave a backfill pending for Poll.
func (c *Controller) Refresh() []models.Instance {
	now := c.clock.Now()
	var died []models.Instance
	promoted := false
	for inst := range c.reg.Live() {
		if !c.workers.IsAlive(inst.PID) {
			_ = c.reg.MarkDead(inst.ID, now)
			dead, _ := c.reg.Get(inst.ID)
			died = append(died, dead)
			c.metrics.IncDeaths()
			slog.Info("controller: worker exited", "id", inst.ID, "pid", inst.PID, "log", inst.LogPath)
			continue
		}
		if inst.State == models.StateStarting && now.Sub(inst.StartedAt) >= c.cfg.StartGrace.Std() {
			_ = c.reg.MarkRunning(inst.ID)
			promoted = true
			slog.Debug("controller: instance running", "id", inst.ID, "pid", inst.PID)
		}
	}
	if len(died) > 0 {
		c.backfill = true
	}
	if len(died) > 0 || promoted {
		c.changed()
	}
	return died
}

// Poll is the periodic liveness pass run by the loop: it refreshes states
// and, when a worker death freed capacity, backfills from the queue.
func (c *Controller) Poll(ctx context.Context) (died, admitted []models.Instance) {
	died = c.Refresh()
	if c.backfill {
		admitted = c.AdmitUpTo(ctx)
	}
	return died, admitted
}

// terminate stops inst's worker and marks it Dead. A worker that will not
// die is logged and still marked Dead.
func (c *Controller) terminate(ctx context.Context, inst models.Instance) models.Instance {
	if err := c.workers.Stop(ctx, inst.PID); err != nil {
		slog.Error("controller: worker did not stop, marking dead anyway", "id", inst.ID, "pid", inst.PID, "err", err)
	}
	_ = c.reg.MarkDead(inst.ID, c.clock.Now())
	slog.Info("controller: instance stopped", "id", inst.ID, "pid", inst.PID)
	dead, _ := c.reg.Get(inst.ID)
	return dead
}

func notFoundMsg(id int) string {
	return fmt.Sprintf("no running instance with id %d", id)
}

// StatusLine renders the one-line occupancy summary.
func (c *Controller) StatusLine() string {
	return fmt.Sprintf("Active: %d/%d | Queue: %d", c.reg.RunningCount(), c.cfg.MaxConcurrent, c.queue.PeekSize())
}
