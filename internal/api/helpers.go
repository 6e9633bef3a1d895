// Package api implements the optional HTTP surface of the controller: JSON
// status, the command endpoint, SSE snapshots and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/micro-nova/tabyctl/internal/console"
	"github.com/micro-nova/tabyctl/internal/identity"
	"github.com/micro-nova/tabyctl/internal/metrics"
	"github.com/micro-nova/tabyctl/internal/models"
)

// Controller is the part of the controller the handlers read from. Every
// read goes through Do so it runs on the controller loop.
type Controller interface {
	Do(ctx context.Context, fn func(ctx context.Context)) error
	Snapshot() models.Snapshot
	Get(id int) (models.Instance, *models.CmdError)
}

// Commands executes operator command lines.
type Commands interface {
	Exec(ctx context.Context, line string) console.Response
}

// EventBus is the interface for subscribing to snapshot events.
type EventBus interface {
	Subscribe(id string) <-chan models.Snapshot
	Unsubscribe(id string)
}

// Deps are the router dependencies. Metrics and Quit may be nil.
type Deps struct {
	Ctrl     Controller
	Commands Commands
	Events   EventBus
	Metrics  *metrics.Metrics
	Info     identity.Info
	// Quit is called after an exit/quit command has stopped every instance.
	Quit func()
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
}

// snapshot reads the controller state on the loop.
func (h *Handlers) snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	err := h.Ctrl.Do(ctx, func(context.Context) { snap = h.Ctrl.Snapshot() })
	return snap, err
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a CmdError as a JSON response. Other errors become INTERNAL.
func writeError(w http.ResponseWriter, err error) {
	var cerr *models.CmdError
	if !errors.As(err, &cerr) {
		cerr = models.ErrInternal(err.Error())
	}
	writeJSON(w, cerr.Status, cerr)
}

// intParam reads a positive integer path parameter by name.
func intParam(r *http.Request, name string) (int, *models.CmdError) {
	s := chi.URLParam(r, name)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, models.ErrUsage("invalid " + name + " parameter")
	}
	return n, nil
}
