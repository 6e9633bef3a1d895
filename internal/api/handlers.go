package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/micro-nova/tabyctl/internal/console"
	"github.com/micro-nova/tabyctl/internal/models"
)

// instanceView is an Instance with its stream URLs resolved.
type instanceView struct {
	models.Instance
	RTSPURL string `json:"rtsp_url,omitempty"`
	HTTPURL string `json:"http_url,omitempty"`
}

func (h *Handlers) view(inst models.Instance) instanceView {
	return instanceView{
		Instance: inst,
		RTSPURL:  inst.RTSPURL(h.Info.Host),
		HTTPURL:  inst.HTTPURL(h.Info.Host),
	}
}

type statusResponse struct {
	Active        int    `json:"active"`
	MaxConcurrent int    `json:"max_concurrent"`
	Queued        int    `json:"queued"`
	Instances     int    `json:"instances"`
	Hostname      string `json:"hostname"`
	Version       string `json:"version"`
}

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Active:        snap.Active,
		MaxConcurrent: snap.MaxConcurrent,
		Queued:        len(snap.Queue),
		Instances:     len(snap.Instances),
		Hostname:      h.Info.Hostname,
		Version:       h.Info.Version,
	})
}

func (h *Handlers) getInstances(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]instanceView, 0, len(snap.Instances))
	for _, inst := range snap.Instances {
		views = append(views, h.view(inst))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) getInstance(w http.ResponseWriter, r *http.Request) {
	id, cerr := intParam(r, "id")
	if cerr != nil {
		writeError(w, cerr)
		return
	}
	var inst models.Instance
	if err := h.Ctrl.Do(r.Context(), func(context.Context) {
		inst, cerr = h.Ctrl.Get(id)
	}); err != nil {
		writeError(w, err)
		return
	}
	if cerr != nil {
		writeError(w, cerr)
		return
	}
	writeJSON(w, http.StatusOK, h.view(inst))
}

func (h *Handlers) getQueue(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	queue := snap.Queue
	if queue == nil {
		queue = []models.WorkItem{}
	}
	writeJSON(w, http.StatusOK, queue)
}

type commandRequest struct {
	Cmd string `json:"cmd"`
}

type commandResponse struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// run executes one command line and writes its response.
func (h *Handlers) run(w http.ResponseWriter, r *http.Request, line string) {
	resp := h.Commands.Exec(r.Context(), line)
	if resp.Err != nil {
		writeError(w, resp.Err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Command: resp.Command, Output: resp.Text})
	if resp.Quit && h.Quit != nil {
		h.Quit()
	}
}

func (h *Handlers) execCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.ErrUsage("body must be {\"cmd\": \"...\"}"))
		return
	}
	h.run(w, r, req.Cmd)
}

func (h *Handlers) addToQueue(w http.ResponseWriter, r *http.Request) {
	var item models.WorkItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, models.ErrUsage("body must be {\"url\": \"...\"}"))
		return
	}
	if item.URL == "" {
		writeError(w, models.ErrUsage("url is required"))
		return
	}
	h.run(w, r, "add "+item.URL)
}

func (h *Handlers) stopInstance(w http.ResponseWriter, r *http.Request) {
	id, cerr := intParam(r, "id")
	if cerr != nil {
		writeError(w, cerr)
		return
	}
	h.run(w, r, "stop "+strconv.Itoa(id))
}

var _ Commands = (*console.Interpreter)(nil)
