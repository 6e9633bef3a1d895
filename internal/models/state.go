// Package models defines the data structures shared by the tabyctl controller.
// JSON field names are stable; they are served as-is by the HTTP surface.
package models

import (
	"fmt"
	"time"
)

// WorkItem is a locator (a URL) waiting to be turned into an Instance.
type WorkItem struct {
	URL string `json:"url"`
}

// InstanceState is the lifecycle state of an Instance.
type InstanceState int

const (
	StateStarting InstanceState = iota
	StateRunning
	StateDead
)

func (s InstanceState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateDead:
		return "Dead"
	default:
		return fmt.Sprintf("InstanceState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states serialize by name.
func (s InstanceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *InstanceState) UnmarshalText(b []byte) error {
	for _, st := range []InstanceState{StateStarting, StateRunning, StateDead} {
		if string(b) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown instance state %q", b)
}

// Live reports whether the state holds resources (a concurrency slot and an ordinal).
func (s InstanceState) Live() bool {
	return s == StateStarting || s == StateRunning
}

// Instance is the record of one admitted worker.
type Instance struct {
	ID         int           `json:"id"`
	PID        int           `json:"pid"`
	Source     WorkItem      `json:"source"`
	Name       string        `json:"name"`
	SinkName   string        `json:"sink_name"`
	SourceName string        `json:"source_name"`
	Ordinal    int           `json:"ordinal"`
	RTSPPort   *int          `json:"rtsp_port,omitempty"` // nil when streaming is disabled
	HTTPPort   *int          `json:"http_port,omitempty"`
	State      InstanceState `json:"state"`
	LogPath    string        `json:"log_path"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  time.Time     `json:"stopped_at,omitzero"`
}

// Streaming reports whether the instance was given network ports.
func (i Instance) Streaming() bool {
	return i.RTSPPort != nil && i.HTTPPort != nil
}

// RTSPURL returns the RTSP address served by the worker, or "" without streaming.
func (i Instance) RTSPURL(host string) string {
	if i.RTSPPort == nil {
		return ""
	}
	return fmt.Sprintf("rtsp://%s:%d/audio", host, *i.RTSPPort)
}

// HTTPURL returns the browser stream address served by the worker, or "" without streaming.
func (i Instance) HTTPURL(host string) string {
	if i.HTTPPort == nil {
		return ""
	}
	return fmt.Sprintf("http://%s:%d/stream.ogg", host, *i.HTTPPort)
}

// Snapshot is a point-in-time copy of the controller state, published on every change.
type Snapshot struct {
	Instances     []Instance `json:"instances"`
	Queue         []WorkItem `json:"queue"`
	Active        int        `json:"active"`
	MaxConcurrent int        `json:"max_concurrent"`
}
