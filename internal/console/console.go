// Package console implements the operator command language over any
// line-oriented text channel.
package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/micro-nova/tabyctl/internal/controller"
	"github.com/micro-nova/tabyctl/internal/metrics"
	"github.com/micro-nova/tabyctl/internal/models"
)

// Response is the single reply to one command line.
type Response struct {
	Command string
	Text    string
	Err     *models.CmdError
	// Quit is set by exit/quit once every instance has been stopped.
	Quit bool
}

// String renders the response for a text channel.
func (r Response) String() string {
	if r.Err != nil {
		return "error: " + r.Err.Message
	}
	return r.Text
}

type handler func(ctx context.Context, arg string) Response

// Interpreter parses command lines and runs them against a Controller.
type Interpreter struct {
	ctrl    *controller.Controller
	host    string
	metrics *metrics.Metrics
	cmds    map[string]handler
}

// New creates an Interpreter. host is used to render stream URLs.
func New(ctrl *controller.Controller, host string, m *metrics.Metrics) *Interpreter {
	in := &Interpreter{ctrl: ctrl, host: host, metrics: m}
	in.cmds = map[string]handler{
		"list":     in.list,
		"stop":     in.stop,
		"stop-all": in.stopAll,
		"add":      in.add,
		"next":     in.next,
		"clean":    in.clean,
		"queue":    in.queue,
		"help":     in.help,
		"exit":     in.exit,
		"quit":     in.exit,
		"status":   in.status,
		"info":     in.info,
	}
	return in
}

// Parse splits a line at its first whitespace into a command name and one
// trailing argument. The argument is trimmed but not split further.
func Parse(line string) (name, arg string) {
	line = strings.TrimSpace(line)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i:])
}

// Execute runs one command line. It must be called on the controller loop;
// use Exec from any other goroutine.
func (in *Interpreter) Execute(ctx context.Context, line string) Response {
	name, arg := Parse(line)
	h, ok := in.cmds[name]
	if !ok {
		resp := Response{Command: name, Err: models.ErrUnknownCommand(
			fmt.Sprintf("unknown command %q, type help for the command list", name))}
		in.metrics.ObserveCommand("unknown", resp.Err.Code)
		return resp
	}
	resp := h(ctx, arg)
	resp.Command = name
	result := "ok"
	if resp.Err != nil {
		result = resp.Err.Code
	}
	in.metrics.ObserveCommand(name, result)
	return resp
}

// Exec runs one command line on the controller loop and waits for the reply.
func (in *Interpreter) Exec(ctx context.Context, line string) Response {
	var resp Response
	if err := in.ctrl.Do(ctx, func(ctx context.Context) {
		resp = in.Execute(ctx, line)
	}); err != nil {
		name, _ := Parse(line)
		return Response{Command: name, Err: models.ErrInternal(err.Error())}
	}
	return resp
}

func (in *Interpreter) list(ctx context.Context, _ string) Response {
	in.ctrl.Refresh()
	insts := in.ctrl.Instances()
	if len(insts) == 0 {
		return Response{Text: "No instances."}
	}
	return Response{Text: renderTable(insts)}
}

func (in *Interpreter) stop(ctx context.Context, arg string) Response {
	id, cerr := parseID("stop", arg)
	if cerr != nil {
		return Response{Err: cerr}
	}
	stopped, admitted, cerr := in.ctrl.Stop(ctx, id)
	if cerr != nil {
		return Response{Err: cerr}
	}
	lines := []string{fmt.Sprintf("Stopped instance %d (%s).", stopped.ID, stopped.Name)}
	return Response{Text: joinLines(append(lines, startedLines(admitted)...))}
}

func (in *Interpreter) stopAll(ctx context.Context, _ string) Response {
	stopped := in.ctrl.StopAll(ctx)
	if len(stopped) == 0 {
		return Response{Text: "No running instances."}
	}
	return Response{Text: fmt.Sprintf("Stopped %d instance(s).", len(stopped))}
}

func (in *Interpreter) add(ctx context.Context, arg string) Response {
	if arg == "" {
		return Response{Err: models.ErrUsage("usage: add URL")}
	}
	item, admitted, cerr := in.ctrl.Add(ctx, arg)
	if cerr != nil {
		return Response{Err: cerr}
	}
	lines := []string{fmt.Sprintf("Queued %s.", item.URL)}
	lines = append(lines, startedLines(admitted)...)
	if len(admitted) == 0 {
		lines = append(lines, fmt.Sprintf("Waiting for a free slot (%s).", in.ctrl.StatusLine()))
	}
	return Response{Text: joinLines(lines)}
}

func (in *Interpreter) next(ctx context.Context, _ string) Response {
	evicted, admitted := in.ctrl.Next(ctx)
	var lines []string
	if evicted != nil {
		lines = append(lines, fmt.Sprintf("Evicted instance %d (%s).", evicted.ID, evicted.Name))
	} else {
		lines = append(lines, "No running instance to evict.")
	}
	if len(admitted) == 0 {
		lines = append(lines, "Queue is empty, nothing started.")
	}
	return Response{Text: joinLines(append(lines, startedLines(admitted)...))}
}

func (in *Interpreter) clean(_ context.Context, _ string) Response {
	purged := in.ctrl.Clean()
	return Response{Text: fmt.Sprintf("Removed %d dead instance(s).", len(purged))}
}

func (in *Interpreter) queue(_ context.Context, _ string) Response {
	items := in.ctrl.Queue()
	if len(items) == 0 {
		return Response{Text: "Queue is empty."}
	}
	lines := make([]string, 0, len(items))
	for i, item := range items {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, item.URL))
	}
	return Response{Text: joinLines(lines)}
}

func (in *Interpreter) help(_ context.Context, _ string) Response {
	return Response{Text: helpText}
}

func (in *Interpreter) exit(ctx context.Context, _ string) Response {
	stopped := in.ctrl.StopAll(ctx)
	return Response{Text: fmt.Sprintf("Stopped %d instance(s). Bye.", len(stopped)), Quit: true}
}

func (in *Interpreter) status(ctx context.Context, _ string) Response {
	in.ctrl.Refresh()
	return Response{Text: in.ctrl.StatusLine()}
}

func (in *Interpreter) info(_ context.Context, arg string) Response {
	id, cerr := parseID("info", arg)
	if cerr != nil {
		return Response{Err: cerr}
	}
	inst, cerr := in.ctrl.Get(id)
	if cerr != nil {
		return Response{Err: cerr}
	}
	lines := []string{
		fmt.Sprintf("ID: %d", inst.ID),
		"  URL: " + inst.Source.URL,
		"  Name: " + inst.Name,
		fmt.Sprintf("  State: %s (pid %d)", inst.State, inst.PID),
		fmt.Sprintf("  Devices: %s / %s", inst.SinkName, inst.SourceName),
	}
	if inst.Streaming() {
		lines = append(lines, "  RTSP: "+inst.RTSPURL(in.host), "  HTTP: "+inst.HTTPURL(in.host))
	} else {
		lines = append(lines, "  Streaming: disabled")
	}
	lines = append(lines, "  Log: "+inst.LogPath)
	return Response{Text: joinLines(lines)}
}

func parseID(cmd, arg string) (int, *models.CmdError) {
	if arg == "" {
		return 0, models.ErrUsage(fmt.Sprintf("usage: %s ID", cmd))
	}
	id, err := strconv.Atoi(arg)
	if err != nil || id < 1 {
		return 0, models.ErrUsage(fmt.Sprintf("usage: %s ID (ID is a positive number, got %q)", cmd, arg))
	}
	return id, nil
}

func startedLines(admitted []models.Instance) []string {
	lines := make([]string, 0, len(admitted))
	for _, inst := range admitted {
		lines = append(lines, fmt.Sprintf("Started instance %d (%s) for %s.", inst.ID, inst.Name, inst.Source.URL))
	}
	return lines
}

func joinLines(lines []string) string { return strings.Join(lines, "\n") }

const helpText = `Commands:
  list        show all instances, dead ones included
  stop ID     stop a running instance
  stop-all    stop every running instance
  add URL     queue a URL and start it when a slot is free
  next        stop the oldest instance and start the next queued URL
  clean       remove dead instances from the list
  queue       show queued URLs
  status      show active and queued counts
  info ID     show stream URLs and log file of an instance
  help        show this help
  exit, quit  stop everything and exit`
