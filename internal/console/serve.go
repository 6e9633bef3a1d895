package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Prompt is written before each command when prompting is enabled.
const Prompt = "taby> "

// Serve reads command lines from r and writes one response per command to w
// until exit/quit, end of input or ctx is done. It reports whether the
// operator asked to quit.
func (in *Interpreter) Serve(ctx context.Context, r io.Reader, w io.Writer, prompt bool) (quit bool, err error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		if prompt {
			fmt.Fprint(w, Prompt)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case err := <-readErr:
			if prompt {
				fmt.Fprintln(w)
			}
			return false, err
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			resp := in.Exec(ctx, line)
			fmt.Fprintln(w, resp.String())
			if resp.Err != nil {
				slog.Debug("console: command failed", "cmd", resp.Command, "code", resp.Err.Code)
			}
			if resp.Quit {
				return true, nil
			}
		}
	}
}
