package naming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// YtDlp resolves titles by running yt-dlp.
type YtDlp struct {
	Binary string
}

// NewYtDlp returns a title source running the given yt-dlp binary ("yt-dlp" if empty).
func NewYtDlp(binary string) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{Binary: binary}
}

// Title runs `yt-dlp --skip-download --print title <locator>`. The process is
// killed when ctx expires.
func (y *YtDlp) Title(ctx context.Context, locator string) (string, error) {
	cmd := exec.CommandContext(ctx, y.Binary, "--skip-download", "--no-warnings", "--print", "title", locator)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("yt-dlp: %w", ctxErr)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("yt-dlp: %w", err)
		}
		return "", fmt.Errorf("yt-dlp: %w: %s", err, msg)
	}

	// Playlists print one title per entry; the first one names the item.
	title, _, _ := strings.Cut(string(out), "\n")
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errors.New("yt-dlp: empty title")
	}
	return title, nil
}

// Available reports whether the binary can be found.
func (y *YtDlp) Available() bool {
	_, err := exec.LookPath(y.Binary)
	return err == nil
}
