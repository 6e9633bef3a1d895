package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadPlaylist returns the locators in the playlist file at path, in order.
func ReadPlaylist(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: playlist: %w", ErrInvalid, err)
	}
	defer f.Close()
	urls, err := ParsePlaylist(f)
	if err != nil {
		return nil, fmt.Errorf("%w: playlist %s: %w", ErrInvalid, path, err)
	}
	return urls, nil
}

// ParsePlaylist reads one locator per line. Blank lines and lines starting
// with '#' are skipped.
func ParsePlaylist(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
