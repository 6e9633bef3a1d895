package models

import (
	"net/url"
	"strings"
)

// ParseWorkItem validates a locator. Only absolute http(s) URLs are accepted.
func ParseWorkItem(raw string) (WorkItem, *CmdError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return WorkItem{}, ErrUsage("a URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return WorkItem{}, ErrInvalidURL("invalid URL format: " + raw)
	}
	return WorkItem{URL: raw}, nil
}
