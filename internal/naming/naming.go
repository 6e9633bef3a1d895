// Package naming derives bounded device names for work items.
//
// A Resolver asks a TitleSource (yt-dlp by default) for a human title with a
// bounded timeout. Whatever happens, Resolve returns a usable name: lookups that
// fail, time out or produce an empty title fall back to a name built from the
// locator alone.
package naming

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
)

const (
	// DeviceNameMax is the PulseAudio limit for sink/source names used by the worker.
	DeviceNameMax = 15
	// DerivedNameMax bounds the derived name itself.
	DerivedNameMax = 24
	// TitleBudget is the number of sanitized title characters kept.
	TitleBudget = 10

	namePrefix    = "taby"
	fragmentLen   = 3
	hashFragLen   = 8
	defaultTTL    = time.Hour
	defaultLookup = 10 * time.Second
)

// Names is the derived name triple for one instance.
type Names struct {
	Derived string
	Sink    string
	Source  string
	// Title is the resolved title, empty when the fallback was used.
	Title string
}

// TitleSource looks up a free-text title for a locator.
type TitleSource interface {
	Title(ctx context.Context, locator string) (string, error)
}

// Resolver derives Names with a bounded, cached title lookup.
type Resolver struct {
	src     TitleSource
	timeout time.Duration
	cache   *ttlcache.Cache[string, string]
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds each title lookup.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCacheTTL sets how long resolved titles are reused for repeated locators.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.cache = ttlcache.New(ttlcache.WithTTL[string, string](d))
		}
	}
}

// NewResolver creates a Resolver. A nil src always uses the fallback name.
func NewResolver(src TitleSource, opts ...Option) *Resolver {
	r := &Resolver{
		src:     src,
		timeout: defaultLookup,
		cache:   ttlcache.New(ttlcache.WithTTL[string, string](defaultTTL)),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve derives the names for locator. It never fails and returns within
// the lookup timeout.
func (r *Resolver) Resolve(ctx context.Context, locator string) Names {
	title := r.lookup(ctx, locator)
	derived := ""
	if clean := Sanitize(title); clean != "" {
		derived = fmt.Sprintf("%s-%s-%s", namePrefix, clean, truncate(Fragment(locator), fragmentLen))
	} else {
		title = ""
		derived = FallbackName(locator)
	}
	derived = truncate(derived, DerivedNameMax)
	return Names{
		Derived: derived,
		Sink:    truncate(derived+"_sink", DeviceNameMax),
		Source:  truncate(derived+"_source", DeviceNameMax),
		Title:   title,
	}
}

func (r *Resolver) lookup(ctx context.Context, locator string) string {
	if r.src == nil {
		return ""
	}
	if item := r.cache.Get(locator); item != nil {
		return item.Value()
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	title, err := r.src.Title(lctx, locator)
	if err != nil {
		slog.Info("naming: title lookup failed, using fallback name", "url", locator, "err", err)
		return ""
	}
	title = strings.TrimSpace(title)
	if title != "" {
		r.cache.Set(locator, title, ttlcache.DefaultTTL)
	}
	return title
}

var nonAlnumSpace = regexp.MustCompile(`[^a-zA-Z0-9 ]`)

// Sanitize strips a title to alphanumerics and spaces, lowercases it, turns
// spaces into underscores and keeps at most TitleBudget characters.
func Sanitize(title string) string {
	s := nonAlnumSpace.ReplaceAllString(title, "")
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return truncate(s, TitleBudget)
}

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?(?:.*&)?v=([^&#]+)`),
	regexp.MustCompile(`youtube\.com/shorts/([^?&#/]+)`),
	regexp.MustCompile(`youtu\.be/([^?&#/]+)`),
}

// Fragment returns an identifier derived from the locator alone: the video id
// for YouTube URLs, otherwise a short hash of the whole locator.
func Fragment(locator string) string {
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(locator); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(locator))[:hashFragLen]
}

// FallbackName builds a derived name without any network lookup.
func FallbackName(locator string) string {
	return truncate(namePrefix+"-"+Fragment(locator), DerivedNameMax)
}

// truncate cuts s to at most n bytes. Derived names are ASCII so bytes are characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
