package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/micro-nova/tabyctl/internal/config"
	"github.com/micro-nova/tabyctl/internal/naming"
	"github.com/micro-nova/tabyctl/internal/supervisor"
)

var errExec = errors.New("exec: no such file")

// fakeWorkers simulates worker processes. Workers stay alive until stopped
// or killed by the test.
type fakeWorkers struct {
	nextPID   int
	alive     map[int]bool
	spawned   []supervisor.Spec
	stopped   []int
	failURLs  map[string]bool
	stuckPIDs map[int]bool
}

func newFakeWorkers() *fakeWorkers {
	return &fakeWorkers{
		nextPID:   1000,
		alive:     make(map[int]bool),
		failURLs:  make(map[string]bool),
		stuckPIDs: make(map[int]bool),
	}
}

func (f *fakeWorkers) Spawn(_ context.Context, spec supervisor.Spec) (int, error) {
	if f.failURLs[spec.URL] {
		return 0, fmt.Errorf("%w: %w", supervisor.ErrSpawn, errExec)
	}
	f.nextPID++
	f.alive[f.nextPID] = true
	f.spawned = append(f.spawned, spec)
	return f.nextPID, nil
}

func (f *fakeWorkers) IsAlive(pid int) bool { return f.alive[pid] }

func (f *fakeWorkers) Stop(_ context.Context, pid int) error {
	f.stopped = append(f.stopped, pid)
	if f.stuckPIDs[pid] {
		return fmt.Errorf("pid %d: %w", pid, supervisor.ErrStuck)
	}
	f.alive[pid] = false
	return nil
}

func (f *fakeWorkers) StopAll(ctx context.Context, pids []int) map[int]error {
	failed := make(map[int]error)
	for _, pid := range pids {
		if err := f.Stop(ctx, pid); err != nil {
			failed[pid] = err
		}
	}
	return failed
}

func (f *fakeWorkers) LogPath(id int) string { return fmt.Sprintf("/tmp/taby-test/taby_%d.log", id) }

// kill simulates a worker exiting on its own.
func (f *fakeWorkers) kill(pid int) { f.alive[pid] = false }

// titles is a TitleSource backed by a map. Unknown locators block until the
// lookup context expires.
type titles map[string]string

func (t titles) Title(ctx context.Context, locator string) (string, error) {
	if title, ok := t[locator]; ok {
		return title, nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testConfig(max int) config.Config {
	cfg := config.Default()
	cfg.MaxConcurrent = max
	cfg.ProbePorts = false
	return cfg
}

type harness struct {
	ctrl    *Controller
	workers *fakeWorkers
	clock   *testingclock.FakeClock
}

func newHarness(t *testing.T, cfg config.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		workers: newFakeWorkers(),
		clock:   testingclock.NewFakeClock(epoch),
	}
	resolver := naming.NewResolver(titles{
		"https://www.youtube.com/watch?v=AAAAAAAAAAA": "Song A",
		"https://www.youtube.com/watch?v=BBBBBBBBBBB": "Song B",
		"https://www.youtube.com/watch?v=CCCCCCCCCCC": "Song C",
	}, naming.WithTimeout(20*time.Millisecond))
	opts = append([]Option{WithClock(h.clock)}, opts...)
	h.ctrl = New(cfg, h.workers, resolver, opts...)
	return h
}

const (
	urlA = "https://www.youtube.com/watch?v=AAAAAAAAAAA"
	urlB = "https://www.youtube.com/watch?v=BBBBBBBBBBB"
	urlC = "https://www.youtube.com/watch?v=CCCCCCCCCCC"
)
