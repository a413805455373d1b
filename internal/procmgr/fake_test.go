package procmgr

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/jianglan89/rtp-llm/internal/runtime"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances only when the monitor loop sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
	trace  []string
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	c.mu.Unlock()
	goruntime.Gosched()
}

func (c *fakeClock) elapsed() time.Duration {
	return c.Now().Sub(epoch)
}

func (c *fakeClock) record(entry string) {
	c.mu.Lock()
	c.trace = append(c.trace, entry)
	c.mu.Unlock()
}

func (c *fakeClock) entries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.trace...)
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

const never = -1

// fakeHandle derives liveness from the fake clock. exitAt is when it exits
// on its own; exitAfterTerm is how long it takes to exit once terminated.
// Either may be never.
type fakeHandle struct {
	name  string
	pid   int
	clock *fakeClock

	exitAt        time.Duration
	exitAfterTerm time.Duration
	joinErr       error

	mu           sync.Mutex
	terminates   int
	kills        int
	joins        int
	terminatedAt time.Duration
	killedAt     time.Duration
}

var nextPid = 1000

func newFakeHandle(clock *fakeClock, name string, exitAt, exitAfterTerm time.Duration) *fakeHandle {
	nextPid++
	return &fakeHandle{
		name:          name,
		pid:           nextPid,
		clock:         clock,
		exitAt:        exitAt,
		exitAfterTerm: exitAfterTerm,
	}
}

func (h *fakeHandle) Name() string { return h.name }
func (h *fakeHandle) Pid() int     { return h.pid }

func (h *fakeHandle) Alive() bool {
	now := h.clock.elapsed()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.kills > 0 {
		return false
	}
	if h.exitAt != never && now >= h.exitAt {
		return false
	}
	if h.terminates > 0 && h.exitAfterTerm != never && now >= h.terminatedAt+h.exitAfterTerm {
		return false
	}
	return true
}

func (h *fakeHandle) Terminate() error {
	now := h.clock.elapsed()
	h.clock.record("terminate " + h.name)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminates == 0 {
		h.terminatedAt = now
	}
	h.terminates++
	return nil
}

func (h *fakeHandle) Kill() error {
	now := h.clock.elapsed()
	h.clock.record("kill " + h.name)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.kills == 0 {
		h.killedAt = now
	}
	h.kills++
	return nil
}

func (h *fakeHandle) Join() error {
	h.clock.record("join " + h.name)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joins++
	return h.joinErr
}

func (h *fakeHandle) counts() (terminates, kills, joins int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminates, h.kills, h.joins
}

func (h *fakeHandle) terminatedAfter() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminatedAt
}

func (h *fakeHandle) killedAfter() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killedAt
}

func fakeSet(clock *fakeClock, prefix string, n int, exitAt, exitAfterTerm time.Duration) []*fakeHandle {
	out := make([]*fakeHandle, n)
	for i := range out {
		out[i] = newFakeHandle(clock, fmt.Sprintf("%s-%d", prefix, i), exitAt, exitAfterTerm)
	}
	return out
}

var errJoin = errors.New("wait: input/output error")

func handles(fs ...*fakeHandle) []runtime.Handle {
	out := make([]runtime.Handle, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}
