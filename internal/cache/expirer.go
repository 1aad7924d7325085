package cache

import (
	"sort"
	"sync"
	"time"
)

// expireJitter debounces limit-exceeded reports: a burst of Fire calls inside
// the window collapses into one sweep.
const expireJitter = time.Second

// expireTrigger coalesces wake-up requests for the expirer. Fire captures the
// current generation, sleeps the jitter interval and then fires that
// generation; if the expirer rotated generations in the meantime the late
// fire lands on an abandoned channel and is benign.
type expireTrigger struct {
	mu     sync.Mutex
	jitter time.Duration
	gen    *triggerGen
}

type triggerGen struct {
	ch    chan struct{}
	fired bool
}

func newExpireTrigger(jitter time.Duration) *expireTrigger {
	return &expireTrigger{
		jitter: jitter,
		gen:    &triggerGen{ch: make(chan struct{})},
	}
}

// Fire schedules the current generation to fire after the jitter delay.
func (t *expireTrigger) Fire() {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()

	go func() {
		time.Sleep(t.jitter)
		t.mu.Lock()
		if !gen.fired {
			gen.fired = true
			close(gen.ch)
		}
		t.mu.Unlock()
	}()
}

// generation returns the channel the expirer should select on this cycle.
func (t *expireTrigger) generation() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen.ch
}

// rotate installs a fresh generation; pending fires against the old one are
// absorbed.
func (t *expireTrigger) rotate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen = &triggerGen{ch: make(chan struct{})}
}

// expireLoop is the single background task of the cache. Each cycle waits for
// the half-validity timer or a coalesced trigger, rotates the trigger
// generation and runs one enforcement sweep. Sweep errors are logged and
// swallowed; the loop only ends on dispose, after a final drain of all items.
func (c *Cache) expireLoop() {
	defer close(c.done)

	for {
		interval := c.validity/2 + time.Second
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-c.trigger.generation():
			timer.Stop()
		case <-c.stop:
			timer.Stop()
		}
		c.trigger.rotate()

		if c.isDisposed() {
			// Final drain: the disposed branch of enforceLimits expires
			// every remaining item.
			if err := c.enforceLimits(); err != nil {
				c.log.WithError(err).WithField("action", "expire_sweep").Warn("final drain failed")
			}
			return
		}
		if err := c.enforceLimits(); err != nil {
			c.log.WithError(err).WithField("action", "expire_sweep").Warn("enforcement sweep failed")
		}
	}
}

// itemSnapshot is the per-item view the extraction phase works on.
type itemSnapshot struct {
	it        *Item
	state     State
	available int64
	expiresAt time.Time
	accessed  int64
}

// enforceLimits computes the eviction set under the cache mutex and tears the
// victims down outside of it. Three policies contribute, all over the same
// most-recent-first ordering:
//
//   - not-found entries beyond the hysteresis rank
//   - downloaded bytes past the hysteresis band of the size cap
//   - anything past its expiry time (unless marked keep-forever)
//
// Keep-forever only shields against the time clause; the byte and not-found
// caps always win.
func (c *Cache) enforceLimits() error {
	now := time.Now()

	c.mu.Lock()
	if c.disposed {
		victims := make([]*Item, 0, len(c.items))
		for key, it := range c.items {
			victims = append(victims, it)
			delete(c.items, key)
		}
		c.mu.Unlock()
		for _, it := range victims {
			it.Expire()
		}
		return nil
	}

	snaps := make([]itemSnapshot, 0, len(c.items))
	for _, it := range c.items {
		state, available, expiresAt := it.snapshot()
		snaps = append(snaps, itemSnapshot{
			it:        it,
			state:     state,
			available: available,
			expiresAt: expiresAt,
			accessed:  it.lastAccessed.Load(),
		})
	}
	sort.Slice(snaps, func(a, b int) bool {
		return snaps[a].accessed > snaps[b].accessed
	})

	keepNotFound := c.maxNotFound - max(minMaxNotFound, c.maxNotFound/10)
	if keepNotFound < 0 {
		keepNotFound = 0
	}
	sizeBand := c.maxSize - c.maxSize/10

	evict := make(map[*Item]struct{})
	notFoundSeen := 0
	var downloadedSum int64
	for _, s := range snaps {
		switch s.state {
		case StateNotFound:
			notFoundSeen++
			if notFoundSeen > keepNotFound {
				evict[s.it] = struct{}{}
			}
		case StateDownloaded:
			downloadedSum += s.available
			if downloadedSum > sizeBand {
				evict[s.it] = struct{}{}
			}
		}
		if s.state == StateExpired || (s.expiresAt.Before(now) && !s.it.neverExpires) {
			evict[s.it] = struct{}{}
		}
	}

	victims := make([]*Item, 0, len(evict))
	for it := range evict {
		delete(c.items, it.key)
		victims = append(victims, it)
	}
	c.mu.Unlock()

	for _, it := range victims {
		it.Expire()
	}
	if len(victims) > 0 {
		c.log.WithField("action", "expire_sweep").WithField("evicted", len(victims)).Debug("enforcement sweep done")
	}
	return nil
}
