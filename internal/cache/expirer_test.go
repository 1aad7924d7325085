package cache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"testing"
	"time"
)

// download fetches key to completion and returns its item.
func download(t *testing.T, c *Cache, key string) *Item {
	t.Helper()
	it, err := c.Get(key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	fut, err := it.StartDownload(context.Background())
	if err != nil {
		t.Fatalf("download %s: %v", key, err)
	}
	if ok, err := fut.Wait(context.Background()); !ok {
		t.Fatalf("download %s failed: %v", key, err)
	}
	return it
}

func TestEnforceLimitsSizeEviction(t *testing.T) {
	store := newFakeStore()
	const fileSize = 2 * 1024 * 1024
	for i := range 10 {
		store.addBytes(fmt.Sprintf("f%d", i), bytes.Repeat([]byte{byte(i)}, fileSize))
	}
	c := newTestCache(t, store, func(opts *Options) {
		opts.MaxSize = 10 * 1024 * 1024
	})

	paths := make(map[string]string)
	for i := range 10 {
		key := fmt.Sprintf("f%d", i)
		it := download(t, c, key)
		it.mu.Lock()
		paths[key] = it.localPath
		it.mu.Unlock()
		// Distinct access times so the recency order is unambiguous.
		it.touch(time.Now().Add(time.Duration(i) * time.Millisecond))
	}

	if err := c.enforceLimits(); err != nil {
		t.Fatalf("enforce limits: %v", err)
	}

	stats := c.Stats()
	if stats.CurrentSize > 10*1024*1024 {
		t.Fatalf("currentSize = %d, still above cap", stats.CurrentSize)
	}

	// The most recently accessed files survive; the evicted files are gone
	// from disk.
	for i := range 10 {
		key := fmt.Sprintf("f%d", i)
		it, _ := c.Get(key)
		_, statErr := os.Stat(paths[key])
		if i >= 6 {
			if it.State() != StateDownloaded {
				t.Fatalf("%s should survive, state = %s", key, it.State())
			}
			if statErr != nil {
				t.Fatalf("%s file should exist: %v", key, statErr)
			}
		} else if statErr == nil {
			t.Fatalf("%s file should have been evicted", key)
		}
	}
}

func TestEnforceLimitsNotFoundEviction(t *testing.T) {
	store := newFakeStore()
	c := newTestCache(t, store, func(opts *Options) {
		opts.MaxNotFound = 100
	})

	for i := range 120 {
		it, _ := c.Get(fmt.Sprintf("missing-%d", i))
		it.Exists(context.Background())
		it.touch(time.Now().Add(time.Duration(i) * time.Millisecond))
	}
	if got := c.Stats().NotFoundCount; got != 120 {
		t.Fatalf("notFoundCount = %d, want 120", got)
	}

	if err := c.enforceLimits(); err != nil {
		t.Fatalf("enforce limits: %v", err)
	}

	// Band: keep maxNotFound - max(10, maxNotFound/10) = 90 entries.
	if got := c.Stats().NotFoundCount; got != 90 {
		t.Fatalf("notFoundCount after sweep = %d, want 90", got)
	}

	// Most recently touched entries survive.
	it, _ := c.Get("missing-119")
	if it.State() != StateNotFound {
		t.Fatalf("most recent not-found entry was evicted, state = %s", it.State())
	}
}

func TestEnforceLimitsTimeExpiry(t *testing.T) {
	store := newFakeStore()
	store.addBytes("old", []byte("old"))
	store.addBytes("fresh", []byte("fresh"))
	c := newTestCache(t, store, nil)

	old := download(t, c, "old")
	fresh := download(t, c, "fresh")
	backdate(old)

	if err := c.enforceLimits(); err != nil {
		t.Fatalf("enforce limits: %v", err)
	}

	if old.State() != StateExpired {
		t.Fatalf("stale item should expire, state = %s", old.State())
	}
	if fresh.State() != StateDownloaded {
		t.Fatalf("fresh item should survive, state = %s", fresh.State())
	}
}

func TestKeepForeverExemptFromTimeButNotSize(t *testing.T) {
	store := newFakeStore()
	store.addBytes("keep/me.bin", []byte("kept"))
	c := newTestCache(t, store, func(opts *Options) {
		opts.KeepForever = regexp.MustCompile(`^keep/`)
	})

	kept := download(t, c, "keep/me.bin")
	backdate(kept)

	if err := c.enforceLimits(); err != nil {
		t.Fatalf("enforce limits: %v", err)
	}
	if kept.State() != StateDownloaded {
		t.Fatalf("keep-forever item expired by time, state = %s", kept.State())
	}

	// The size cap still applies to keep-forever items.
	const fileSize = 3 * 1024 * 1024
	store.addBytes("keep/huge-a", bytes.Repeat([]byte{0x01}, fileSize))
	store.addBytes("keep/huge-b", bytes.Repeat([]byte{0x02}, fileSize))
	store.addBytes("keep/huge-c", bytes.Repeat([]byte{0x03}, fileSize))
	for _, key := range []string{"keep/huge-a", "keep/huge-b", "keep/huge-c"} {
		download(t, c, key)
	}

	if err := c.enforceLimits(); err != nil {
		t.Fatalf("enforce limits: %v", err)
	}
	if got := c.Stats().CurrentSize; got > c.maxSize {
		t.Fatalf("currentSize = %d exceeds cap despite keep-forever", got)
	}
}

func TestActiveItemsAreNotSizeCounted(t *testing.T) {
	store := newFakeStore()
	store.add("inflight", &fakeObject{
		data:       bytes.Repeat([]byte{0x10}, 1024*1024),
		chunkSize:  4 * 1024,
		chunkDelay: 2 * time.Millisecond,
	})
	c := newTestCache(t, store, nil)

	it, _ := c.Get("inflight")
	fut, err := it.StartDownload(context.Background())
	if err != nil {
		t.Fatalf("start download: %v", err)
	}
	if got := c.Stats().CurrentSize; got != 0 {
		t.Fatalf("active download already size-counted: %d", got)
	}
	if err := c.enforceLimits(); err != nil {
		t.Fatalf("enforce limits: %v", err)
	}
	if it.State() != StateActive {
		t.Fatalf("active item must not be evicted by the size pass, state = %s", it.State())
	}

	if ok, _ := fut.Wait(context.Background()); !ok {
		t.Fatal("download failed")
	}
	if got := c.Stats().CurrentSize; got != 1024*1024 {
		t.Fatalf("currentSize after completion = %d", got)
	}
}

func TestStaleGetTriggersSweep(t *testing.T) {
	store := newFakeStore()
	store.addBytes("stale", []byte("stale"))
	c := newTestCache(t, store, nil)

	it := download(t, c, "stale")
	backdate(it)

	// The stale Get still returns the item; the sweep happens afterwards.
	again, err := c.Get("stale")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if again != it {
		t.Fatal("stale item must be served to the request that noticed it")
	}

	waitFor(t, 5*time.Second, func() bool {
		fresh, err := c.Get("stale")
		return err == nil && fresh != it
	}, "expirer evicts the stale item after the debounce")
}

func TestTriggerCoalescesBursts(t *testing.T) {
	trigger := newExpireTrigger(50 * time.Millisecond)

	gen := trigger.generation()
	for range 10 {
		trigger.Fire()
	}

	select {
	case <-gen:
	case <-time.After(time.Second):
		t.Fatal("trigger never fired")
	}
	trigger.rotate()

	// The remaining fires hit the old generation; the new one stays quiet.
	select {
	case <-trigger.generation():
		t.Fatal("rotated generation fired without a new Fire call")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTriggerLateFireIsBenign(t *testing.T) {
	trigger := newExpireTrigger(30 * time.Millisecond)
	trigger.Fire()
	trigger.rotate() // rotate before the jitter elapses

	select {
	case <-trigger.generation():
		t.Fatal("late fire must land on the abandoned generation")
	case <-time.After(100 * time.Millisecond):
	}
}
