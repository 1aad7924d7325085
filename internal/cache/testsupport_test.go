package cache

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// newTestCache builds an engine over a fake store in a temp directory.
func newTestCache(t *testing.T, store *fakeStore, mutate func(*Options)) *Cache {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	opts := Options{
		Store:    store,
		Dir:      t.TempDir(),
		Validity: time.Hour,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&opts)
	}

	c, err := New(opts)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}

// backdate moves an item's expiry into the past.
func backdate(it *Item) {
	it.mu.Lock()
	it.expiresAt = time.Now().Add(-time.Minute)
	it.mu.Unlock()
}
