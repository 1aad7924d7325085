package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blobmirror/blobmirror/internal/blobstore"
)

// Construction floors. Smaller values would make the hysteresis bands
// degenerate, so the constructor clamps instead of failing.
const (
	minMaxNotFound = 10
	minMaxSize     = 5 * 1024 * 1024
	minValidity    = time.Hour
)

// partSuffix marks in-progress download files inside the cache directory.
const partSuffix = ".part"

// Options carries the tuning knobs for a Cache.
type Options struct {
	Store       blobstore.Store
	Dir         string
	MaxSize     int64
	MaxNotFound int
	Validity    time.Duration
	KeepForever *regexp.Regexp
	Logger      *logrus.Logger
}

// Cache owns the key→Item directory, the size and not-found accounting and
// the background expirer. Items reference it back through a non-owning
// handle; they disappear only via the directory map.
type Cache struct {
	store       blobstore.Store
	log         *logrus.Logger
	dir         string
	maxSize     int64
	maxNotFound int
	validity    time.Duration
	keepForever *regexp.Regexp

	mu            sync.Mutex
	items         map[string]*Item
	currentSize   int64
	notFoundCount int
	disposed      bool

	trigger *expireTrigger
	stop    chan struct{}
	done    chan struct{}
}

// New builds a Cache, creates the cache directory if missing, sweeps stale
// partial files from a previous run and starts the expirer.
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, errors.New("blob store is required")
	}
	if opts.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	if opts.MaxNotFound < minMaxNotFound {
		opts.MaxNotFound = minMaxNotFound
	}
	if opts.MaxSize < minMaxSize {
		opts.MaxSize = minMaxSize
	}
	if opts.Validity < minValidity {
		opts.Validity = minValidity
	}

	abs, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	c := &Cache{
		store:       opts.Store,
		log:         opts.Logger,
		dir:         abs,
		maxSize:     opts.MaxSize,
		maxNotFound: opts.MaxNotFound,
		validity:    opts.Validity,
		keepForever: opts.KeepForever,
		items:       make(map[string]*Item),
		trigger:     newExpireTrigger(expireJitter),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	c.sweepLeftovers()
	go c.expireLoop()
	return c, nil
}

// sweepLeftovers removes partial files orphaned by a crash. The in-memory
// directory does not survive restarts, so nothing references them.
func (c *Cache) sweepLeftovers() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.WithError(err).WithField("action", "leftover_sweep").Warn("could not scan cache directory")
		return
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		c.log.WithFields(logrus.Fields{
			"action": "leftover_sweep",
			"files":  removed,
		}).Info("removed stale partial files")
	}
}

// NormalizeKey strips the leading slashes of a request path. Keys are
// otherwise opaque to the cache.
func NormalizeKey(key string) string {
	return strings.TrimLeft(key, "/")
}

// Get returns the Item for key, creating it on first sight. A stale item is
// still returned: the request that notices staleness is served from the
// existing state while the expirer is signalled for the next one.
func (c *Cache) Get(key string) (*Item, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	now := time.Now()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	it, ok := c.items[key]
	if !ok {
		it = newItem(c, key, now)
		c.items[key] = it
	}
	c.mu.Unlock()

	it.touch(now)
	if ok && it.isExpiredAt(now) && !it.neverExpires {
		c.trigger.Fire()
	}
	return it, nil
}

// ForceExpire removes the named items immediately and returns how many were
// present. Idempotent per key.
func (c *Cache) ForceExpire(keys []string) int {
	collected := make([]*Item, 0, len(keys))

	c.mu.Lock()
	for _, key := range keys {
		key = NormalizeKey(key)
		if it, ok := c.items[key]; ok {
			delete(c.items, key)
			collected = append(collected, it)
		}
	}
	c.mu.Unlock()

	for _, it := range collected {
		it.Expire()
	}
	if len(collected) > 0 {
		c.log.WithFields(logrus.Fields{
			"action": "force_expire",
			"items":  len(collected),
		}).Info("forced expiration")
	}
	return len(collected)
}

// reportCompleted is called by an Item once its download finished; bytes are
// counted as kept from this point on.
func (c *Cache) reportCompleted(it *Item, n int64) {
	c.mu.Lock()
	c.currentSize += n
	over := c.currentSize > c.maxSize
	c.mu.Unlock()

	if over {
		c.trigger.Fire()
	}
}

// reportNotFound is called by an Item settling in NotFound.
func (c *Cache) reportNotFound(it *Item) {
	c.mu.Lock()
	c.notFoundCount++
	over := c.notFoundCount > c.maxNotFound
	c.mu.Unlock()

	if over {
		c.trigger.Fire()
	}
}

// reportExpired reverses the accounting of the state the item left behind.
// The item is already out of the directory map when this runs, so a retry
// Get for the same key observes the adjusted counters.
func (c *Cache) reportExpired(it *Item, prev State, available int64) {
	c.mu.Lock()
	switch prev {
	case StateNotFound:
		c.notFoundCount--
	case StateDownloaded:
		c.currentSize -= available
	}
	c.mu.Unlock()
}

// Stats is a point-in-time view of the cache accounting.
type Stats struct {
	Items         int   `json:"items"`
	CurrentSize   int64 `json:"current_size"`
	NotFoundCount int   `json:"not_found_count"`
}

// Stats returns the current accounting snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Items:         len(c.items),
		CurrentSize:   c.currentSize,
		NotFoundCount: c.notFoundCount,
	}
}

// Validity returns the effective validity period after clamping.
func (c *Cache) Validity() time.Duration {
	return c.validity
}

// Ready reports whether the cache accepts requests.
func (c *Cache) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disposed
}

func (c *Cache) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Close marks the cache disposed, expires every item and stops the expirer.
// Subsequent Get calls fail with ErrDisposed.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.disposed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	return nil
}
