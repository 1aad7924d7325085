package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blobmirror/blobmirror/internal/blobstore"
)

// State is the lifecycle position of an Item.
type State int32

const (
	StateCreated State = iota
	StateQuerying
	StateNotFound
	StateFound
	StateActive
	StateDownloaded
	StateExpired
)

var stateNames = map[State]string{
	StateCreated:    "created",
	StateQuerying:   "querying",
	StateNotFound:   "notfound",
	StateFound:      "found",
	StateActive:     "active",
	StateDownloaded: "downloaded",
	StateExpired:    "expired",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// transferChunkSize is the read buffer for the remote stream. Progress is
// published per chunk, so smaller chunks mean earlier bytes for tailing
// readers at the cost of more wakeups.
const transferChunkSize = 32 * 1024

// Future is a one-shot boolean result shared by every caller of the same
// single-flight operation. Once resolved it stays resolved.
type Future struct {
	done chan struct{}
	ok   bool
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve must be called exactly once.
func (f *Future) resolve(ok bool, err error) {
	f.ok = ok
	f.err = err
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is cancelled. Cancellation
// abandons the wait only; the underlying operation keeps running for the
// other waiters.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.ok, f.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// progressSignal is a rearmable broadcast. The downloader installs a fresh
// signal before completing the old one, so a waiter always observes the
// length that made its signal fire and can pick up the new signal afterwards.
type progressSignal struct {
	ch  chan struct{}
	n   int64
	err error
}

func newProgressSignal() *progressSignal {
	return &progressSignal{ch: make(chan struct{})}
}

func (p *progressSignal) complete(n int64, err error) {
	p.n = n
	p.err = err
	close(p.ch)
}

// Item is one entry of the cache directory. All mutable fields are guarded by
// mu except lastAccessed, which Get updates outside any lock.
type Item struct {
	cache *Cache // non-owning backref; the Cache owns the Item
	key   string

	mu              sync.Mutex
	state           State
	expiresAt       time.Time
	fullLength      int64
	lastModified    time.Time
	availableLength int64
	localPath       string
	exists          *Future
	download        *Future
	progress        *progressSignal

	neverExpires bool
	lastAccessed atomic.Int64 // unix nanoseconds
}

func newItem(c *Cache, key string, now time.Time) *Item {
	it := &Item{
		cache:        c,
		key:          key,
		state:        StateCreated,
		expiresAt:    now.Add(c.validity),
		neverExpires: c.keepForever != nil && c.keepForever.MatchString(key),
	}
	it.lastAccessed.Store(now.UnixNano())
	return it
}

// Key returns the normalized remote object path.
func (i *Item) Key() string { return i.key }

// State returns the current lifecycle state.
func (i *Item) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Length returns the remote-reported size. Valid once the item is Found.
func (i *Item) Length() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fullLength
}

// LastModified returns the remote-reported timestamp. Valid once Found.
func (i *Item) LastModified() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastModified
}

// LastAccessed returns the time of the most recent Get for this item.
func (i *Item) LastAccessed() time.Time {
	return time.Unix(0, i.lastAccessed.Load())
}

func (i *Item) touch(now time.Time) {
	i.lastAccessed.Store(now.UnixNano())
}

func (i *Item) isExpiredAt(now time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return now.After(i.expiresAt)
}

// snapshot is read by the expirer's extraction phase, which may hold the
// Cache mutex; the Item mutex nests inside it in that direction only.
func (i *Item) snapshot() (state State, available int64, expiresAt time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state, i.availableLength, i.expiresAt
}

// Exists resolves whether the remote store has this key. The first caller
// launches the probe; everyone shares the same permanently resolved result.
func (i *Item) Exists(ctx context.Context) (bool, error) {
	return i.existsFuture().Wait(ctx)
}

func (i *Item) existsFuture() *Future {
	i.mu.Lock()
	if i.exists != nil {
		f := i.exists
		i.mu.Unlock()
		return f
	}
	f := newFuture()
	i.exists = f
	if i.state == StateCreated {
		i.state = StateQuerying
	}
	i.mu.Unlock()

	go i.probe(f)
	return f
}

// probe asks the remote for metadata and settles the item in Found or
// NotFound. Transient remote errors and size-less objects both resolve the
// future to false; they are logged apart so operators can tell an outage
// from a genuinely missing object.
func (i *Item) probe(f *Future) {
	info, err := i.cache.store.Stat(context.Background(), i.key)

	if err == nil && info.Length >= 0 {
		i.mu.Lock()
		if i.state == StateQuerying {
			i.state = StateFound
			i.fullLength = info.Length
			i.lastModified = info.LastModified
			if i.lastModified.IsZero() {
				i.lastModified = time.Unix(0, 0)
			}
		}
		i.mu.Unlock()
		f.resolve(true, nil)
		return
	}

	switch {
	case err == nil:
		i.cache.log.WithFields(logrus.Fields{
			"action": "stat_no_length",
			"key":    i.key,
		}).Warn("remote reported no usable length, treating as not found")
	case errors.Is(err, blobstore.ErrNotFound):
		// Plain miss, not worth a warning.
	default:
		i.cache.log.WithError(err).WithFields(logrus.Fields{
			"action": "stat_failed",
			"key":    i.key,
		}).Warn("remote stat failed, caching as not found")
	}

	counted := false
	i.mu.Lock()
	if i.state == StateQuerying {
		i.state = StateNotFound
		counted = true
	}
	i.mu.Unlock()
	if counted {
		i.cache.reportNotFound(i)
	}
	f.resolve(false, nil)
}

// StartDownload ensures the transfer for this item is running and returns the
// shared download future. The existence probe is awaited first; a missing
// object fails with ErrNotFound. A previously failed download restarts from
// scratch.
func (i *Item) StartDownload(ctx context.Context) (*Future, error) {
	ok, err := i.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	i.mu.Lock()
	switch i.state {
	case StateActive, StateDownloaded:
		f := i.download
		i.mu.Unlock()
		return f, nil
	case StateFound, StateCreated:
		// Created happens after a failed attempt; the resolved existence
		// probe still vouches for the remote object, so retry from here.
	default:
		st := i.state
		i.mu.Unlock()
		return nil, fmt.Errorf("%w: download in state %s", ErrInvalidState, st)
	}

	name := fmt.Sprintf("%d-%s.part", time.Now().UnixNano(), uuid.NewString())
	path := filepath.Join(i.cache.dir, name)
	file, ferr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if ferr != nil {
		i.mu.Unlock()
		return nil, fmt.Errorf("create cache file: %w", ferr)
	}

	i.state = StateActive
	i.localPath = path
	i.availableLength = 0
	fut := newFuture()
	i.download = fut
	i.progress = newProgressSignal()
	i.mu.Unlock()

	go i.transfer(file, fut)
	return fut, nil
}

// transfer is the single writer of the local file. It streams the remote
// object chunk by chunk, publishing progress after every chunk, and settles
// the item in Downloaded or back in Created.
func (i *Item) transfer(file *os.File, fut *Future) {
	want := i.Length()

	rc, err := i.cache.store.Open(context.Background(), i.key)
	if err != nil {
		i.abortTransfer(file, fut, fmt.Errorf("open remote stream: %w", err))
		return
	}
	defer rc.Close()

	buf := make([]byte, transferChunkSize)
	var written int64
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				i.abortTransfer(file, fut, fmt.Errorf("write cache file: %w", werr))
				return
			}
			written += int64(n)
			if !i.advance(written) {
				// Expired underneath us; the file is already unlinked.
				i.abortTransfer(file, fut, ErrExpired)
				return
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			i.abortTransfer(file, fut, fmt.Errorf("read remote stream: %w", rerr))
			return
		}
	}

	if written != want {
		i.abortTransfer(file, fut, fmt.Errorf("short remote stream: got %d of %d bytes", written, want))
		return
	}
	if err := file.Sync(); err != nil {
		i.abortTransfer(file, fut, fmt.Errorf("sync cache file: %w", err))
		return
	}
	if err := file.Close(); err != nil {
		i.abortTransfer(nil, fut, fmt.Errorf("close cache file: %w", err))
		return
	}

	i.mu.Lock()
	if i.state != StateActive {
		i.mu.Unlock()
		i.settleAborted(fut, ErrExpired)
		return
	}
	i.state = StateDownloaded
	final := i.progress
	i.progress = nil
	i.mu.Unlock()

	// The cache must have counted the bytes before the future resolves.
	i.cache.reportCompleted(i, written)
	final.complete(written, nil)
	fut.resolve(true, nil)

	i.cache.log.WithFields(logrus.Fields{
		"action": "download_complete",
		"key":    i.key,
		"bytes":  written,
	}).Info("download complete")
}

// advance publishes a new available length: install a fresh signal, then
// complete the one waiters hold. Returns false when the item left Active.
func (i *Item) advance(n int64) bool {
	i.mu.Lock()
	if i.state != StateActive {
		i.mu.Unlock()
		return false
	}
	i.availableLength = n
	old := i.progress
	i.progress = newProgressSignal()
	i.mu.Unlock()

	old.complete(n, nil)
	return true
}

// abortTransfer tears down a failed attempt: partial file removed, state back
// to Created, waiters released with the cause. A later Get may retry.
func (i *Item) abortTransfer(file *os.File, fut *Future, cause error) {
	if file != nil {
		file.Close()
	}

	i.mu.Lock()
	path := i.localPath
	old := i.progress
	i.progress = nil
	if i.state == StateActive {
		i.state = StateCreated
		i.localPath = ""
		i.availableLength = 0
	} else {
		// Expire already owns the teardown of path and counters.
		path = ""
	}
	i.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			i.cache.log.WithError(err).WithFields(logrus.Fields{
				"action": "partial_remove_failed",
				"key":    i.key,
			}).Warn("could not remove partial file")
		}
	}
	if old != nil {
		old.complete(0, cause)
	}
	fut.resolve(false, cause)

	if !errors.Is(cause, ErrExpired) {
		i.cache.log.WithError(cause).WithFields(logrus.Fields{
			"action": "download_failed",
			"key":    i.key,
		}).Warn("download failed")
	}
}

func (i *Item) settleAborted(fut *Future, cause error) {
	fut.resolve(false, cause)
}

// NewReader returns a read-only stream over the local file. Legal in Active
// (tailing semantics) and Downloaded (plain sequential reads) only.
func (i *Item) NewReader(ctx context.Context) (*Reader, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch i.state {
	case StateActive, StateDownloaded:
	default:
		return nil, fmt.Errorf("%w: reader in state %s", ErrInvalidState, i.state)
	}

	file, err := os.Open(i.localPath)
	if err != nil {
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	return &Reader{
		ctx:    ctx,
		item:   i,
		file:   file,
		length: i.fullLength,
		tail:   i.state == StateActive,
	}, nil
}

// Expire removes the item from service. Idempotent; terminal. The local file
// is deleted best-effort; open readers keep their data through the open file
// handle (POSIX unlink semantics; the cache directory is not expected to
// live on a filesystem without them).
func (i *Item) Expire() {
	i.mu.Lock()
	if i.state == StateExpired {
		i.mu.Unlock()
		return
	}
	prev := i.state
	available := i.availableLength
	path := i.localPath
	old := i.progress
	i.state = StateExpired
	i.localPath = ""
	i.progress = nil
	i.mu.Unlock()

	i.cache.reportExpired(i, prev, available)

	if old != nil {
		old.complete(0, ErrExpired)
	}
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			i.cache.log.WithError(err).WithFields(logrus.Fields{
				"action": "expire_remove_failed",
				"key":    i.key,
			}).Debug("could not remove cache file")
		}
	}
}
