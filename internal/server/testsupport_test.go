package server

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/blobmirror/blobmirror/internal/blobstore"
	"github.com/blobmirror/blobmirror/internal/cache"
	"github.com/blobmirror/blobmirror/internal/config"
)

// fakeStore is a scriptable remote store double that counts calls.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	statCalls map[string]int
	openCalls map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:   make(map[string][]byte),
		statCalls: make(map[string]int),
		openCalls: make(map[string]int),
	}
}

func (s *fakeStore) add(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

func (s *fakeStore) stats(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statCalls[key]
}

func (s *fakeStore) opens(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCalls[key]
}

func (s *fakeStore) Stat(ctx context.Context, key string) (blobstore.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statCalls[key]++
	data, ok := s.objects[key]
	if !ok {
		return blobstore.Info{}, blobstore.ErrNotFound
	}
	return blobstore.Info{Length: int64(len(data)), LastModified: time.Unix(1700000000, 0)}, nil
}

func (s *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openCalls[key]++
	data, ok := s.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return io.NopCloser(newSlowReader(data)), nil
}

// slowReader drips data in small chunks so tailing paths get exercised.
type slowReader struct {
	data []byte
	pos  int
}

func newSlowReader(data []byte) *slowReader {
	return &slowReader{data: data}
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := len(r.data) - r.pos
	if n > 8*1024 {
		n = 8 * 1024
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

type testEnv struct {
	app   *fiber.App
	cache *cache.Cache
	store *fakeStore
	cfg   *config.Config
}

// newTestEnv assembles the full application over a fake remote store.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Primary:   "fake://remote",
		CachePath: t.TempDir(),
		Listen:    ":0",
		APIKey:    "test-api-key",
	}
	if mutate != nil {
		mutate(cfg)
	}

	store := newFakeStore()
	engine, err := cache.New(cache.Options{
		Store:       store,
		Dir:         cfg.CachePath,
		MaxSize:     cfg.MaxSize.Bytes(),
		MaxNotFound: int(cfg.MaxNotFound.Bytes()),
		Validity:    cfg.CacheTime.Duration(),
		KeepForever: cfg.KeepForeverPattern,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() {
		_ = engine.Close()
	})

	app, err := NewApp(AppOptions{
		Logger: logger,
		Cache:  engine,
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}

	return &testEnv{app: app, cache: engine, store: store, cfg: cfg}
}
