package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/blobmirror/blobmirror/internal/blobstore"
)

// fakeObject scripts one remote object for the fake store.
type fakeObject struct {
	data       []byte
	modTime    time.Time
	noLength   bool
	statErr    error
	openErr    error
	failAfter  int           // stream error after this many bytes (0 = never)
	chunkSize  int           // stream granularity (default: everything at once)
	chunkDelay time.Duration // pause between chunks, for tailing tests
}

// fakeStore is a scriptable BlobStore double that counts calls.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string]*fakeObject
	statCalls map[string]int
	openCalls map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:   make(map[string]*fakeObject),
		statCalls: make(map[string]int),
		openCalls: make(map[string]int),
	}
}

func (s *fakeStore) add(key string, obj *fakeObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = obj
}

func (s *fakeStore) addBytes(key string, data []byte) {
	s.add(key, &fakeObject{data: data, modTime: time.Unix(1700000000, 0)})
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
	s.statCalls[key]++
	obj, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		return blobstore.Info{}, blobstore.ErrNotFound
	}
	if obj.statErr != nil {
		return blobstore.Info{}, obj.statErr
	}
	if obj.noLength {
		return blobstore.Info{Length: -1, LastModified: obj.modTime}, nil
	}
	return blobstore.Info{Length: int64(len(obj.data)), LastModified: obj.modTime}, nil
}

func (s *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.openCalls[key]++
	obj, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		return nil, blobstore.ErrNotFound
	}
	if obj.openErr != nil {
		return nil, obj.openErr
	}
	return &fakeStream{obj: obj}, nil
}

var errFakeStream = errors.New("stream interrupted")

type fakeStream struct {
	obj *fakeObject
	pos int
}

func (r *fakeStream) Read(p []byte) (int, error) {
	if r.obj.failAfter > 0 && r.pos >= r.obj.failAfter {
		return 0, errFakeStream
	}
	if r.pos >= len(r.obj.data) {
		return 0, io.EOF
	}
	if r.obj.chunkDelay > 0 && r.pos > 0 {
		time.Sleep(r.obj.chunkDelay)
	}

	limit := len(r.obj.data)
	if r.obj.failAfter > 0 && r.obj.failAfter < limit {
		limit = r.obj.failAfter
	}
	n := limit - r.pos
	if r.obj.chunkSize > 0 && n > r.obj.chunkSize {
		n = r.obj.chunkSize
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.obj.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func (r *fakeStream) Close() error { return nil }
