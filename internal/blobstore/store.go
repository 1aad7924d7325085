package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store is the minimal capability set the cache engine needs from a remote
// object store: metadata lookup and a sequential byte stream. Backends are
// selected by the scheme of the PRIMARY connection string.
type Store interface {
	// Stat returns remote metadata for key. A missing object is reported as
	// ErrNotFound, never folded into a generic error.
	Stat(ctx context.Context, key string) (Info, error)

	// Open returns a readable byte stream over the object. The caller owns
	// the returned reader and must close it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Info describes a remote object. Length is negative when the remote cannot
// report a size; the cache treats such objects as absent.
type Info struct {
	Length       int64
	LastModified time.Time
}

// ErrNotFound 表示远端不存在该对象，是独立于其他错误的明确信号。
var ErrNotFound = errors.New("blob not found")
