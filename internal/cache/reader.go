package cache

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Reader streams an item's bytes to one client. It is read-only, forward-only
// and not seekable. A reader created while the download is still running
// tails the writer: reads past the available length block until more bytes
// are flushed or the download settles.
type Reader struct {
	ctx    context.Context
	item   *Item
	file   *os.File
	length int64
	pos    int64
	tail   bool
}

// Length reports the full remote length of the item, not the bytes currently
// on disk.
func (r *Reader) Length() int64 { return r.length }

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !r.tail {
		return r.readPlain(p)
	}
	return r.readTail(p)
}

// readPlain serves a fully downloaded item straight from the file.
func (r *Reader) readPlain(p []byte) (int, error) {
	if r.pos >= r.length {
		return 0, io.EOF
	}
	n, err := r.file.ReadAt(p, r.pos)
	r.pos += int64(n)
	if n > 0 {
		return n, nil
	}
	return 0, err
}

// readTail serves bytes as the single writer flushes them. The loop
// re-examines the item after every progress signal; bytes are observed in
// exactly the order the writer appended them.
func (r *Reader) readTail(p []byte) (int, error) {
	for {
		r.item.mu.Lock()
		available := r.item.availableLength
		state := r.item.state
		signal := r.item.progress
		r.item.mu.Unlock()

		if r.pos < available {
			want := p
			if remaining := available - r.pos; int64(len(want)) > remaining {
				want = want[:remaining]
			}
			n, err := r.file.ReadAt(want, r.pos)
			r.pos += int64(n)
			if n > 0 {
				return n, nil
			}
			if err != nil && err != io.EOF {
				return 0, err
			}
			continue
		}

		// Caught up with the writer.
		if available >= r.length {
			// Download completed; everything has been served.
			return 0, io.EOF
		}

		switch state {
		case StateActive:
			if signal == nil {
				// Rearm race: the writer swapped signals between our
				// snapshot and now. Re-examine.
				continue
			}
			select {
			case <-signal.ch:
				if signal.err != nil {
					return 0, fmt.Errorf("download aborted: %w", signal.err)
				}
			case <-r.ctx.Done():
				return 0, r.ctx.Err()
			}
		case StateDownloaded:
			// Completion raced our snapshot; loop to serve the rest.
			continue
		default:
			// The attempt failed (Created) or the item was expired with the
			// transfer incomplete.
			return 0, fmt.Errorf("download aborted in state %s", state)
		}
	}
}

// Close releases the underlying file handle. It never affects the download.
func (r *Reader) Close() error {
	return r.file.Close()
}
