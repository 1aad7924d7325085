package cache

import "errors"

var (
	// ErrNotFound reports that the remote store has no object for the key.
	ErrNotFound = errors.New("object not found")

	// ErrDisposed reports an operation on a closed cache.
	ErrDisposed = errors.New("cache is closed")

	// ErrInvalidState reports a reader request in a state that has no local
	// file. Callers hitting this raced an expiration and may retry with a
	// fresh Get.
	ErrInvalidState = errors.New("invalid item state")

	// ErrExpired interrupts waiters when an item is expired mid-download.
	ErrExpired = errors.New("item expired")

	// ErrEmptyKey reports a key that is empty after normalization.
	ErrEmptyKey = errors.New("empty key")
)
