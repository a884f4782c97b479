// Package blobstore persists sample payloads outside the relational store.
// Rows only keep the locator returned by Put.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrBlobNotFound is returned by Get when no payload is stored under the key.
var ErrBlobNotFound = errors.New("blob not found")

// Store is a byte-blob store keyed by content hash.
type Store interface {
	// Put stores data under key and returns the locator to persist on the sample row.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get returns the payload stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// validateKey rejects keys that could escape a directory or collide with
// temporary files.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty blob key")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}
