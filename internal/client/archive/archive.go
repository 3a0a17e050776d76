// Package archive stores exported backup files on a local directory or an
// S3 bucket.
package archive

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("archive object not found")
	ErrInvalidName = errors.New("invalid archive object name")
)

// Object describes a stored file.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store is an export target.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]Object, error)
	// Location describes where objects end up, for user messages.
	Location(name string) string
}
