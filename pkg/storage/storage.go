package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotExist is returned when a stored object is absent.
	ErrNotExist = errors.New("storage: object does not exist")
	// ErrInvalidName is returned for names that could escape the storage root.
	ErrInvalidName = errors.New("storage: invalid object name")
)

// Object is an opened stored object.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// BlobStore is a flat namespace of named objects. Put must make an object
// visible only once it is completely written.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string) error
	Open(ctx context.Context, name string) (*Object, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// ValidateName rejects names that are not a single plain path element.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.HasPrefix(name, "."):
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidName
	case strings.Contains(name, ".."):
		return ErrInvalidName
	case path.Clean(name) != name:
		return ErrInvalidName
	}
	return nil
}
