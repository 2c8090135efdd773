// Package storage keeps the bytes of sequence, reference and analysis output
// files. Blobs live either on the local filesystem or in an S3 bucket; the
// database only records paths relative to a class base directory.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
)

// Driver names a blob backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

// Info describes a stored blob.
type Info struct {
	Key          string
	Size         int64
	Checksum     string
	LastModified time.Time
}

// Store is a flat key/value blob store. Keys are slash separated and
// relative; Put never overwrites an existing key.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, key string, r io.Reader) (Info, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// Locate returns where the key lives: an absolute path or an s3:// URL.
	Locate(key string) string
}

// sanitizeKey rejects keys that could escape the store root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	clean := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", fmt.Errorf("invalid key traversal %q", key)
	}
	return clean, nil
}

// Class is a category of stored file with its own base directory.
type Class string

const (
	ClassSequence  Class = "sequence"
	ClassReference Class = "reference"
	ClassOutput    Class = "output"
)

// Stores holds one blob store per file class.
type Stores struct {
	Sequence  Store
	Reference Store
	Output    Store
}

// For returns the store of class c.
func (s *Stores) For(c Class) (Store, error) {
	switch c {
	case ClassSequence:
		return s.Sequence, nil
	case ClassReference:
		return s.Reference, nil
	case ClassOutput:
		return s.Output, nil
	}
	return nil, errors.E(errors.Op("storage.For"), errors.KindStorage, fmt.Sprintf("unknown file class %q", c))
}

// Open builds the stores described by cfg. With the fs driver each class is
// rooted at its configured base directory; with s3 every class shares the
// bucket under its own key prefix.
func Open(ctx context.Context, cfg config.StorageConfig) (*Stores, error) {
	const op errors.Op = "storage.Open"

	switch Driver(cfg.Blob.Driver) {
	case DriverFilesystem, "":
		seq, err := NewFSStore(cfg.SequenceFileDir)
		if err != nil {
			return nil, errors.E(op, errors.KindStorage, err)
		}
		ref, err := NewFSStore(cfg.ReferenceFileDir)
		if err != nil {
			return nil, errors.E(op, errors.KindStorage, err)
		}
		out, err := NewFSStore(cfg.OutputFileDir)
		if err != nil {
			return nil, errors.E(op, errors.KindStorage, err)
		}
		return &Stores{Sequence: seq, Reference: ref, Output: out}, nil
	case DriverS3:
		s3, err := NewS3Store(ctx, S3Config{
			Bucket:          cfg.Blob.Bucket,
			Region:          cfg.Blob.Region,
			Endpoint:        cfg.Blob.Endpoint,
			AccessKeyID:     cfg.Blob.AccessKey,
			SecretAccessKey: cfg.Blob.SecretKey,
			PathStyle:       cfg.Blob.UsePathStyle,
		})
		if err != nil {
			return nil, errors.E(op, errors.KindStorage, err)
		}
		return &Stores{
			Sequence:  Prefixed(s3, string(ClassSequence)),
			Reference: Prefixed(s3, string(ClassReference)),
			Output:    Prefixed(s3, string(ClassOutput)),
		}, nil
	}
	return nil, errors.E(op, errors.KindConfig, fmt.Sprintf("unknown blob driver %q", cfg.Blob.Driver))
}

// Prefixed scopes every key of s under prefix.
func Prefixed(s Store, prefix string) Store {
	return &prefixStore{Store: s, prefix: strings.Trim(prefix, "/") + "/"}
}

type prefixStore struct {
	Store
	prefix string
}

func (p *prefixStore) Put(ctx context.Context, key string, r io.Reader) (Info, error) {
	info, err := p.Store.Put(ctx, p.prefix+key, r)
	info.Key = strings.TrimPrefix(info.Key, p.prefix)
	return info, err
}

func (p *prefixStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixStore) Head(ctx context.Context, key string) (Info, error) {
	info, err := p.Store.Head(ctx, p.prefix+key)
	info.Key = strings.TrimPrefix(info.Key, p.prefix)
	return info, err
}

func (p *prefixStore) Exists(ctx context.Context, key string) (bool, error) {
	return p.Store.Exists(ctx, p.prefix+key)
}

func (p *prefixStore) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.prefix+key)
}

func (p *prefixStore) Locate(key string) string {
	return p.Store.Locate(p.prefix + key)
}
