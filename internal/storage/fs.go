package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nishad/seqlims/internal/errors"
)

// FSStore keeps blobs as files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at root, creating the directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem store needs a root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: abs}, nil
}

func (s *FSStore) Driver() Driver { return DriverFilesystem }

// Root is the base directory of the store.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) pathFor(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader) (Info, error) {
	const op errors.Op = "storage.FSStore.Put"

	dataPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	if _, err := os.Stat(dataPath); err == nil {
		return Info{}, errors.E(op, errors.KindExists, fmt.Sprintf("blob %s already exists", key))
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}

	// stream to a temp file next to the target, then rename into place
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}

	stat, err := os.Stat(dataPath)
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	return Info{Key: key, Size: size, Checksum: hex.EncodeToString(h.Sum(nil)), LastModified: stat.ModTime().UTC()}, nil
}

func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	const op errors.Op = "storage.FSStore.Get"

	dataPath, err := s.pathFor(key)
	if err != nil {
		return nil, errors.E(op, errors.KindStorage, err)
	}
	f, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFound(op, "blob", key)
	}
	if err != nil {
		return nil, errors.E(op, errors.KindStorage, err)
	}
	return f, nil
}

func (s *FSStore) Head(ctx context.Context, key string) (Info, error) {
	const op errors.Op = "storage.FSStore.Head"

	dataPath, err := s.pathFor(key)
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	stat, err := os.Stat(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, errors.NotFound(op, "blob", key)
	}
	if err != nil {
		return Info{}, errors.E(op, errors.KindStorage, err)
	}
	return Info{Key: key, Size: stat.Size(), LastModified: stat.ModTime().UTC()}, nil
}

func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if errors.IsKind(err, errors.KindNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	const op errors.Op = "storage.FSStore.Delete"

	dataPath, err := s.pathFor(key)
	if err != nil {
		return errors.E(op, errors.KindStorage, err)
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.E(op, errors.KindStorage, err)
	}
	return nil
}

func (s *FSStore) Locate(key string) string {
	p, err := s.pathFor(key)
	if err != nil {
		return ""
	}
	return p
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
