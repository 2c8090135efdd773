package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

// FileKey is the relative location of revision rev of a file:
// <id>/<revision>/<filename>.
func FileKey(id, rev int64, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	return path.Join(fmt.Sprint(id), fmt.Sprint(rev), name)
}

// Files stores file content and keeps the database records in step.
type Files struct {
	db     *database.DB
	stores *Stores
}

// NewFiles returns a file repository over db and stores.
func NewFiles(db *database.DB, stores *Stores) *Files {
	return &Files{db: db, stores: stores}
}

// Stores returns the underlying blob stores.
func (f *Files) Stores() *Stores { return f.stores }

// WriteSequenceFile stores r as the next revision of sequence file id and
// records its relative path, size and checksum.
func (f *Files) WriteSequenceFile(ctx context.Context, id int64, filename string, r io.Reader) (*models.SequenceFile, error) {
	const op errors.Op = "storage.WriteSequenceFile"

	current, err := f.db.GetSequenceFile(ctx, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	key := FileKey(id, current.FileRevision+1, filename)
	info, err := f.stores.Sequence.Put(ctx, key, r)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	updated, err := f.db.UpdateSequenceFileContent(ctx, id, key, info.Size, info.Checksum)
	if err != nil {
		errors.IgnoreError(f.stores.Sequence.Delete(ctx, key), "remove orphaned sequence blob")
		return nil, errors.Wrap(op, err)
	}
	return updated, nil
}

// OpenSequenceFile opens the current content of a sequence file.
func (f *Files) OpenSequenceFile(ctx context.Context, sf *models.SequenceFile) (io.ReadCloser, error) {
	if sf.FilePath == "" {
		return nil, errors.E(errors.Op("storage.OpenSequenceFile"), errors.KindStorage,
			fmt.Sprintf("sequence file %d has no content", sf.ID))
	}
	return f.stores.Sequence.Get(ctx, sf.FilePath)
}

// RemoveSequenceContent deletes the stored content of sf, if any.
func (f *Files) RemoveSequenceContent(ctx context.Context, sf *models.SequenceFile) error {
	if sf.FilePath == "" {
		return nil
	}
	return errors.Wrap("storage.RemoveSequenceContent", f.stores.Sequence.Delete(ctx, sf.FilePath))
}

// WriteReferenceFile stores r as the next revision of reference file id.
func (f *Files) WriteReferenceFile(ctx context.Context, id int64, filename string, r io.Reader) (*models.ReferenceFile, error) {
	const op errors.Op = "storage.WriteReferenceFile"

	current, err := f.db.GetReferenceFile(ctx, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	key := FileKey(id, current.FileRevision+1, filename)
	info, err := f.stores.Reference.Put(ctx, key, r)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	updated, err := f.db.UpdateReferenceFileContent(ctx, id, key, info.Size)
	if err != nil {
		errors.IgnoreError(f.stores.Reference.Delete(ctx, key), "remove orphaned reference blob")
		return nil, errors.Wrap(op, err)
	}
	return updated, nil
}

// OpenReferenceFile opens the current content of a reference file.
func (f *Files) OpenReferenceFile(ctx context.Context, rf *models.ReferenceFile) (io.ReadCloser, error) {
	if rf.FilePath == "" {
		return nil, errors.E(errors.Op("storage.OpenReferenceFile"), errors.KindStorage,
			fmt.Sprintf("reference file %d has no content", rf.ID))
	}
	return f.stores.Reference.Get(ctx, rf.FilePath)
}

// WriteOutputFile stores an analysis output under <submission id>/<filename>
// and returns its relative path and size.
func (f *Files) WriteOutputFile(ctx context.Context, submissionID int64, filename string, r io.Reader) (string, int64, error) {
	key := path.Join(fmt.Sprint(submissionID), filepath.Base(filename))
	info, err := f.stores.Output.Put(ctx, key, r)
	if err != nil {
		return "", 0, errors.Wrap("storage.WriteOutputFile", err)
	}
	return key, info.Size, nil
}

// OpenOutputFile opens a stored analysis output.
func (f *Files) OpenOutputFile(ctx context.Context, of *models.AnalysisOutputFile) (io.ReadCloser, error) {
	return f.stores.Output.Get(ctx, of.FilePath)
}

// Resolve turns a stored relative path of class c into its absolute
// location.
func (f *Files) Resolve(c Class, relPath string) (string, error) {
	store, err := f.stores.For(c)
	if err != nil {
		return "", err
	}
	loc := store.Locate(relPath)
	if loc == "" {
		return "", errors.E(errors.Op("storage.Resolve"), errors.KindStorage, fmt.Sprintf("invalid stored path %q", relPath))
	}
	return loc, nil
}
