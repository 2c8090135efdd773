package processing

import (
	"compress/gzip"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/storage"
)

// GzipFileProcessor replaces gzip-compressed sequence files with a new,
// decompressed revision.
type GzipFileProcessor struct {
	files            *storage.Files
	removeCompressed bool
	logger           *zap.Logger
}

// NewGzipFileProcessor returns a decompressing processor. When
// removeCompressed is set the compressed revision is deleted afterwards.
func NewGzipFileProcessor(files *storage.Files, removeCompressed bool, logger *zap.Logger) *GzipFileProcessor {
	return &GzipFileProcessor{files: files, removeCompressed: removeCompressed, logger: logging.OrNop(logger)}
}

func (p *GzipFileProcessor) Name() string { return "gzip" }

func (p *GzipFileProcessor) Process(ctx context.Context, obj *models.SequencingObject) error {
	for i := range obj.Files {
		f := &obj.Files[i]
		if !f.IsGzipped() {
			continue
		}
		if err := p.decompress(ctx, f); err != nil {
			return fmt.Errorf("sequence file %d: %w", f.ID, err)
		}
	}
	return nil
}

func (p *GzipFileProcessor) decompress(ctx context.Context, f *models.SequenceFile) error {
	rc, err := p.files.OpenSequenceFile(ctx, f)
	if err != nil {
		return err
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return errors.E(errors.KindParse, err, "not a gzip file")
	}
	defer gz.Close()

	name := f.FileName()
	name = name[:len(name)-len(".gz")]
	if strings.TrimSpace(name) == "" {
		name = "reads.fastq"
	}

	compressed := f.FilePath
	updated, err := p.files.WriteSequenceFile(ctx, f.ID, name, gz)
	if err != nil {
		return err
	}
	p.logger.Info("decompressed sequence file",
		zap.Int64("sequence_file_id", f.ID),
		zap.String("from", compressed),
		zap.String("to", updated.FilePath))

	if p.removeCompressed {
		if err := p.files.Stores().Sequence.Delete(ctx, compressed); err != nil {
			p.logger.Warn("failed to remove compressed file", zap.String("path", compressed), zap.Error(err))
		}
	}
	*f = *updated
	return nil
}
