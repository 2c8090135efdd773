// Package processing runs post-upload processors over sequencing objects:
// decompression of gzip files and read statistics.
package processing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/storage"
)

// FileProcessor does one unit of work on the files of a sequencing object.
type FileProcessor interface {
	Name() string
	Process(ctx context.Context, obj *models.SequencingObject) error
}

// Store is the persistence the chain needs. *database.DB satisfies it.
type Store interface {
	GetSequencingObject(ctx context.Context, id int64) (*models.SequencingObject, error)
	SetProcessingState(ctx context.Context, objectID int64, state models.ProcessingState) error
	SaveQCEntry(ctx context.Context, qc *models.QCEntry) error
}

// Chain runs its processors in order. The object is reloaded before each
// processor so that later processors see new file revisions.
type Chain struct {
	store      Store
	processors []FileProcessor
	logger     *zap.Logger
}

// NewChain returns a chain of processors.
func NewChain(store Store, logger *zap.Logger, processors ...FileProcessor) *Chain {
	return &Chain{store: store, processors: processors, logger: logging.OrNop(logger)}
}

// DefaultChain builds the configured chain: decompression (unless disabled)
// followed by read statistics.
func DefaultChain(store Store, files *storage.Files, cfg config.FileProcessingConfig, logger *zap.Logger) *Chain {
	var processors []FileProcessor
	if cfg.Decompress {
		processors = append(processors, NewGzipFileProcessor(files, cfg.RemoveCompressedFile, logger))
	}
	processors = append(processors, NewFastqStatsProcessor(store, files))
	return NewChain(store, logger, processors...)
}

// Processors returns the names of the chain's processors in order.
func (c *Chain) Processors() []string {
	names := make([]string, len(c.processors))
	for i, p := range c.processors {
		names[i] = p.Name()
	}
	return names
}

// Process runs every processor on object objectID. A failing processor does
// not stop the ones after it; the object ends in state ERROR and the first
// failure is returned.
func (c *Chain) Process(ctx context.Context, objectID int64) error {
	const op errors.Op = "processing.Chain.Process"

	if err := c.store.SetProcessingState(ctx, objectID, models.ProcessingProcessing); err != nil {
		return errors.Wrap(op, err)
	}

	var first error
	for _, p := range c.processors {
		if err := ctx.Err(); err != nil {
			first = err
			break
		}
		obj, err := c.store.GetSequencingObject(ctx, objectID)
		if err != nil {
			first = err
			break
		}
		if err := p.Process(ctx, obj); err != nil {
			c.logger.Warn("file processor failed",
				zap.String("processor", p.Name()),
				zap.Int64("sequencing_object_id", objectID),
				zap.Error(err))
			if first == nil {
				first = fmt.Errorf("%s: %w", p.Name(), err)
			}
		}
	}

	state := models.ProcessingFinished
	if first != nil {
		state = models.ProcessingError
	}
	// The state is recorded even if ctx was cancelled mid-chain.
	if err := c.store.SetProcessingState(context.WithoutCancel(ctx), objectID, state); err != nil {
		c.logger.Error("failed to record processing state",
			zap.Int64("sequencing_object_id", objectID), zap.Error(err))
	}
	if first != nil {
		return errors.E(op, errors.KindIO, first)
	}
	c.logger.Debug("sequencing object processed", zap.Int64("sequencing_object_id", objectID))
	return nil
}
