package search

import (
	"context"
	"fmt"
	"time"

	"github.com/nishad/seqlims/internal/models"
)

const rebuildBatchSize = 500

// Source lists the entities to index. *database.DB satisfies it.
type Source interface {
	ListProjects(ctx context.Context) ([]*models.Project, error)
	ListSamples(ctx context.Context) ([]*models.Sample, error)
}

// RebuildStats reports what a rebuild indexed.
type RebuildStats struct {
	Projects int
	Samples  int
	Duration time.Duration
}

// Rebuild indexes every project and sample from src in batches.
func Rebuild(ctx context.Context, index *Index, src Source) (*RebuildStats, error) {
	start := time.Now()
	stats := &RebuildStats{}

	projects, err := src.ListProjects(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list projects: %w", err)
	}
	for len(projects) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n := min(rebuildBatchSize, len(projects))
		if err := index.BatchIndex(projects[:n], nil); err != nil {
			return stats, fmt.Errorf("failed to index projects: %w", err)
		}
		stats.Projects += n
		projects = projects[n:]
	}

	samples, err := src.ListSamples(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list samples: %w", err)
	}
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n := min(rebuildBatchSize, len(samples))
		if err := index.BatchIndex(nil, samples[:n]); err != nil {
			return stats, fmt.Errorf("failed to index samples: %w", err)
		}
		stats.Samples += n
		samples = samples[n:]
	}

	stats.Duration = time.Since(start)
	return stats, nil
}
