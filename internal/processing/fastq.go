package processing

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/storage"
)

const maxFastqLine = 16 * 1024 * 1024

// FastqStatsProcessor computes read statistics for each file and stores
// them as a QC entry.
type FastqStatsProcessor struct {
	store Store
	files *storage.Files
}

// NewFastqStatsProcessor returns a statistics processor.
func NewFastqStatsProcessor(store Store, files *storage.Files) *FastqStatsProcessor {
	return &FastqStatsProcessor{store: store, files: files}
}

func (p *FastqStatsProcessor) Name() string { return "fastq-stats" }

func (p *FastqStatsProcessor) Process(ctx context.Context, obj *models.SequencingObject) error {
	for i := range obj.Files {
		f := &obj.Files[i]
		if f.FilePath == "" {
			continue
		}
		qc, err := p.stats(ctx, f)
		if err != nil {
			return fmt.Errorf("sequence file %d: %w", f.ID, err)
		}
		if err := p.store.SaveQCEntry(ctx, qc); err != nil {
			return err
		}
	}
	return nil
}

func (p *FastqStatsProcessor) stats(ctx context.Context, f *models.SequenceFile) (*models.QCEntry, error) {
	rc, err := p.files.OpenSequenceFile(ctx, f)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if f.IsGzipped() {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	qc, err := FastqStats(r)
	if err != nil {
		return nil, err
	}
	qc.SequenceFileID = f.ID
	return qc, nil
}

// FastqStats reads four-line FASTQ records from r and summarises them.
func FastqStats(r io.Reader) (*models.QCEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFastqLine)

	qc := &models.QCEntry{}
	var gc int64
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		switch line % 4 {
		case 1:
			if len(text) == 0 || text[0] != '@' {
				return nil, fmt.Errorf("line %d: expected a record header starting with '@'", line)
			}
		case 2:
			n := len(text)
			qc.ReadCount++
			qc.TotalBases += int64(n)
			if qc.ReadCount == 1 || n < qc.MinLength {
				qc.MinLength = n
			}
			if n > qc.MaxLength {
				qc.MaxLength = n
			}
			gc += int64(bytes.Count(text, []byte("G")) + bytes.Count(text, []byte("C")) +
				bytes.Count(text, []byte("g")) + bytes.Count(text, []byte("c")))
		case 3:
			if len(text) == 0 || text[0] != '+' {
				return nil, fmt.Errorf("line %d: expected a separator starting with '+'", line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if line%4 != 0 {
		return nil, fmt.Errorf("truncated record at line %d", line)
	}
	if qc.ReadCount > 0 {
		qc.MeanLength = float64(qc.TotalBases) / float64(qc.ReadCount)
	}
	if qc.TotalBases > 0 {
		qc.GCContent = float64(gc) / float64(qc.TotalBases)
	}
	return qc, nil
}
