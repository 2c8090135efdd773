package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// LayoutType describes how a sequencing run produced reads.
type LayoutType string

const (
	LayoutSingle LayoutType = "SINGLE_END"
	LayoutPaired LayoutType = "PAIRED_END"
)

// UploadStatus tracks the upload of a sequencing run's files.
type UploadStatus string

const (
	UploadUploading UploadStatus = "UPLOADING"
	UploadComplete  UploadStatus = "COMPLETE"
	UploadError     UploadStatus = "ERROR"
)

// SequencingRun is one instrument run that produced sequence files.
type SequencingRun struct {
	ID           int64        `json:"id" db:"id"`
	Description  string       `json:"description,omitempty" db:"description"`
	Platform     string       `json:"platform" db:"platform"`
	Layout       LayoutType   `json:"layout_type" db:"layout_type"`
	UploadStatus UploadStatus `json:"upload_status" db:"upload_status"`
	CreatedDate  time.Time    `json:"created_date" db:"created_date"`
}

// SequenceFile is a file of reads. FilePath is relative to the configured
// sequence file base directory.
type SequenceFile struct {
	ID              int64      `json:"id" db:"id"`
	FilePath        string     `json:"file_path" db:"file_path"`
	FileRevision    int64      `json:"file_revision_number" db:"file_revision_number"`
	FileSize        int64      `json:"file_size" db:"file_size"`
	Checksum        string     `json:"upload_sha256,omitempty" db:"upload_sha256"`
	SequencingRunID *int64     `json:"sequencing_run_id,omitempty" db:"sequencing_run_id"`
	CreatedDate     time.Time  `json:"created_date" db:"created_date"`
	ModifiedDate    *time.Time `json:"modified_date,omitempty" db:"modified_date"`
}

// FileName is the base name of the stored file.
func (f *SequenceFile) FileName() string {
	return filepath.Base(f.FilePath)
}

// IsGzipped reports whether the stored file is gzip-compressed.
func (f *SequenceFile) IsGzipped() bool {
	return strings.HasSuffix(strings.ToLower(f.FilePath), ".gz")
}

// ObjectKind distinguishes single-end files from pairs.
type ObjectKind string

const (
	ObjectSingleEnd ObjectKind = "SINGLE_END"
	ObjectPair      ObjectKind = "PAIR"
)

// ProcessingState is the state of the file processing chain for an object.
type ProcessingState string

const (
	ProcessingUnprocessed ProcessingState = "UNPROCESSED"
	ProcessingQueued      ProcessingState = "QUEUED"
	ProcessingProcessing  ProcessingState = "PROCESSING"
	ProcessingFinished    ProcessingState = "FINISHED"
	ProcessingError       ProcessingState = "ERROR"
)

// QCEntry holds read statistics computed for a sequence file.
type QCEntry struct {
	SequenceFileID int64     `json:"sequence_file_id"`
	ReadCount      int64     `json:"read_count"`
	TotalBases     int64     `json:"total_bases"`
	MinLength      int       `json:"min_length"`
	MaxLength      int       `json:"max_length"`
	MeanLength     float64   `json:"mean_length"`
	GCContent      float64   `json:"gc_content"`
	CreatedDate    time.Time `json:"created_date"`
}

// SequencingObject groups one (single end) or two (pair) sequence files.
type SequencingObject struct {
	ID              int64           `json:"id" db:"id"`
	Kind            ObjectKind      `json:"kind" db:"kind"`
	Files           []SequenceFile  `json:"files"`
	SequencingRunID *int64          `json:"sequencing_run_id,omitempty" db:"sequencing_run_id"`
	ProcessingState ProcessingState `json:"processing_state" db:"processing_state"`
	CreatedDate     time.Time       `json:"created_date" db:"created_date"`
}

// Validate checks the file count matches the object kind.
func (o *SequencingObject) Validate() error {
	switch o.Kind {
	case ObjectSingleEnd:
		if len(o.Files) != 1 {
			return fmt.Errorf("single end object requires exactly 1 file, got %d", len(o.Files))
		}
	case ObjectPair:
		if len(o.Files) != 2 {
			return fmt.Errorf("pair requires exactly 2 files, got %d", len(o.Files))
		}
	default:
		return fmt.Errorf("unknown sequencing object kind %q", o.Kind)
	}
	return nil
}

// Pair returns the file paired with the file of the given id, if any.
func (o *SequencingObject) Pair(fileID int64) (*SequenceFile, bool) {
	if o.Kind != ObjectPair || len(o.Files) != 2 {
		return nil, false
	}
	switch fileID {
	case o.Files[0].ID:
		return &o.Files[1], true
	case o.Files[1].ID:
		return &o.Files[0], true
	}
	return nil, false
}

// SampleSequencingObjectJoin relates a sequencing object to its sample.
type SampleSequencingObjectJoin struct {
	SampleID    int64             `json:"sample_id"`
	Object      *SequencingObject `json:"sequencing_object"`
	CreatedDate time.Time         `json:"created_date"`
}

// SampleSequenceFileJoin relates a single sequence file to its sample.
type SampleSequenceFileJoin struct {
	SampleID     int64         `json:"sample_id"`
	SequenceFile *SequenceFile `json:"sequence_file"`
	ObjectID     int64         `json:"sequencing_object_id"`
}

// ReferenceFile is a reference genome or assembly used by analyses.
type ReferenceFile struct {
	ID           int64     `json:"id" db:"id"`
	FilePath     string    `json:"file_path" db:"file_path"`
	FileRevision int64     `json:"file_revision_number" db:"file_revision_number"`
	FileSize     int64     `json:"file_size" db:"file_size"`
	CreatedDate  time.Time `json:"created_date" db:"created_date"`
}
