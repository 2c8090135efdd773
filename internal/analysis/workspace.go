// Package analysis drives analysis submissions through the workflow engine:
// it prepares a remote workspace, uploads inputs, starts the workflow,
// watches it and copies the results back.
package analysis

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/execution"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/storage"
)

// Workflows validates and runs workflows on the engine.
type Workflows interface {
	ValidateWorkflowByChecksum(ctx context.Context, checksum, workflowID string) error
	RunWorkflow(ctx context.Context, inputs *execution.WorkflowInputs) (*execution.WorkflowOutputs, error)
}

// Histories manages the engine histories analyses run in.
type Histories interface {
	NewHistoryForWorkflow(ctx context.Context, name string) (*execution.History, error)
	UploadFiles(ctx context.Context, historyID string, files []execution.Upload) ([]*execution.Dataset, error)
	ConstructCollection(ctx context.Context, historyID, name string, datasetIDs []string) (*execution.Collection, error)
	GetStatusForHistory(ctx context.Context, historyID string) (*execution.WorkflowStatus, error)
	FindDatasetByName(ctx context.Context, historyID, name string) (*execution.Dataset, error)
	DownloadDataset(ctx context.Context, datasetID string, w io.Writer) (int64, error)
}

// InputStore loads the inputs of a submission. *database.DB satisfies it.
type InputStore interface {
	GetSequencingObject(ctx context.Context, id int64) (*models.SequencingObject, error)
	GetReferenceFile(ctx context.Context, id int64) (*models.ReferenceFile, error)
}

// PreparedWorkflow is a workflow ready to be invoked.
type PreparedWorkflow struct {
	RemoteAnalysisID string
	InputDataID      string
	Inputs           *execution.WorkflowInputs
}

// WorkspaceService moves submission files to and from the engine.
type WorkspaceService struct {
	store     InputStore
	files     *storage.Files
	histories Histories
	types     map[string]string // workflow id -> analysis type
	logger    *zap.Logger
}

// NewWorkspaceService returns a workspace service. analysisTypes maps
// workflow ids to the type recorded on their analyses.
func NewWorkspaceService(store InputStore, files *storage.Files, histories Histories, analysisTypes map[string]string, logger *zap.Logger) *WorkspaceService {
	return &WorkspaceService{
		store:     store,
		files:     files,
		histories: histories,
		types:     analysisTypes,
		logger:    logging.OrNop(logger),
	}
}

// PrepareAnalysisWorkspace creates the history a submission will run in and
// returns its id.
func (w *WorkspaceService) PrepareAnalysisWorkspace(ctx context.Context, sub *models.AnalysisSubmission) (string, error) {
	const op errors.Op = "analysis.WorkspaceService.PrepareAnalysisWorkspace"

	if sub.RemoteAnalysisID != "" {
		return "", errors.E(op, errors.KindIllegalState, "workspace already prepared for "+sub.Label())
	}
	h, err := w.histories.NewHistoryForWorkflow(ctx, fmt.Sprintf("seqlims-%d-%s", sub.ID, sub.Name))
	if err != nil {
		return "", errors.Wrap(op, err)
	}
	return h.ID, nil
}

// PrepareAnalysisFiles uploads the submission's sequence files (and
// reference file when the workflow takes one) into its history and builds
// the workflow inputs.
func (w *WorkspaceService) PrepareAnalysisFiles(ctx context.Context, sub *models.AnalysisSubmission) (*PreparedWorkflow, error) {
	const op errors.Op = "analysis.WorkspaceService.PrepareAnalysisFiles"

	rw := sub.RemoteWorkflow
	if rw == nil {
		return nil, errors.E(op, errors.KindWorkflow, sub.Label()+" has no remote workflow")
	}
	historyID := sub.RemoteAnalysisID
	if historyID == "" {
		return nil, errors.E(op, errors.KindIllegalState, sub.Label()+" has no workspace")
	}

	var uploads []execution.Upload
	for _, objectID := range sub.InputObjectIDs {
		obj, err := w.store.GetSequencingObject(ctx, objectID)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		for i := range obj.Files {
			f := obj.Files[i]
			if f.FilePath == "" {
				return nil, errors.E(op, errors.KindStorage, fmt.Sprintf("sequence file %d has no content", f.ID))
			}
			uploads = append(uploads, execution.Upload{
				Name: fmt.Sprintf("%d_%s", f.ID, f.FileName()),
				Open: func(ctx context.Context) (io.ReadCloser, error) { return w.files.OpenSequenceFile(ctx, &f) },
			})
		}
	}
	if len(uploads) == 0 {
		return nil, errors.E(op, errors.KindWorkflow, sub.Label()+" has no input files")
	}

	datasets, err := w.histories.UploadFiles(ctx, historyID, uploads)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	ids := make([]string, len(datasets))
	for i, d := range datasets {
		ids[i] = d.ID
	}
	collection, err := w.histories.ConstructCollection(ctx, historyID, rw.SequenceInput, ids)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	inputs := execution.NewWorkflowInputs(rw.WorkflowID, historyID)
	inputs.AddCollection(rw.SequenceInput, collection.ID)

	if rw.ReferenceInput != "" {
		if sub.ReferenceFileID == nil {
			return nil, errors.E(op, errors.KindWorkflow, sub.Label()+" needs a reference file")
		}
		rf, err := w.store.GetReferenceFile(ctx, *sub.ReferenceFileID)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		ref, err := w.histories.UploadFiles(ctx, historyID, []execution.Upload{{
			Name: path.Base(rf.FilePath),
			Open: func(ctx context.Context) (io.ReadCloser, error) { return w.files.OpenReferenceFile(ctx, rf) },
		}})
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		inputs.AddDataset(rw.ReferenceInput, ref[0].ID)
	}

	for key, value := range sub.Parameters {
		step, name, ok := strings.Cut(key, ".")
		if !ok || step == "" || name == "" {
			w.logger.Warn("ignoring parameter without a step", zap.String("parameter", key), zap.Int64("submission_id", sub.ID))
			continue
		}
		inputs.SetParameter(step, name, value)
	}

	return &PreparedWorkflow{RemoteAnalysisID: historyID, InputDataID: collection.ID, Inputs: inputs}, nil
}

// GetAnalysisResults copies every labelled output of the submission's
// history into outputDir of the output store and describes them as an
// unsaved Analysis.
func (w *WorkspaceService) GetAnalysisResults(ctx context.Context, sub *models.AnalysisSubmission, outputDir string) (*models.Analysis, error) {
	const op errors.Op = "analysis.WorkspaceService.GetAnalysisResults"

	rw := sub.RemoteWorkflow
	if rw == nil || len(rw.OutputLabels) == 0 {
		return nil, errors.E(op, errors.KindWorkflow, sub.Label()+" declares no outputs")
	}

	keys := make([]string, 0, len(rw.OutputLabels))
	for k := range rw.OutputLabels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	a := &models.Analysis{
		ExecutionManagerID: sub.RemoteAnalysisID,
		AnalysisType:       w.analysisType(sub.WorkflowID),
		Description:        sub.Name,
		OutputFiles:        make(map[string]*models.AnalysisOutputFile, len(keys)),
	}
	for _, key := range keys {
		label := rw.OutputLabels[key]
		ds, err := w.histories.FindDatasetByName(ctx, sub.RemoteAnalysisID, label)
		if err != nil {
			return nil, errors.WrapMsg(op, "output "+key, err)
		}
		rel, size, err := w.download(ctx, ds.ID, path.Join(outputDir, path.Base(label)))
		if err != nil {
			return nil, errors.WrapMsg(op, "output "+key, err)
		}
		a.OutputFiles[key] = &models.AnalysisOutputFile{
			Key:                    key,
			FilePath:               rel,
			ExecutionManagerFileID: ds.ID,
			FileSize:               size,
		}
		w.logger.Debug("analysis output transferred", zap.Int64("submission_id", sub.ID),
			zap.String("key", key), zap.String("path", rel), zap.Int64("size", size))
	}
	return a, nil
}

func (w *WorkspaceService) download(ctx context.Context, datasetID, key string) (string, int64, error) {
	pr, pw := io.Pipe()
	go func() {
		_, err := w.histories.DownloadDataset(ctx, datasetID, pw)
		pw.CloseWithError(err)
	}()
	info, err := w.files.Stores().Output.Put(ctx, key, pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", 0, err
	}
	return key, info.Size, nil
}

func (w *WorkspaceService) analysisType(workflowID string) string {
	if t, ok := w.types[workflowID]; ok && t != "" {
		return t
	}
	return strings.ToUpper(workflowID)
}
