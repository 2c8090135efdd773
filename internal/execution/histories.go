package execution

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/nishad/seqlims/internal/errors"
)

const uploadToolID = "upload1"

// HistoriesService manages the histories analyses run in.
type HistoriesService struct {
	client  *Client
	uploads int
}

// NewHistoriesService returns a histories service. At most uploadWorkers
// uploads run at once (one when zero).
func NewHistoriesService(client *Client, uploadWorkers int) *HistoriesService {
	if uploadWorkers <= 0 {
		uploadWorkers = 1
	}
	return &HistoriesService{client: client, uploads: uploadWorkers}
}

// NewHistoryForWorkflow creates an empty history.
func (s *HistoriesService) NewHistoryForWorkflow(ctx context.Context, name string) (*History, error) {
	const op errors.Op = "execution.HistoriesService.NewHistoryForWorkflow"

	var h History
	if err := s.client.doJSON(ctx, op, http.MethodPost, s.client.endpoint("histories"), map[string]string{"name": name}, &h); err != nil {
		return nil, err
	}
	if h.ID == "" {
		return nil, errors.E(op, errors.KindExecutionManager, "engine returned a history without an id")
	}
	return &h, nil
}

// Upload is a file to place in a history.
type Upload struct {
	Name string
	Open func(ctx context.Context) (io.ReadCloser, error)
}

type uploadResponse struct {
	Outputs []Dataset `json:"outputs"`
}

// UploadFile streams one file into historyID.
func (s *HistoriesService) UploadFile(ctx context.Context, historyID string, u Upload) (*Dataset, error) {
	const op errors.Op = "execution.HistoriesService.UploadFile"

	rc, err := u.Open(ctx)
	if err != nil {
		return nil, errors.E(op, errors.KindStorage, err, "opening "+u.Name)
	}
	defer rc.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, historyID, u.Name, rc))
	}()

	req, err := s.client.newRequest(ctx, http.MethodPost, s.client.endpoint("tools"), pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return nil, errors.E(op, errors.KindExecutionManager, err)
	}
	var resp uploadResponse
	if err := s.client.send(op, req, &resp); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	if len(resp.Outputs) == 0 {
		return nil, errors.E(op, errors.KindExecutionManager, "upload of "+u.Name+" produced no dataset")
	}
	return &resp.Outputs[0], nil
}

func writeUploadForm(mw *multipart.Writer, historyID, name string, r io.Reader) error {
	inputs, err := json.Marshal(map[string]string{
		"files_0|type":           "upload_dataset",
		"files_0|NAME":           name,
		"file_type":              "auto",
		"dbkey":                  "?",
		"files_0|to_posix_lines": "Yes",
	})
	if err != nil {
		return err
	}
	fields := [][2]string{{"tool_id", uploadToolID}, {"history_id", historyID}, {"inputs", string(inputs)}}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("files_0|file_data", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// UploadFiles uploads files concurrently and returns their datasets in the
// order given.
func (s *HistoriesService) UploadFiles(ctx context.Context, historyID string, files []Upload) ([]*Dataset, error) {
	out := make([]*Dataset, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploads)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			d, err := s.UploadFile(gctx, historyID, f)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ConstructCollection groups datasets into a list collection.
func (s *HistoriesService) ConstructCollection(ctx context.Context, historyID, name string, datasetIDs []string) (*Collection, error) {
	const op errors.Op = "execution.HistoriesService.ConstructCollection"

	type element struct {
		Name   string `json:"name"`
		Source string `json:"src"`
		ID     string `json:"id"`
	}
	elements := make([]element, len(datasetIDs))
	for i, id := range datasetIDs {
		elements[i] = element{Name: id, Source: "hda", ID: id}
	}
	body := map[string]interface{}{
		"type":                "dataset_collection",
		"collection_type":     "list",
		"name":                name,
		"element_identifiers": elements,
	}
	var c Collection
	if err := s.client.doJSON(ctx, op, http.MethodPost, s.client.endpoint("histories", historyID, "contents"), body, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

type historyDetails struct {
	ID           string         `json:"id"`
	State        string         `json:"state"`
	StateDetails map[string]int `json:"state_details"`
}

// GetStatusForHistory reports the state of historyID and the share of its
// datasets that are finished.
func (s *HistoriesService) GetStatusForHistory(ctx context.Context, historyID string) (*WorkflowStatus, error) {
	const op errors.Op = "execution.HistoriesService.GetStatusForHistory"

	var h historyDetails
	if err := s.client.doJSON(ctx, op, http.MethodGet, s.client.endpoint("histories", historyID), nil, &h); err != nil {
		return nil, err
	}
	state := stateOf(h.State)
	if state == StateUnknown {
		return nil, errors.E(op, errors.KindWorkflow, "unknown history state "+h.State)
	}

	total := 0
	for _, n := range h.StateDetails {
		total += n
	}
	percent := 0.0
	switch {
	case total > 0:
		percent = 100 * float64(h.StateDetails["ok"]) / float64(total)
	case state == StateOK:
		percent = 100
	}
	return &WorkflowStatus{State: state, PercentComplete: percent}, nil
}

// ListDatasets lists the datasets in historyID.
func (s *HistoriesService) ListDatasets(ctx context.Context, historyID string) ([]Dataset, error) {
	const op errors.Op = "execution.HistoriesService.ListDatasets"

	var ds []Dataset
	target := s.client.endpoint("histories", historyID, "contents") + "?" + url.Values{"types": {"dataset"}}.Encode()
	if err := s.client.doJSON(ctx, op, http.MethodGet, target, nil, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// FindDatasetByName returns the newest undeleted dataset called name.
func (s *HistoriesService) FindDatasetByName(ctx context.Context, historyID, name string) (*Dataset, error) {
	const op errors.Op = "execution.HistoriesService.FindDatasetByName"

	ds, err := s.ListDatasets(ctx, historyID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	for i := len(ds) - 1; i >= 0; i-- {
		if ds[i].Name == name && !ds[i].Deleted {
			return &ds[i], nil
		}
	}
	return nil, errors.NotFound(op, "dataset", name)
}

// DownloadDataset copies the content of datasetID to w.
func (s *HistoriesService) DownloadDataset(ctx context.Context, datasetID string, w io.Writer) (int64, error) {
	const op errors.Op = "execution.HistoriesService.DownloadDataset"

	target := s.client.endpoint("datasets", datasetID, "display") + "?" + url.Values{"to_ext": {"data"}}.Encode()
	req, err := s.client.newRequest(ctx, http.MethodGet, target, nil, "")
	if err != nil {
		return 0, errors.E(op, errors.KindExecutionManager, err)
	}
	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return 0, errors.E(op, errors.KindExecutionManager, err, "engine request failed")
	}
	defer resp.Body.Close()
	if err := checkStatus(op, resp); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errors.E(op, errors.KindExecutionManager, err, "downloading dataset "+datasetID)
	}
	return n, nil
}
