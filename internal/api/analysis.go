package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/models"
)

// workflowView is the public description of a submittable workflow.
type workflowView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	AnalysisType   string   `json:"analysis_type,omitempty"`
	SequenceInput  string   `json:"sequence_input"`
	ReferenceInput string   `json:"reference_input,omitempty"`
	Outputs        []string `json:"outputs,omitempty"`
}

// submissionStatus reports the progress of a submission.
type submissionStatus struct {
	ID              int64                `json:"id"`
	State           models.AnalysisState `json:"analysis_state"`
	PercentComplete float64              `json:"percent_complete"`
	WorkflowState   string               `json:"workflow_state,omitempty"`
}

func (s *Server) submissionLinks(r *http.Request, sub *models.AnalysisSubmission) models.Links {
	links := models.Links{
		link(models.RelSelf, s.href(r, "analysisSubmissions", sub.ID)),
		link("analysisSubmission/status", s.href(r, "analysisSubmissions", sub.ID, "status")),
	}
	if sub.AnalysisID != nil {
		links = append(links, link("analysisSubmission/analysis", s.href(r, "analysisSubmissions", sub.ID, "analysis")))
	}
	for _, id := range sub.InputObjectIDs {
		links = append(links, link("input/sequencingObject", s.href(r, "sequencingObjects", id)))
	}
	if sub.ReferenceFileID != nil {
		links = append(links, link("input/referenceFile", s.href(r, "referenceFiles", *sub.ReferenceFileID)))
	}
	return links
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.svc.Submissions.Workflows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(workflows))
	for _, wf := range workflows {
		view := workflowView{
			ID:             wf.ID,
			Name:           wf.Name,
			AnalysisType:   wf.AnalysisType,
			SequenceInput:  wf.SequenceInput,
			ReferenceInput: wf.ReferenceInput,
		}
		for key := range wf.Outputs {
			view.Outputs = append(view.Outputs, key)
		}
		sort.Strings(view.Outputs)
		items = append(items, models.Resource[interface{}]{Object: view})
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

// handleListSubmissions lists the caller's submissions. Administrators may
// ask for every submission with all=true.
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	var (
		subs []*models.AnalysisSubmission
		err  error
	)
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		subs, err = s.svc.Submissions.List(r.Context())
	} else {
		subs, err = s.svc.Submissions.ListForUser(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(subs))
	for _, sub := range subs {
		items = append(items, models.Resource[interface{}]{Object: sub, Links: s.submissionLinks(r, sub)})
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var sub models.AnalysisSubmission
	if err := decodeJSON(r, &sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.svc.Submissions.Create(r.Context(), &sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", s.href(r, "analysisSubmissions", created.ID))
	s.writeResource(w, http.StatusCreated, created, s.submissionLinks(r, created))
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.svc.Submissions.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, sub, s.submissionLinks(r, sub))
}

func (s *Server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Submissions.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmissionStatus reports the state of a submission. Running
// submissions include the progress reported by the execution manager.
func (s *Server) handleSubmissionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.svc.Submissions.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := submissionStatus{ID: sub.ID, State: sub.State}
	switch {
	case sub.State == models.AnalysisCompleted || sub.State == models.AnalysisFinishedRunning || sub.State == models.AnalysisCompleting:
		status.PercentComplete = 100
	case sub.State.IsRunning() && s.status != nil:
		ws, err := s.status.GetWorkflowStatus(r.Context(), sub)
		if err != nil {
			s.logger.Warn("failed to read workflow status", zap.Int64("submission_id", sub.ID), zap.Error(err))
			break
		}
		status.PercentComplete = ws.PercentComplete
		status.WorkflowState = string(ws.State)
	}
	s.writeResource(w, http.StatusOK, status, models.Links{
		s.self(r),
		link("analysisSubmission", s.href(r, "analysisSubmissions", sub.ID)),
	})
}

func (s *Server) handleSubmissionAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.svc.Analyses.ReadForSubmission(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	links := models.Links{
		s.self(r),
		link("analysisSubmission", s.href(r, "analysisSubmissions", id)),
	}
	keys := make([]string, 0, len(a.OutputFiles))
	for key := range a.OutputFiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		links = append(links, link("output/"+key, s.href(r, "analysisSubmissions", id, "analysis", key)))
	}
	s.writeResource(w, http.StatusOK, a, links)
}

// handleAnalysisOutput streams one output file of a submission's analysis.
func (s *Server) handleAnalysisOutput(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.svc.Analyses.ReadForSubmission(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key := mux.Vars(r)["key"]
	rc, f, err := s.svc.Analyses.OpenOutputFile(r.Context(), a.ID, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(f.FilePath)))
	if f.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(f.FileSize, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("analysis output download interrupted", zap.Int64("analysis_id", a.ID), zap.String("key", key), zap.Error(err))
	}
}
