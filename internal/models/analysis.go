package models

import (
	"fmt"
	"time"
)

// AnalysisState is the lifecycle state of an analysis submission.
type AnalysisState string

const (
	AnalysisNew             AnalysisState = "NEW"
	AnalysisPreparing       AnalysisState = "PREPARING"
	AnalysisPrepared        AnalysisState = "PREPARED"
	AnalysisSubmitting      AnalysisState = "SUBMITTING"
	AnalysisRunning         AnalysisState = "RUNNING"
	AnalysisFinishedRunning AnalysisState = "FINISHED_RUNNING"
	AnalysisCompleting      AnalysisState = "COMPLETING"
	AnalysisCompleted       AnalysisState = "COMPLETED"
	AnalysisError           AnalysisState = "ERROR"
)

var analysisTransitions = map[AnalysisState][]AnalysisState{
	AnalysisNew:             {AnalysisPreparing},
	AnalysisPreparing:       {AnalysisPrepared},
	AnalysisPrepared:        {AnalysisSubmitting},
	AnalysisSubmitting:      {AnalysisRunning},
	AnalysisRunning:         {AnalysisFinishedRunning},
	AnalysisFinishedRunning: {AnalysisCompleting},
	AnalysisCompleting:      {AnalysisCompleted},
}

// AnalysisStates lists every state in lifecycle order.
func AnalysisStates() []AnalysisState {
	return []AnalysisState{
		AnalysisNew, AnalysisPreparing, AnalysisPrepared, AnalysisSubmitting,
		AnalysisRunning, AnalysisFinishedRunning, AnalysisCompleting,
		AnalysisCompleted, AnalysisError,
	}
}

// AsAnalysisState parses a state name.
func AsAnalysisState(name string) (AnalysisState, error) {
	for _, s := range AnalysisStates() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("'%s' is not an analysis state", name)
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Every non-terminal state may move to ERROR.
func (s AnalysisState) CanTransitionTo(next AnalysisState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == AnalysisError {
		return true
	}
	for _, n := range analysisTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s AnalysisState) IsTerminal() bool {
	return s == AnalysisCompleted || s == AnalysisError
}

// IsRunning reports whether the workflow is executing on the engine.
func (s AnalysisState) IsRunning() bool {
	return s == AnalysisRunning
}

// InconsistentStates are the in-flight states a submission cannot be left
// in after a restart, since the task that owned it is gone.
func InconsistentStates() []AnalysisState {
	return []AnalysisState{AnalysisPreparing, AnalysisSubmitting, AnalysisCompleting}
}

// RemoteWorkflow identifies a workflow installed on the execution manager.
type RemoteWorkflow struct {
	WorkflowID       string            `json:"workflow_id"`
	WorkflowChecksum string            `json:"workflow_checksum"`
	SequenceInput    string            `json:"sequence_input_label"`
	ReferenceInput   string            `json:"reference_input_label,omitempty"`
	OutputLabels     map[string]string `json:"output_labels,omitempty"`
}

// AnalysisSubmission is a request to run a pipeline on the execution manager.
type AnalysisSubmission struct {
	ID                int64             `json:"id" db:"id"`
	Name              string            `json:"name" db:"name"`
	SubmitterID       int64             `json:"submitter_id" db:"submitter_id"`
	WorkflowID        string            `json:"workflow_id" db:"workflow_id"`
	RemoteWorkflow    *RemoteWorkflow   `json:"remote_workflow,omitempty" db:"remote_workflow"`
	RemoteAnalysisID  string            `json:"remote_analysis_id,omitempty" db:"remote_analysis_id"`
	RemoteInputDataID string            `json:"remote_input_data_id,omitempty" db:"remote_input_data_id"`
	State             AnalysisState     `json:"analysis_state" db:"analysis_state"`
	InputObjectIDs    []int64           `json:"input_sequencing_objects"`
	ReferenceFileID   *int64            `json:"reference_file_id,omitempty" db:"reference_file_id"`
	Parameters        map[string]string `json:"input_parameters,omitempty" db:"input_parameters"`
	AnalysisID        *int64            `json:"analysis_id,omitempty" db:"analysis_id"`
	Priority          int               `json:"priority" db:"priority"`
	EmailOnCompletion bool              `json:"email_pipeline_result" db:"email_pipeline_result"`
	CreatedDate       time.Time         `json:"created_date" db:"created_date"`
	ModifiedDate      *time.Time        `json:"modified_date,omitempty" db:"modified_date"`
}

// Label is a human-readable identifier for logs and mail.
func (s *AnalysisSubmission) Label() string {
	if s.Name != "" {
		return fmt.Sprintf("%s [%d]", s.Name, s.ID)
	}
	return fmt.Sprintf("submission [%d]", s.ID)
}

// AnalysisOutputFile is one file produced by a workflow.
type AnalysisOutputFile struct {
	ID                     int64     `json:"id" db:"id"`
	AnalysisID             int64     `json:"analysis_id" db:"analysis_id"`
	Key                    string    `json:"key" db:"output_key"`
	FilePath               string    `json:"file_path" db:"file_path"`
	ExecutionManagerFileID string    `json:"execution_manager_file_id" db:"execution_manager_file_id"`
	FileSize               int64     `json:"file_size" db:"file_size"`
	CreatedDate            time.Time `json:"created_date" db:"created_date"`
}

// Analysis is the persisted result of a completed submission.
type Analysis struct {
	ID                 int64                          `json:"id" db:"id"`
	ExecutionManagerID string                         `json:"execution_manager_analysis_id" db:"execution_manager_analysis_id"`
	AnalysisType       string                         `json:"analysis_type" db:"analysis_type"`
	Description        string                         `json:"description,omitempty" db:"description"`
	OutputFiles        map[string]*AnalysisOutputFile `json:"analysis_output_files"`
	CreatedDate        time.Time                      `json:"created_date" db:"created_date"`
}

// OutputFile returns the output file stored under key.
func (a *Analysis) OutputFile(key string) (*AnalysisOutputFile, bool) {
	f, ok := a.OutputFiles[key]
	return f, ok
}
