package execution

import "strings"

// WorkflowState is the engine-independent state of a running workflow.
type WorkflowState string

const (
	StateNew     WorkflowState = "NEW"
	StateQueued  WorkflowState = "QUEUED"
	StateRunning WorkflowState = "RUNNING"
	StateOK      WorkflowState = "OK"
	StateError   WorkflowState = "ERROR"
	StateUnknown WorkflowState = "UNKNOWN"
)

// stateOf maps a history or dataset state reported by the engine.
func stateOf(engineState string) WorkflowState {
	switch strings.ToLower(engineState) {
	case "new", "upload":
		return StateNew
	case "queued", "setting_metadata":
		return StateQueued
	case "running":
		return StateRunning
	case "ok":
		return StateOK
	case "error", "failed_metadata", "paused", "discarded":
		return StateError
	default:
		return StateUnknown
	}
}

// WorkflowStatus is the state of the history a workflow runs in.
type WorkflowStatus struct {
	State           WorkflowState `json:"state"`
	PercentComplete float64       `json:"percent_complete"`
}

// DatasetInput points a workflow input at a dataset in a history.
type DatasetInput struct {
	Source string `json:"src"`
	ID     string `json:"id"`
}

// WorkflowInputs is the invocation request for a workflow.
type WorkflowInputs struct {
	WorkflowID string                       `json:"-"`
	HistoryID  string                       `json:"history_id"`
	Inputs     map[string]DatasetInput      `json:"inputs"`
	Parameters map[string]map[string]string `json:"parameters,omitempty"`
	InputsBy   string                       `json:"inputs_by"`
}

// NewWorkflowInputs returns inputs for running workflowID in historyID with
// inputs addressed by step label.
func NewWorkflowInputs(workflowID, historyID string) *WorkflowInputs {
	return &WorkflowInputs{
		WorkflowID: workflowID,
		HistoryID:  historyID,
		Inputs:     make(map[string]DatasetInput),
		InputsBy:   "name",
	}
}

// AddDataset binds the input labelled label to dataset id.
func (w *WorkflowInputs) AddDataset(label, datasetID string) {
	w.Inputs[label] = DatasetInput{Source: "hda", ID: datasetID}
}

// AddCollection binds the input labelled label to a dataset collection.
func (w *WorkflowInputs) AddCollection(label, collectionID string) {
	w.Inputs[label] = DatasetInput{Source: "hdca", ID: collectionID}
}

// SetParameter sets a tool parameter for a workflow step.
func (w *WorkflowInputs) SetParameter(step, name, value string) {
	if w.Parameters == nil {
		w.Parameters = make(map[string]map[string]string)
	}
	if w.Parameters[step] == nil {
		w.Parameters[step] = make(map[string]string)
	}
	w.Parameters[step][name] = value
}

// WorkflowOutputs describes a started workflow invocation.
type WorkflowOutputs struct {
	InvocationID string   `json:"id"`
	HistoryID    string   `json:"history_id"`
	State        string   `json:"state"`
	OutputIDs    []string `json:"output_ids,omitempty"`
}

// History is an engine history.
type History struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Dataset is a dataset inside a history.
type Dataset struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	FileSize int64  `json:"file_size,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// Collection is a list or paired dataset collection in a history.
type Collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
