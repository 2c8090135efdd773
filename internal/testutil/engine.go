package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

// FakeEngineKey is the API key FakeEngine accepts.
const FakeEngineKey = "test-engine-key"

// FakeEngine is an in-process workflow engine speaking the subset of the
// Galaxy REST API used by the execution client.
type FakeEngine struct {
	Server *httptest.Server

	mu          sync.Mutex
	nextID      int
	workflows   map[string][]byte
	outputs     map[string]map[string]string // workflow id -> dataset name -> content
	histories   map[string]*FakeHistory
	datasets    map[string]*FakeDataset
	invocations []FakeInvocation
	failRuns    bool
}

// FakeHistory is a history held by FakeEngine.
type FakeHistory struct {
	ID       string
	Name     string
	State    string
	Datasets []string
}

// FakeDataset is a dataset held by FakeEngine.
type FakeDataset struct {
	ID      string
	Name    string
	History string
	Content []byte
}

// FakeInvocation records one workflow invocation.
type FakeInvocation struct {
	WorkflowID string
	HistoryID  string
	Inputs     map[string]map[string]string
}

// NewFakeEngine starts a fake engine that is shut down with the test.
func NewFakeEngine(t *testing.T) *FakeEngine {
	t.Helper()
	e := &FakeEngine{
		workflows: make(map[string][]byte),
		outputs:   make(map[string]map[string]string),
		histories: make(map[string]*FakeHistory),
		datasets:  make(map[string]*FakeDataset),
	}

	r := mux.NewRouter()
	r.Use(e.requireKey)
	r.HandleFunc("/api/workflows/{id}/download", e.downloadWorkflow).Methods(http.MethodGet)
	r.HandleFunc("/api/workflows/{id}/invocations", e.invoke).Methods(http.MethodPost)
	r.HandleFunc("/api/histories", e.createHistory).Methods(http.MethodPost)
	r.HandleFunc("/api/histories/{id}", e.getHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/histories/{id}/contents", e.listContents).Methods(http.MethodGet)
	r.HandleFunc("/api/histories/{id}/contents", e.createCollection).Methods(http.MethodPost)
	r.HandleFunc("/api/tools", e.upload).Methods(http.MethodPost)
	r.HandleFunc("/api/datasets/{id}/display", e.display).Methods(http.MethodGet)

	e.Server = httptest.NewServer(r)
	t.Cleanup(e.Server.Close)
	return e
}

// URL is the engine base URL.
func (e *FakeEngine) URL() string { return e.Server.URL }

// InstallWorkflow installs a workflow whose runs produce one dataset per
// entry of outputs (dataset name -> content). It returns the checksum of
// the workflow definition.
func (e *FakeEngine) InstallWorkflow(id string, definition string, outputs map[string]string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[id] = []byte(definition)
	e.outputs[id] = outputs
	sum := sha256.Sum256([]byte(definition))
	return hex.EncodeToString(sum[:])
}

// FailInvocations makes every later workflow invocation fail.
func (e *FakeEngine) FailInvocations(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failRuns = fail
}

// SetHistoryState sets the state reported for a history.
func (e *FakeEngine) SetHistoryState(historyID, state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.histories[historyID]; ok {
		h.State = state
	}
}

// History returns a copy of a history.
func (e *FakeEngine) History(historyID string) (FakeHistory, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.histories[historyID]
	if !ok {
		return FakeHistory{}, false
	}
	c := *h
	c.Datasets = append([]string(nil), h.Datasets...)
	return c, true
}

// Dataset returns a copy of a dataset.
func (e *FakeEngine) Dataset(id string) (FakeDataset, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.datasets[id]
	if !ok {
		return FakeDataset{}, false
	}
	return *d, true
}

// Invocations returns the recorded invocations.
func (e *FakeEngine) Invocations() []FakeInvocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]FakeInvocation(nil), e.invocations...)
}

func (e *FakeEngine) id(prefix string) string {
	e.nextID++
	return fmt.Sprintf("%s%04x", prefix, e.nextID)
}

func (e *FakeEngine) addDataset(historyID, name string, content []byte) *FakeDataset {
	d := &FakeDataset{ID: e.id("d"), Name: name, History: historyID, Content: content}
	e.datasets[d.ID] = d
	e.histories[historyID].Datasets = append(e.histories[historyID].Datasets, d.ID)
	return d
}

func fail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"err_msg": msg, "err_code": status})
}

func reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (e *FakeEngine) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != FakeEngineKey {
			fail(w, http.StatusForbidden, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (e *FakeEngine) downloadWorkflow(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	def, ok := e.workflows[mux.Vars(r)["id"]]
	e.mu.Unlock()
	if !ok {
		fail(w, http.StatusNotFound, "no such workflow")
		return
	}
	w.Write(def)
}

func (e *FakeEngine) invoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HistoryID string                       `json:"history_id"`
		Inputs    map[string]map[string]string `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	workflowID := mux.Vars(r)["id"]

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failRuns {
		fail(w, http.StatusInternalServerError, "workflow scheduling failed")
		return
	}
	outputs, ok := e.outputs[workflowID]
	if !ok {
		fail(w, http.StatusNotFound, "no such workflow")
		return
	}
	h, ok := e.histories[req.HistoryID]
	if !ok {
		fail(w, http.StatusBadRequest, "no such history")
		return
	}
	for label, in := range req.Inputs {
		if in["src"] == "hda" {
			if _, ok := e.datasets[in["id"]]; !ok {
				fail(w, http.StatusBadRequest, "input "+label+" references an unknown dataset")
				return
			}
		}
	}
	e.invocations = append(e.invocations, FakeInvocation{WorkflowID: workflowID, HistoryID: h.ID, Inputs: req.Inputs})
	var ids []string
	for name, content := range outputs {
		ids = append(ids, e.addDataset(h.ID, name, []byte(content)).ID)
	}
	h.State = "running"
	reply(w, map[string]interface{}{"id": e.id("i"), "history_id": h.ID, "state": "new", "output_ids": ids})
}

func (e *FakeEngine) createHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	e.mu.Lock()
	defer e.mu.Unlock()
	h := &FakeHistory{ID: e.id("h"), Name: req.Name, State: "new"}
	e.histories[h.ID] = h
	reply(w, map[string]string{"id": h.ID, "name": h.Name})
}

func (e *FakeEngine) getHistory(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.histories[mux.Vars(r)["id"]]
	if !ok {
		fail(w, http.StatusNotFound, "no such history")
		return
	}
	details := map[string]int{"ok": 0, "running": 0, "queued": 0, "error": 0}
	for range h.Datasets {
		switch h.State {
		case "ok", "running", "queued", "error":
			details[h.State]++
		}
	}
	reply(w, map[string]interface{}{"id": h.ID, "state": h.State, "state_details": details})
}

func (e *FakeEngine) listContents(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.histories[mux.Vars(r)["id"]]
	if !ok {
		fail(w, http.StatusNotFound, "no such history")
		return
	}
	out := make([]map[string]interface{}, 0, len(h.Datasets))
	for _, id := range h.Datasets {
		d := e.datasets[id]
		out = append(out, map[string]interface{}{
			"id": d.ID, "name": d.Name, "state": h.State, "file_size": len(d.Content),
		})
	}
	reply(w, out)
}

func (e *FakeEngine) createCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Elements []struct {
			ID string `json:"id"`
		} `json:"element_identifiers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, el := range req.Elements {
		if _, ok := e.datasets[el.ID]; !ok {
			fail(w, http.StatusBadRequest, "unknown dataset "+el.ID)
			return
		}
	}
	reply(w, map[string]string{"id": e.id("c"), "name": req.Name})
}

func (e *FakeEngine) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.FormValue("tool_id") != "upload1" {
		fail(w, http.StatusBadRequest, "unsupported tool")
		return
	}
	f, hdr, err := r.FormFile("files_0|file_data")
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	historyID := r.FormValue("history_id")
	if _, ok := e.histories[historyID]; !ok {
		fail(w, http.StatusBadRequest, "no such history")
		return
	}
	d := e.addDataset(historyID, hdr.Filename, content)
	reply(w, map[string]interface{}{"outputs": []map[string]interface{}{{"id": d.ID, "name": d.Name, "state": "queued"}}})
}

func (e *FakeEngine) display(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	d, ok := e.datasets[mux.Vars(r)["id"]]
	e.mu.Unlock()
	if !ok {
		fail(w, http.StatusNotFound, "no such dataset")
		return
	}
	w.Write(d.Content)
}
