// Package api serves the platform's REST interface. Resources are returned
// inside a {"resource": ...} envelope with HAL-style links so that peers and
// clients can navigate from the root document.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/execution"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/remote"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WorkflowStatuser reports the progress of a running submission.
type WorkflowStatuser interface {
	GetWorkflowStatus(ctx context.Context, sub *models.AnalysisSubmission) (*execution.WorkflowStatus, error)
}

// Remote bundles the clients for peer instances.
type Remote struct {
	Projects *remote.ProjectRemoteService
	Samples  *remote.SampleRemoteService
	APIs     *remote.APIService
}

// Options configures a Server.
type Options struct {
	Config   config.ServerConfig
	Services *service.Services
	Tokens   *security.TokenIssuer
	Clients  []config.ClientConfig
	Remote   *Remote
	Status   WorkflowStatuser
	DB       Pinger
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	server   *http.Server
	cfg      config.ServerConfig
	svc      *service.Services
	tokens   *security.TokenIssuer
	clients  map[string]config.ClientConfig
	remote   *Remote
	status   WorkflowStatuser
	db       Pinger
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer creates a new API server instance
func NewServer(opts Options) (*Server, error) {
	if opts.Services == nil {
		return nil, fmt.Errorf("api: services are required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("api: a token issuer is required")
	}
	s := &Server{
		router:   mux.NewRouter(),
		cfg:      opts.Config,
		svc:      opts.Services,
		tokens:   opts.Tokens,
		clients:  make(map[string]config.ClientConfig, len(opts.Clients)),
		remote:   opts.Remote,
		status:   opts.Status,
		db:       opts.DB,
		gatherer: opts.Gatherer,
		logger:   logging.OrNop(opts.Logger),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	for _, c := range opts.Clients {
		s.clients[c.ID] = c
	}

	s.setupRoutes()

	// Setup middleware
	if s.cfg.EnableCORS {
		s.router.Use(corsMiddleware)
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metricsMiddleware)
	s.router.Use(s.authMiddleware)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Minute, // sequence uploads
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("", s.handleRoot).Methods(http.MethodGet)
	api.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	api.HandleFunc("/oauth/token", s.handleToken).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Users
	api.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users/current", s.handleCurrentUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id:[0-9]+}", s.handleGetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id:[0-9]+}", s.handleUpdateUser).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id:[0-9]+}/password", s.handleChangePassword).Methods(http.MethodPost)
	api.HandleFunc("/users/{id:[0-9]+}/projects", s.handleUserProjects).Methods(http.MethodGet)

	// Projects
	api.HandleFunc("/projects", s.handleListProjects).Methods(http.MethodGet)
	api.HandleFunc("/projects", s.handleCreateProject).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id:[0-9]+}", s.handleGetProject).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id:[0-9]+}", s.handleUpdateProject).Methods(http.MethodPatch)
	api.HandleFunc("/projects/{id:[0-9]+}", s.handleDeleteProject).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id:[0-9]+}/samples", s.handleProjectSamples).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id:[0-9]+}/samples", s.handleCreateSample).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id:[0-9]+}/samples/{sampleID:[0-9]+}", s.handleAddProjectSample).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id:[0-9]+}/samples/{sampleID:[0-9]+}", s.handleRemoveProjectSample).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id:[0-9]+}/users", s.handleProjectUsers).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id:[0-9]+}/users", s.handleAddProjectUser).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id:[0-9]+}/users/{userID:[0-9]+}", s.handleRemoveProjectUser).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{id:[0-9]+}/export", s.handleExportProject).Methods(http.MethodGet)

	// Samples and sequence files
	api.HandleFunc("/samples/{id:[0-9]+}", s.handleGetSample).Methods(http.MethodGet)
	api.HandleFunc("/samples/{id:[0-9]+}", s.handleUpdateSample).Methods(http.MethodPatch)
	api.HandleFunc("/samples/{id:[0-9]+}", s.handleDeleteSample).Methods(http.MethodDelete)
	api.HandleFunc("/samples/{id:[0-9]+}/projects", s.handleSampleProjects).Methods(http.MethodGet)
	api.HandleFunc("/samples/{id:[0-9]+}/sequencingObjects", s.handleSampleSequencingObjects).Methods(http.MethodGet)
	api.HandleFunc("/samples/{id:[0-9]+}/sequenceFiles", s.handleSampleSequenceFiles).Methods(http.MethodGet)
	api.HandleFunc("/samples/{id:[0-9]+}/sequenceFiles", s.handleUploadSequenceFiles).Methods(http.MethodPost)
	api.HandleFunc("/sequencingObjects/{id:[0-9]+}", s.handleGetSequencingObject).Methods(http.MethodGet)
	api.HandleFunc("/sequencingObjects/{id:[0-9]+}", s.handleDeleteSequencingObject).Methods(http.MethodDelete)
	api.HandleFunc("/sequenceFiles/{id:[0-9]+}", s.handleGetSequenceFile).Methods(http.MethodGet)
	api.HandleFunc("/sequenceFiles/{id:[0-9]+}", s.handleUpdateSequenceFile).Methods(http.MethodPatch)
	api.HandleFunc("/sequenceFiles/{id:[0-9]+}/pair", s.handleSequenceFilePair).Methods(http.MethodGet)
	api.HandleFunc("/sequenceFiles/{id:[0-9]+}/content", s.handleSequenceFileContent).Methods(http.MethodGet)
	api.HandleFunc("/sequenceFiles/{id:[0-9]+}/content", s.handleWriteSequenceFileContent).Methods(http.MethodPut)
	api.HandleFunc("/sequenceFiles/{id:[0-9]+}/qc", s.handleSequenceFileQC).Methods(http.MethodGet)

	// Sequencing runs and reference files
	api.HandleFunc("/sequencingRuns", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/sequencingRuns", s.handleCreateRun).Methods(http.MethodPost)
	api.HandleFunc("/sequencingRuns/{id:[0-9]+}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/sequencingRuns/{id:[0-9]+}", s.handleUpdateRun).Methods(http.MethodPatch)
	api.HandleFunc("/sequencingRuns/{id:[0-9]+}/sequenceFiles", s.handleRunSequenceFiles).Methods(http.MethodGet)
	api.HandleFunc("/referenceFiles", s.handleListReferenceFiles).Methods(http.MethodGet)
	api.HandleFunc("/referenceFiles", s.handleUploadReferenceFile).Methods(http.MethodPost)
	api.HandleFunc("/referenceFiles/{id:[0-9]+}", s.handleGetReferenceFile).Methods(http.MethodGet)

	// Analyses
	api.HandleFunc("/workflows", s.handleListWorkflows).Methods(http.MethodGet)
	api.HandleFunc("/analysisSubmissions", s.handleListSubmissions).Methods(http.MethodGet)
	api.HandleFunc("/analysisSubmissions", s.handleCreateSubmission).Methods(http.MethodPost)
	api.HandleFunc("/analysisSubmissions/{id:[0-9]+}", s.handleGetSubmission).Methods(http.MethodGet)
	api.HandleFunc("/analysisSubmissions/{id:[0-9]+}", s.handleDeleteSubmission).Methods(http.MethodDelete)
	api.HandleFunc("/analysisSubmissions/{id:[0-9]+}/status", s.handleSubmissionStatus).Methods(http.MethodGet)
	api.HandleFunc("/analysisSubmissions/{id:[0-9]+}/analysis", s.handleSubmissionAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/analysisSubmissions/{id:[0-9]+}/analysis/{key}", s.handleAnalysisOutput).Methods(http.MethodGet)

	// Remote APIs
	api.HandleFunc("/remoteapis", s.handleListRemoteAPIs).Methods(http.MethodGet)
	api.HandleFunc("/remoteapis", s.handleCreateRemoteAPI).Methods(http.MethodPost)
	api.HandleFunc("/remoteapis/{id:[0-9]+}", s.handleGetRemoteAPI).Methods(http.MethodGet)
	api.HandleFunc("/remoteapis/{id:[0-9]+}", s.handleUpdateRemoteAPI).Methods(http.MethodPatch)
	api.HandleFunc("/remoteapis/{id:[0-9]+}", s.handleDeleteRemoteAPI).Methods(http.MethodDelete)
	api.HandleFunc("/remoteapis/{id:[0-9]+}/status", s.handleRemoteAPIStatus).Methods(http.MethodGet)
	api.HandleFunc("/remoteapis/{id:[0-9]+}/projects", s.handleRemoteProjects).Methods(http.MethodGet)
	api.HandleFunc("/remoteapis/{id:[0-9]+}/projects/samples", s.handleRemoteProjectSamples).Methods(http.MethodGet)

	// Relationships, search and taxonomy
	api.HandleFunc("/relationships", s.handleCreateRelationship).Methods(http.MethodPost)
	api.HandleFunc("/relationships", s.handleQueryRelationships).Methods(http.MethodGet)
	api.HandleFunc("/relationships/{id:[0-9]+}", s.handleGetRelationship).Methods(http.MethodGet)
	api.HandleFunc("/relationships/{id:[0-9]+}", s.handleDeleteRelationship).Methods(http.MethodDelete)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/search/index", s.handleRebuildIndex).Methods(http.MethodPost)
	api.HandleFunc("/search/stats", s.handleSearchStats).Methods(http.MethodGet)
	api.HandleFunc("/taxonomy", s.handleTaxonomy).Methods(http.MethodGet)

	// CORS preflight
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}
