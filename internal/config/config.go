package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nishad/seqlims/internal/loop"
	"github.com/nishad/seqlims/internal/paths"
	"gopkg.in/yaml.v3"
)

// Config represents the seqlims configuration
type Config struct {
	DataDirectory  string               `yaml:"data_directory"`
	Database       DatabaseConfig       `yaml:"database"`
	Storage        StorageConfig        `yaml:"storage"`
	Server         ServerConfig         `yaml:"server"`
	Security       SecurityConfig       `yaml:"security"`
	Execution      ExecutionConfig      `yaml:"execution"`
	FileProcessing FileProcessingConfig `yaml:"file_processing"`
	Search         SearchConfig         `yaml:"search"`
	Remote         RemoteConfig         `yaml:"remote"`
	Mail           MailConfig           `yaml:"mail"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // sqlite3 or pgx
	Path         string `yaml:"path"`   // sqlite3 only
	DSN          string `yaml:"dsn"`    // pgx only
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// StorageConfig contains the file base directories and blob settings
type StorageConfig struct {
	SequenceFileDir  string     `yaml:"sequence_file_dir"`
	ReferenceFileDir string     `yaml:"reference_file_dir"`
	OutputFileDir    string     `yaml:"output_file_dir"`
	CreateMissing    bool       `yaml:"create_missing"` // dev mode
	Blob             BlobConfig `yaml:"blob"`
}

// BlobConfig selects where file bytes live
type BlobConfig struct {
	Driver       string `yaml:"driver"` // fs or s3
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	BaseURL        string `yaml:"base_url"`
	SessionTimeout int    `yaml:"session_timeout"` // in seconds
	EnableCORS     bool   `yaml:"enable_cors"`
}

// SecurityConfig contains authentication settings
type SecurityConfig struct {
	JWTSecret          string         `yaml:"jwt_secret"`
	TokenTTL           int            `yaml:"token_ttl"`            // in seconds
	PasswordExpiryDays int            `yaml:"password_expiry_days"` // 0 disables expiry
	BcryptCost         int            `yaml:"bcrypt_cost"`
	Clients            []ClientConfig `yaml:"clients"`
}

// ClientConfig registers an OAuth2 client allowed the client_credentials
// grant, typically a peer instance
type ClientConfig struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
	Role   string `yaml:"role"` // defaults to ROLE_USER
}

// WorkflowConfig describes one workflow installed on the execution manager
type WorkflowConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	AnalysisType   string            `yaml:"analysis_type"`
	RemoteID       string            `yaml:"remote_id"`
	Checksum       string            `yaml:"checksum"`
	SequenceInput  string            `yaml:"sequence_input"`
	ReferenceInput string            `yaml:"reference_input"`
	Outputs        map[string]string `yaml:"outputs"` // output key -> engine label
}

// ExecutionConfig contains workflow engine and analysis scheduling settings
type ExecutionConfig struct {
	Enabled         bool             `yaml:"enabled"`
	EngineURL       string           `yaml:"engine_url"`
	APIKey          string           `yaml:"api_key"`
	PollInterval    int              `yaml:"poll_interval"`   // in seconds
	SchedulePolicy  string           `yaml:"schedule_policy"` // forever[:idle] or backlog
	StepTimeout     int              `yaml:"step_timeout"`    // in seconds, 0 = unbounded
	RequestsPerSec  float64          `yaml:"requests_per_second"`
	AnalysisWorkers int              `yaml:"analysis_workers"`
	UploadWorkers   int              `yaml:"upload_workers"`
	Workflows       []WorkflowConfig `yaml:"workflows"`
}

// FileProcessingConfig controls the chain run on uploaded sequence files
type FileProcessingConfig struct {
	Decompress           bool `yaml:"decompress"`
	RemoveCompressedFile bool `yaml:"remove_compressed_file"`
	Workers              int  `yaml:"workers"`
	MaxWorkers           int  `yaml:"max_workers"`
	QueueCapacity        int  `yaml:"queue_capacity"`
}

// SearchConfig contains search-related settings
type SearchConfig struct {
	Enabled        bool   `yaml:"enabled"`
	IndexPath      string `yaml:"index_path"`
	RebuildOnStart bool   `yaml:"rebuild_on_start"`
	DefaultLimit   int    `yaml:"default_limit"`
	TaxonomyPath   string `yaml:"taxonomy_path"`
}

// RemoteConfig contains settings for federated peers
type RemoteConfig struct {
	CacheTTL int `yaml:"cache_ttl"` // in seconds
	Timeout  int `yaml:"timeout"`   // in seconds
}

// MailConfig contains SMTP settings
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	p := paths.GetPaths()
	files := paths.GetFilesPath()

	return &Config{
		DataDirectory: p.DataDir,
		Database: DatabaseConfig{
			Driver:       "sqlite3",
			Path:         paths.GetDatabasePath(),
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Storage: StorageConfig{
			SequenceFileDir:  filepath.Join(files, "sequence"),
			ReferenceFileDir: filepath.Join(files, "reference"),
			OutputFileDir:    filepath.Join(files, "output"),
			CreateMissing:    true,
			Blob: BlobConfig{
				Driver: "fs",
			},
		},
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8080,
			SessionTimeout: 3600,
			EnableCORS:     true,
		},
		Security: SecurityConfig{
			TokenTTL:           43200, // 12 hours
			PasswordExpiryDays: 0,
			BcryptCost:         10,
		},
		Execution: ExecutionConfig{
			Enabled:         false,
			EngineURL:       "http://localhost:48888",
			PollInterval:    15,
			RequestsPerSec:  5,
			AnalysisWorkers: 4,
			UploadWorkers:   4,
		},
		FileProcessing: FileProcessingConfig{
			Decompress:           true,
			RemoveCompressedFile: false,
			Workers:              16,
			MaxWorkers:           48,
			QueueCapacity:        100,
		},
		Search: SearchConfig{
			Enabled:      true,
			IndexPath:    paths.GetIndexPath(),
			DefaultLimit: 100,
			TaxonomyPath: paths.GetTaxonomyPath(),
		},
		Remote: RemoteConfig{
			CacheTTL: 300,
			Timeout:  30,
		},
		Mail: MailConfig{
			Enabled: false,
			Server:  "localhost",
			Port:    25,
			From:    "seqlims@localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.DataDirectory = expandPath(config.DataDirectory)
	config.Database.Path = expandPath(config.Database.Path)
	config.Search.IndexPath = expandPath(config.Search.IndexPath)
	config.Search.TaxonomyPath = expandPath(config.Search.TaxonomyPath)
	config.Storage.SequenceFileDir = expandPath(config.Storage.SequenceFileDir)
	config.Storage.ReferenceFileDir = expandPath(config.Storage.ReferenceFileDir)
	config.Storage.OutputFileDir = expandPath(config.Storage.OutputFileDir)

	// Secrets may come from the environment rather than the file
	if secret := os.Getenv("SEQLIMS_JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if key := os.Getenv("SEQLIMS_ENGINE_API_KEY"); key != "" {
		config.Execution.APIKey = key
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite3 driver")
		}
	case "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the pgx driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Storage.Blob.Driver {
	case "fs":
	case "s3":
		if c.Storage.Blob.Bucket == "" {
			return fmt.Errorf("storage.blob.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unsupported blob driver %q", c.Storage.Blob.Driver)
	}

	if c.FileProcessing.MaxWorkers < c.FileProcessing.Workers {
		return fmt.Errorf("file_processing.max_workers (%d) is below workers (%d)",
			c.FileProcessing.MaxWorkers, c.FileProcessing.Workers)
	}

	clients := map[string]bool{}
	for _, cl := range c.Security.Clients {
		if cl.ID == "" || cl.Secret == "" {
			return fmt.Errorf("security.clients: client without id or secret")
		}
		if clients[cl.ID] {
			return fmt.Errorf("security.clients: duplicate client id %q", cl.ID)
		}
		clients[cl.ID] = true
	}

	if c.Execution.SchedulePolicy != "" {
		if _, err := loop.ParsePolicy(c.Execution.SchedulePolicy); err != nil {
			return fmt.Errorf("execution.schedule_policy: %w", err)
		}
	}
	if c.Execution.StepTimeout < 0 {
		return fmt.Errorf("execution.step_timeout must not be negative")
	}

	seen := map[string]bool{}
	for _, wf := range c.Execution.Workflows {
		if wf.ID == "" {
			return fmt.Errorf("execution.workflows: workflow without id")
		}
		if seen[wf.ID] {
			return fmt.Errorf("execution.workflows: duplicate workflow id %q", wf.ID)
		}
		seen[wf.ID] = true
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default config file path
func GetConfigPath() string {
	if path := os.Getenv("SEQLIMS_CONFIG"); path != "" {
		return path
	}

	if _, err := os.Stat("seqlims.yaml"); err == nil {
		return "seqlims.yaml"
	}

	p := paths.GetPaths()
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// EnsureDirectories creates necessary directories
func (c *Config) EnsureDirectories() error {
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	dirs := []string{c.DataDirectory}
	if c.Database.Driver == "sqlite3" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}
	if c.Search.Enabled {
		dirs = append(dirs, filepath.Dir(c.Search.IndexPath))
	}
	if c.Storage.CreateMissing {
		dirs = append(dirs, c.BaseDirectories()...)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// BaseDirectories returns the sequence, reference and output directories
func (c *Config) BaseDirectories() []string {
	return []string{
		c.Storage.SequenceFileDir,
		c.Storage.ReferenceFileDir,
		c.Storage.OutputFileDir,
	}
}

// CheckBaseDirectories fails when any file base directory is missing.
// The server refuses to start without them.
func (c *Config) CheckBaseDirectories() error {
	for _, dir := range c.BaseDirectories() {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("base directory %s does not exist: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("base directory %s is not a directory", dir)
		}
	}
	return nil
}

// Workflow returns the configured workflow with the given id
func (c *Config) Workflow(id string) (WorkflowConfig, bool) {
	for _, wf := range c.Execution.Workflows {
		if wf.ID == id {
			return wf, true
		}
	}
	return WorkflowConfig{}, false
}

// PollInterval returns the analysis polling interval
func (c *Config) PollInterval() time.Duration {
	if c.Execution.PollInterval <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Execution.PollInterval) * time.Second
}

// StepTimeout returns the bound on one run of an analysis step, or zero
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Execution.StepTimeout) * time.Second
}

// TokenTTL returns the lifetime of issued API tokens
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Security.TokenTTL) * time.Second
}

// SessionTimeout returns the idle session timeout
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Server.SessionTimeout) * time.Second
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}

	return path
}

// IsSearchEnabled returns true if search is enabled
func (c *Config) IsSearchEnabled() bool {
	return c.Search.Enabled
}

// IsExecutionEnabled returns true if analyses are scheduled on a workflow engine
func (c *Config) IsExecutionEnabled() bool {
	return c.Execution.Enabled && c.Execution.EngineURL != ""
}

const redacted = "********"

// Redacted returns a copy with every secret replaced, for display.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Database.DSN)
	mask(&out.Storage.Blob.AccessKey)
	mask(&out.Storage.Blob.SecretKey)
	mask(&out.Security.JWTSecret)
	mask(&out.Execution.APIKey)
	mask(&out.Mail.Password)

	out.Security.Clients = make([]ClientConfig, len(c.Security.Clients))
	copy(out.Security.Clients, c.Security.Clients)
	for i := range out.Security.Clients {
		mask(&out.Security.Clients[i].Secret)
	}
	return &out
}
