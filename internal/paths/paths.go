package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

type Paths struct {
	ConfigDir string
	DataDir   string
	CacheDir  string
	StateDir  string
}

// GetPaths returns all base paths respecting environment variables
func GetPaths() Paths {
	return Paths{
		ConfigDir: getDir("SEQLIMS_CONFIG_HOME", "XDG_CONFIG_HOME", ".config", "seqlims"),
		DataDir:   getDir("SEQLIMS_DATA_HOME", "XDG_DATA_HOME", ".local/share", "seqlims"),
		CacheDir:  getDir("SEQLIMS_CACHE_HOME", "XDG_CACHE_HOME", ".cache", "seqlims"),
		StateDir:  getDir("SEQLIMS_STATE_HOME", "XDG_STATE_HOME", ".local/state", "seqlims"),
	}
}

func getDir(appEnv, xdgEnv, defaultBase, appName string) string {
	// 1. Check app-specific env
	if dir := os.Getenv(appEnv); dir != "" {
		return dir
	}

	// 2. Check XDG env
	if xdgBase := os.Getenv(xdgEnv); xdgBase != "" {
		return filepath.Join(xdgBase, appName)
	}

	// 3. Use default
	home, _ := os.UserHomeDir()
	return filepath.Join(home, defaultBase, appName)
}

// GetDatabasePath returns the path to the database
func GetDatabasePath() string {
	if path := os.Getenv("SEQLIMS_DB_PATH"); path != "" {
		return path
	}
	return filepath.Join(GetPaths().DataDir, "seqlims.db")
}

// GetIndexPath returns the path to the search index
// Default: adjacent to database for easy backup/migration
func GetIndexPath() string {
	if path := os.Getenv("SEQLIMS_INDEX_PATH"); path != "" {
		return path
	}

	dbPath := GetDatabasePath()
	dir := filepath.Dir(dbPath)
	dbName := filepath.Base(dbPath)
	dbNameNoExt := dbName[:len(dbName)-len(filepath.Ext(dbName))]

	// Return path like: /data/seqlims.bleve (next to seqlims.db)
	return filepath.Join(dir, dbNameNoExt+".bleve")
}

// GetFilesPath returns the root of the file storage directories
// (sequence, reference, output and snapshot files).
func GetFilesPath() string {
	if path := os.Getenv("SEQLIMS_FILES_PATH"); path != "" {
		return path
	}
	return filepath.Join(GetPaths().DataDir, "files")
}

// GetTaxonomyPath returns the path of the taxonomy TSV file
func GetTaxonomyPath() string {
	if path := os.Getenv("SEQLIMS_TAXONOMY_PATH"); path != "" {
		return path
	}
	return filepath.Join(GetPaths().DataDir, "taxonomy.tsv")
}

// GetWorkPath returns the scratch directory used while staging workflow files
func GetWorkPath() string {
	return filepath.Join(GetPaths().CacheDir, "work")
}

// EnsureDirectories creates all necessary directories
func EnsureDirectories() error {
	paths := GetPaths()
	dirs := []string{
		paths.ConfigDir,
		paths.DataDir,
		paths.CacheDir,
		filepath.Join(paths.CacheDir, "work"),
		paths.StateDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
