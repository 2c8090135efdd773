package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/testutil"
)

func TestFormatFlag(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("format", "f", "table", "Output format")
	flags.Int("limit", 20, "Maximum results")
	flags.Int("offset", 0, "Results to skip")
	flags.Bool("fuzzy", false, "Fuzzy matching")

	line := formatFlag(flags.Lookup("format"))
	testutil.AssertTrue(t, strings.HasPrefix(line, `  -f, --format string (default "table")`), "string flag with shorthand and default")
	testutil.AssertTrue(t, strings.HasSuffix(line, "Output format"), "usage at the end")

	testutil.AssertContains(t, formatFlag(flags.Lookup("limit")), "--limit int (default 20)", "int default shown")
	testutil.AssertFalse(t, strings.Contains(formatFlag(flags.Lookup("offset")), "default"), "zero int default hidden")
	testutil.AssertFalse(t, strings.Contains(formatFlag(flags.Lookup("fuzzy")), "bool"), "bool type hidden")
}

func TestSetupGroupedHelp(t *testing.T) {
	var g Globals
	root := &cobra.Command{Use: "seqlims"}
	g.Bind(root.PersistentFlags())

	cmd := &cobra.Command{Use: "search", Short: "Search", Run: func(*cobra.Command, []string) {}}
	cmd.Flags().String("organism", "", "Filter by organism")
	cmd.Flags().Int("limit", 20, "Maximum results")
	root.AddCommand(cmd)

	SetupGroupedHelp(cmd,
		FlagGroup{Title: "FILTER OPTIONS", Names: []string{"organism"}},
		FlagGroup{Title: "EMPTY", Names: []string{"missing"}},
	)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"search", "--help"})
	testutil.RequireNoError(t, root.Execute(), "help")

	help := out.String()
	testutil.AssertContains(t, help, "FILTER OPTIONS:", "group title")
	testutil.AssertContains(t, help, "--organism string", "grouped flag")
	testutil.AssertContains(t, help, "GLOBAL OPTIONS:", "global group")
	testutil.AssertContains(t, help, "--config string", "inherited flag")
	testutil.AssertContains(t, help, "SEQLIMS_JWT_SECRET", "environment help")
	testutil.AssertFalse(t, strings.Contains(help, "EMPTY:"), "groups without flags are skipped")

	// Ungrouped flags are not listed and flags are visible again afterwards
	testutil.AssertFalse(t, strings.Contains(help, "--limit"), "ungrouped flag")
	testutil.AssertFalse(t, cmd.Flags().Lookup("organism").Hidden, "flag unhidden after help")
}

func TestLoadConfigMissingFile(t *testing.T) {
	dir := t.TempDir()
	g := Globals{ConfigPath: filepath.Join(dir, "absent.yaml")}

	cfg, err := g.LoadConfig()
	testutil.RequireNoError(t, err, "missing file yields defaults")
	testutil.AssertEqual(t, cfg.Database.Driver, "sqlite3", "default driver")
}

func TestLoadConfigInvalidFile(t *testing.T) {
	path, cleanup := testutil.TempFile(t, "config.yaml", "server: [")
	defer cleanup()

	g := Globals{ConfigPath: path}
	_, err := g.LoadConfig()
	testutil.AssertTrue(t, err != nil, "invalid yaml fails")
	testutil.AssertContains(t, err.Error(), path, "error names the file")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	for _, env := range []string{"SEQLIMS_CONFIG_HOME", "SEQLIMS_DATA_HOME", "SEQLIMS_CACHE_HOME", "SEQLIMS_STATE_HOME"} {
		t.Setenv(env, filepath.Join(dir, strings.ToLower(env)))
	}

	cfg := config.DefaultConfig()
	cfg.DataDirectory = dir
	cfg.Database.Path = filepath.Join(dir, "seqlims.db")
	cfg.Search.Enabled = true
	cfg.Search.IndexPath = filepath.Join(dir, "seqlims.bleve")
	cfg.Search.TaxonomyPath = filepath.Join(dir, "taxonomy.tsv")
	cfg.Storage.SequenceFileDir = filepath.Join(dir, "files", "sequence")
	cfg.Storage.ReferenceFileDir = filepath.Join(dir, "files", "reference")
	cfg.Storage.OutputFileDir = filepath.Join(dir, "files", "output")
	cfg.Storage.CreateMissing = true
	cfg.Security.BcryptCost = 4
	return cfg
}

func TestOpenAndClose(t *testing.T) {
	testutil.SkipIfShort(t, "opens a database and search index on disk")
	cfg := testConfig(t)
	ctx := context.Background()

	app, err := Open(ctx, cfg, nil)
	testutil.RequireNoError(t, err, "open")

	testutil.AssertNoError(t, cfg.CheckBaseDirectories(), "base directories created")
	testutil.AssertTrue(t, app.Search.Enabled(), "search enabled")
	testutil.AssertTrue(t, app.Taxonomy == nil, "no taxonomy without a file")
	testutil.AssertTrue(t, app.Execution == nil, "no execution without an engine")
	testutil.AssertNotNil(t, app.Remote.APIs, "remote clients")

	sys := security.AsSystem(ctx)
	u, err := app.Services.Users.Create(sys, testutil.TestUser("alice", models.RoleUser), "Ch4nge-me!")
	testutil.RequireNoError(t, err, "create user")

	p, err := app.Services.Projects.Create(security.WithPrincipal(ctx, security.PrincipalFor(u)), &models.Project{Name: "Outbreak"})
	testutil.RequireNoError(t, err, "create project")

	resp, err := app.RebuildSearchIndex(ctx)
	testutil.RequireNoError(t, err, "rebuild")
	testutil.AssertEqual(t, resp.Documents, int64(1), "one project indexed")

	app.StartProcessing()
	testutil.AssertNotNil(t, app.Processing, "processing executor")

	testutil.AssertNoError(t, app.Close(), "close")

	// Data survives a reopen
	app, err = Open(ctx, cfg, nil)
	testutil.RequireNoError(t, err, "reopen")
	defer app.Close()

	got, err := app.Services.Projects.Read(sys, p.ID)
	testutil.RequireNoError(t, err, "read project")
	testutil.AssertEqual(t, got.Name, "Outbreak", "project name")
}

func TestOpenPostgres(t *testing.T) {
	dsn := testutil.RequireEnv(t, "SEQLIMS_TEST_POSTGRES_DSN")
	cfg := testConfig(t)
	cfg.Database.Driver = "pgx"
	cfg.Database.DSN = dsn
	cfg.Search.Enabled = false
	ctx := context.Background()

	app, err := Open(ctx, cfg, nil)
	testutil.RequireNoError(t, err, "open")
	defer app.Close()

	username := "pg-" + uuid.NewString()[:8]
	u, err := app.Services.Users.Create(security.AsSystem(ctx), testutil.TestUser(username, models.RoleUser), "Ch4nge-me!")
	testutil.RequireNoError(t, err, "create user")

	got, err := app.Services.Users.GetByUsername(security.AsSystem(ctx), username)
	testutil.RequireNoError(t, err, "read user")
	testutil.AssertEqual(t, got.ID, u.ID, "same user")
}
