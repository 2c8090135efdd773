package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nishad/seqlims/internal/cli"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/ui"
)

// Color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Apply color if terminal output and color enabled
func colorize(color, text string) string {
	if !globals.NoColor && ui.IsTerminal(os.Stdout) && ui.ColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// Print error message in user-friendly format
func printError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(colorRed, "✗"), msg)
}

// Print success message
func printSuccess(format string, args ...interface{}) {
	if !globals.Quiet {
		msg := fmt.Sprintf(format, args...)
		fmt.Printf("%s %s\n", colorize(colorGreen, "✓"), msg)
	}
}

// Print info message
func printInfo(format string, args ...interface{}) {
	if !globals.Quiet {
		msg := fmt.Sprintf(format, args...)
		fmt.Printf("%s\n", colorize(colorCyan, msg))
	}
}

// Print warning message
func printWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(colorYellow, "⚠"), msg)
}

func printHeading(title string) {
	printInfo("%s", title)
	if !globals.Quiet {
		fmt.Println(colorize(colorGray, strings.Repeat("─", 40)))
	}
}

// withApp loads the configuration, opens every component and runs fn as
// the system principal. Commands run with administrator rights since they
// have direct access to the database.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *cli.App) error) error {
	cfg, err := globals.LoadConfig()
	if err != nil {
		return err
	}
	logger, flush, err := globals.Logger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := cli.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(security.AsSystem(ctx), app)
}

// asUser runs as the named user instead of the system principal.
func asUser(ctx context.Context, app *cli.App, username string) (context.Context, *models.User, error) {
	u, err := app.Services.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	return security.WithPrincipal(ctx, security.PrincipalFor(u)), u, nil
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readSecret reads a line from stdin, for passwords and client secrets
// that should not appear in shell history.
func readSecret(prompt string) (string, error) {
	if ui.IsTerminal(os.Stdin) {
		fmt.Fprint(os.Stderr, prompt)
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", fmt.Errorf("no value given")
	}
	return secret, nil
}

// validateFormat checks an --format value against the allowed ones.
func validateFormat(format string, allowed ...string) error {
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q (use %s)", format, strings.Join(allowed, ", "))
}

// parseID parses an entity id argument.
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
