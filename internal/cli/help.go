package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// FlagGroup is a titled set of flags shown together in help output.
type FlagGroup struct {
	Title string
	Names []string
}

// GlobalFlagGroup lists the flags bound by Globals.
var GlobalFlagGroup = FlagGroup{
	Title: "GLOBAL OPTIONS",
	Names: []string{"help", "config", "verbose", "quiet", "no-color"},
}

// EnvironmentHelp documents the environment variables seqlims reads.
const EnvironmentHelp = `Environment Variables:
  SEQLIMS_CONFIG          Configuration file
  SEQLIMS_JWT_SECRET      Token signing secret (overrides security.jwt_secret)
  SEQLIMS_ENGINE_API_KEY  Workflow engine API key (overrides execution.api_key)
  SEQLIMS_DB_PATH         SQLite database file
  SEQLIMS_INDEX_PATH      Search index directory
  SEQLIMS_FILES_PATH      Root of the file base directories
  SEQLIMS_TAXONOMY_PATH   Taxonomy tree loaded for organism lookups
  SEQLIMS_DATA_HOME       Data directory (default: ~/.local/share/seqlims)
  SEQLIMS_CONFIG_HOME     Configuration directory (default: ~/.config/seqlims)
  NO_COLOR                Disable colored output`

// SetupGroupedHelp makes cmd print its flags under the given group titles,
// followed by the global flags and the environment variables.
func SetupGroupedHelp(cmd *cobra.Command, groups ...FlagGroup) {
	originalHelpFunc := cmd.HelpFunc()
	cmd.SetHelpFunc(func(c *cobra.Command, args []string) {
		if c != cmd {
			originalHelpFunc(c, args)
			return
		}

		// Print the usage without the flag listing
		hidden := map[string]bool{}
		visit := func(flag *pflag.Flag) {
			if !flag.Hidden {
				hidden[flag.Name] = true
				flag.Hidden = true
			}
		}
		c.Flags().VisitAll(visit)
		c.InheritedFlags().VisitAll(visit)
		originalHelpFunc(c, args)
		unhide := func(flag *pflag.Flag) {
			if hidden[flag.Name] {
				flag.Hidden = false
			}
		}
		c.Flags().VisitAll(unhide)
		c.InheritedFlags().VisitAll(unhide)

		w := c.OutOrStdout()
		fmt.Fprintln(w, "\nFlags:")
		for _, g := range append(groups, GlobalFlagGroup) {
			printFlagGroup(w, c, g)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, EnvironmentHelp)
	})
}

// lookupFlag finds a local or inherited flag.
func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag
	}
	return cmd.InheritedFlags().Lookup(name)
}

// printFlagGroup prints a group of flags with a header
func printFlagGroup(w io.Writer, cmd *cobra.Command, g FlagGroup) {
	var flags []*pflag.Flag
	for _, name := range g.Names {
		if flag := lookupFlag(cmd, name); flag != nil && !flag.Hidden {
			flags = append(flags, flag)
		}
	}
	if len(flags) == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s:\n", g.Title)
	for _, flag := range flags {
		fmt.Fprintln(w, formatFlag(flag))
	}
}

// formatFlag renders one flag line with its type and default.
func formatFlag(flag *pflag.Flag) string {
	shorthand := ""
	if flag.Shorthand != "" {
		shorthand = fmt.Sprintf("-%s, ", flag.Shorthand)
	}
	flagLine := fmt.Sprintf("  %s--%s", shorthand, flag.Name)

	typeStr := ""
	switch flag.Value.Type() {
	case "string":
		if flag.DefValue != "" {
			typeStr = fmt.Sprintf(" string (default %q)", flag.DefValue)
		} else {
			typeStr = " string"
		}
	case "int", "int32", "int64":
		if flag.DefValue != "0" {
			typeStr = fmt.Sprintf(" int (default %s)", flag.DefValue)
		} else {
			typeStr = " int"
		}
	case "bool":
	default:
		if flag.DefValue != "" && flag.DefValue != "[]" {
			typeStr = fmt.Sprintf(" (default %s)", flag.DefValue)
		}
	}

	// Ensure proper alignment
	padding := 45 - len(flagLine) - len(typeStr)
	if padding < 1 {
		padding = 1
	}
	return flagLine + typeStr + strings.Repeat(" ", padding) + flag.Usage
}
