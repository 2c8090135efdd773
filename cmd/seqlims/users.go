package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nishad/seqlims/internal/cli"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/ui"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
	Example: `  seqlims users list
  seqlims users create alice --email alice@example.org --role MANAGER
  echo 'N3w-Passw0rd' | seqlims users passwd alice`,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runUsersList)
	},
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user account",
	Long: `Create a user account. The password is read from standard input so
that it does not end up in shell history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runUsersCreate(ctx, app, args[0])
		})
	},
}

var usersPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Reset a user's password",
	Long:  `Reset a user's password. The new password is read from standard input.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *cli.App) error {
			return runUsersPasswd(ctx, app, args[0])
		})
	},
}

var (
	userEmail     string
	userFirstName string
	userLastName  string
	userRole      string
	usersFormat   string
)

func init() {
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersPasswdCmd)

	usersListCmd.Flags().StringVarP(&usersFormat, "format", "f", "table", "Output format (table|json)")

	usersCreateCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	usersCreateCmd.Flags().StringVar(&userFirstName, "first-name", "", "First name")
	usersCreateCmd.Flags().StringVar(&userLastName, "last-name", "", "Last name")
	usersCreateCmd.Flags().StringVar(&userRole, "role", string(models.RoleUser), "System role (USER|MANAGER|SEQUENCER|TECHNICIAN|ADMIN)")
	_ = usersCreateCmd.MarkFlagRequired("email")
}

func runUsersList(ctx context.Context, app *cli.App) error {
	if err := validateFormat(usersFormat, "table", "json"); err != nil {
		return err
	}
	users, err := app.Services.Users.List(ctx)
	if err != nil {
		return err
	}
	if usersFormat == "json" {
		return writeJSON(os.Stdout, users)
	}

	t := ui.NewTable(os.Stdout, "ID", "Username", "Name", "Email", "Role", "Enabled", "Last login")
	for _, u := range users {
		t.Append(u.ID, u.Username, u.Label(), u.Email, u.Role, strconv.FormatBool(u.Enabled), ui.AgoPtr(u.LastLogin))
	}
	t.Render()
	return nil
}

func runUsersCreate(ctx context.Context, app *cli.App, username string) error {
	role, err := models.AsRole(userRole)
	if err != nil {
		return err
	}
	password, err := readSecret("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	u, err := app.Services.Users.Create(ctx, &models.User{
		Username:  username,
		Email:     userEmail,
		FirstName: userFirstName,
		LastName:  userLastName,
		Role:      role,
	}, password)
	if err != nil {
		return err
	}
	printSuccess("Created user %s (id %d, %s)", u.Username, u.ID, u.Role)
	return nil
}

func runUsersPasswd(ctx context.Context, app *cli.App, username string) error {
	u, err := app.Services.Users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	password, err := readSecret("New password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if err := app.Services.Users.ChangePassword(ctx, u.ID, "", password); err != nil {
		return err
	}
	printSuccess("Password changed for %s", u.Username)
	return nil
}
