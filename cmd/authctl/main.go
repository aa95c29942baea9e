// Command authctl administers accounts directly against the auth database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"vetrai.org/internal/app"
	"vetrai.org/internal/auth"
	"vetrai.org/internal/config"
	"vetrai.org/internal/obs"
)

const passwordEnv = "AUTHCTL_PASSWORD"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, Dev: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, logger, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "authctl: %v\n", err)
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: authctl <command> [flags]

commands:
  create-user     -username -email [-full-name] [-role] [-org] [-superuser] [-password]
  set-role        -username -role [-org]
  set-active      -username -active=true|false
  reset-password  -username [-password]
  bootstrap       create the configured admin when the directory is empty

Passwords may be supplied through the ` + passwordEnv + ` environment variable.`)
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	dir := a.Directory

	switch cmd {
	case "create-user":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		username := fs.String("username", "", "login name")
		email := fs.String("email", "", "email address")
		fullName := fs.String("full-name", "", "display name")
		role := fs.String("role", string(auth.RoleUser), "user, org_admin or super_admin")
		org := fs.Int64("org", auth.DefaultOrgID, "organization id")
		superuser := fs.Bool("superuser", false, "mark as superuser")
		password := fs.String("password", "", "initial password")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		r, ok := auth.ParseRole(*role)
		if !ok {
			return fmt.Errorf("%w: unknown role %q", errUsage, *role)
		}
		nu := auth.NewUser{
			Username:    *username,
			Email:       *email,
			Password:    passwordFrom(*password),
			IsSuperuser: *superuser,
			OrgID:       *org,
			Role:        r,
		}
		if *fullName != "" {
			nu.FullName = fullName
		}
		u, err := dir.CreateUser(ctx, nu)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created user %s (id=%d role=%s org=%d)\n", u.Username, u.ID, u.Role, u.OrgID)

	case "set-role":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		username := fs.String("username", "", "login name")
		role := fs.String("role", "", "user, org_admin or super_admin")
		org := fs.Int64("org", 0, "organization id (default: keep current)")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		r, ok := auth.ParseRole(*role)
		if !ok {
			return fmt.Errorf("%w: unknown role %q", errUsage, *role)
		}
		u, err := lookup(ctx, dir, *username)
		if err != nil {
			return err
		}
		orgID := *org
		if orgID == 0 {
			orgID = u.OrgID
		}
		if err := dir.SetRole(ctx, u.ID, r, orgID); err != nil {
			return err
		}
		fmt.Fprintf(out, "user %s: role=%s org=%d\n", u.Username, r, orgID)

	case "set-active":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		username := fs.String("username", "", "login name")
		active := fs.Bool("active", true, "enable or disable the account")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		u, err := lookup(ctx, dir, *username)
		if err != nil {
			return err
		}
		if err := dir.SetActive(ctx, u.ID, *active); err != nil {
			return err
		}
		fmt.Fprintf(out, "user %s: active=%t\n", u.Username, *active)

	case "reset-password":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		username := fs.String("username", "", "login name")
		password := fs.String("password", "", "new password")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		u, err := lookup(ctx, dir, *username)
		if err != nil {
			return err
		}
		if err := dir.ResetPassword(ctx, u.ID, passwordFrom(*password)); err != nil {
			return err
		}
		fmt.Fprintf(out, "user %s: password reset\n", u.Username)

	case "bootstrap":
		created, err := dir.BootstrapDefaultAdmin(ctx)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "created admin %s\n", cfg.AdminUsername)
		} else {
			fmt.Fprintln(out, "directory not empty; nothing to do")
		}

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}

func lookup(ctx context.Context, dir *auth.Directory, username string) (*auth.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: -username is required", errUsage)
	}
	u, err := dir.FindByUsername(ctx, username)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found", username)
	}
	return u, err
}

func passwordFrom(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(passwordEnv)
}
