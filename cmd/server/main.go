// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"codeberg.org/livesales/authcore/internal/config"
	"codeberg.org/livesales/authcore/internal/database"
	"codeberg.org/livesales/authcore/internal/repository"
	"codeberg.org/livesales/authcore/internal/server"
	"codeberg.org/livesales/authcore/internal/services/auth"
	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd := &cli.Command{
		Name:    "authcore",
		Usage:   "Live Sales authentication API",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.Flags(),
		Action:  server.Run,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the API server (default)",
				Flags:  config.Flags(),
				Action: server.Run,
			},
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Commands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "Apply all pending migrations",
						Flags:  config.Flags(),
						Action: migrate(nil),
					},
					{
						Name:   "down",
						Usage:  "Roll back the most recent migration",
						Flags:  config.Flags(),
						Action: migrate(database.MigrateDown),
					},
					{
						Name:   "reset",
						Usage:  "Roll back all migrations",
						Flags:  config.Flags(),
						Action: migrate(database.MigrateReset),
					},
				},
			},
			{
				Name:  "user",
				Usage: "Inspect and manage accounts",
				Commands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "Show an account, its live sessions and recent audit events",
						ArgsUsage: "<email>",
						Flags: append(config.Flags(), &cli.IntFlag{
							Name:  "events",
							Value: 20,
							Usage: "Number of audit events to list",
						}),
						Action: withAccounts(showUser),
					},
					{
						Name:      "activate",
						Usage:     "Re-enable a deactivated account",
						ArgsUsage: "<email>",
						Flags:     config.Flags(),
						Action:    withAccounts(setActive(true)),
					},
					{
						Name:      "deactivate",
						Usage:     "Disable an account and revoke all its sessions",
						ArgsUsage: "<email>",
						Flags:     config.Flags(),
						Action:    withAccounts(setActive(false)),
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// migrate opens the database, which applies pending migrations, and then
// runs step if given.
func migrate(step func(db *sql.DB, d database.Dialect) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg := config.NewFromCLI(cmd)

		db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = database.Close(db) }()

		if step != nil {
			if err := step(db.DB, database.Dialect(cfg.Database.Driver)); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}

		slog.Info("migrations done", "driver", cfg.Database.Driver)
		return nil
	}
}

type accountAction func(ctx context.Context, cmd *cli.Command, svc *auth.Service, email string) error

// withAccounts opens the database and hands the account service to action.
func withAccounts(action accountAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		email := cmd.Args().First()
		if email == "" {
			return errors.New("email argument is required")
		}

		cfg := config.NewFromCLI(cmd)
		db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = database.Close(db) }()

		svc := auth.NewService(auth.Deps{Repo: repository.New(db)}, &cfg.Auth)
		return action(ctx, cmd, svc, email)
	}
}

func showUser(ctx context.Context, cmd *cli.Command, svc *auth.Service, email string) error {
	status, err := svc.AccountStatus(ctx, email, int(cmd.Int("events")))
	if err != nil {
		return err
	}

	u := status.User
	fmt.Printf("id:            %d\n", u.ID)
	fmt.Printf("email:         %s\n", u.Email)
	fmt.Printf("role:          %s\n", u.Role)
	fmt.Printf("active:        %t\n", u.IsActive)
	fmt.Printf("2fa:           %t\n", u.TwoFactorEnabled)
	fmt.Printf("live sessions: %d\n", status.LiveSessions)
	for _, e := range status.RecentEvents {
		result := "ok"
		if !e.Success {
			result = "failed"
		}
		fmt.Printf("  %s  %-26s %-6s %s\n", e.CreatedAt.Format(time.RFC3339), e.Action, result, e.IPAddress)
	}
	return nil
}

func setActive(active bool) accountAction {
	return func(ctx context.Context, _ *cli.Command, svc *auth.Service, email string) error {
		user, err := svc.SetAccountActive(ctx, email, active)
		if err != nil {
			return err
		}
		fmt.Printf("%s active=%t\n", user.Email, user.IsActive)
		return nil
	}
}
