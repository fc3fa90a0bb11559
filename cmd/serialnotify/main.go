// Command serialnotify watches a serial catalogue for new episodes and
// notifies subscribed Telegram users.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"serialnotify/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := &cli.Command{
		Name:  "serialnotify",
		Usage: "New-episode notifier for serial subscribers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./config.yaml",
				Usage:   "Path to the YAML or JSON config file (missing file uses defaults and env)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run every enabled role in one process",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRoles(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "scan",
				Usage: "Run the scan, detect and fan-out schedule only",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRoles(ctx, cmd.String("config"), app.RoleScan)
				},
			},
			{
				Name:  "deliver",
				Usage: "Run the delivery worker and liveness refresher only",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRoles(ctx, cmd.String("config"), app.RoleDeliver)
				},
			},
			{
				Name:  "bot",
				Usage: "Run the bot front-end only",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRoles(ctx, cmd.String("config"), app.RoleBot)
				},
			},
			{
				Name:  "admin",
				Usage: "Run the admin HTTP server only",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runRoles(ctx, cmd.String("config"), app.RoleAdmin)
				},
			},
			{
				Name:  "import",
				Usage: "Import the serial catalogue once and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return importOnce(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply database migrations and exit",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return app.Migrate(ctx, cmd.String("config"))
				},
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
