package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/ratescout/ratescout/internal/app"
	"github.com/ratescout/ratescout/internal/scrape"
	"github.com/ratescout/ratescout/internal/store"
)

// runCommand returns the "run" CLI subcommand: the unattended supervisor loop.
func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Process the work queue continuously, recovering from browser crashes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := app.ConfigFrom(cmd)
			if err != nil {
				return err
			}

			st, err := store.NewSheetStore(ctx, cfg.Sheet)
			if err != nil {
				return fmt.Errorf("opening row store: %w", err)
			}

			return scrape.NewSupervisor(cfg, st).Run(ctx)
		},
	}
}
