package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/ratescout/ratescout/internal/app"
	"github.com/ratescout/ratescout/internal/scrape"
	"github.com/ratescout/ratescout/internal/store"
)

// onceCommand returns the "once" CLI subcommand: a single queue cycle, for
// operation under an external scheduler instead of the built-in loop.
func onceCommand() *cli.Command {
	return &cli.Command{
		Name:  "once",
		Usage: "Process the work queue once and exit",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := app.ConfigFrom(cmd)
			if err != nil {
				return err
			}

			st, err := store.NewSheetStore(ctx, cfg.Sheet)
			if err != nil {
				return fmt.Errorf("opening row store: %w", err)
			}

			return scrape.NewSupervisor(cfg, st).RunOnce(ctx)
		},
	}
}
