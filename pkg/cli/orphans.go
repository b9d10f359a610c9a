package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/leadflow/pkg/app"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

func newOrphansCommand(env *environment) *Command {
	cmd := &Command{
		Name:        "orphans",
		Description: "List users left behind by failed conversions",
		Flags:       flag.NewFlagSet("orphans", flag.ContinueOnError),
	}
	path := addConfigFlag(cmd.Flags)
	limit := cmd.Flags.Int("limit", 50, "Maximum number of runs to list")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		cfg, err := env.load(configPath(*path))
		if err != nil {
			return err
		}
		logger := observability.NewLogger(observability.ParseLevel(cfg.Observability.LogLevel), env.logOut)

		ctx := context.Background()
		application, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer application.Close()

		if application.AuditStore == nil {
			return fmt.Errorf("no audit store configured")
		}

		entries, err := application.AuditStore.ListOrphaned(ctx, *limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(env.out, "No orphaned users")
			return nil
		}

		w := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tORGANIZATION\tUSER ID\tUSERNAME\tFAILED STEP\tCREATED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.RunID, e.OrganizationID, e.UserID, e.Username, e.FailedStep,
				e.CreatedAt.UTC().Format(time.RFC3339))
		}
		return w.Flush()
	}
	return cmd
}
