package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/platinummonkey/leadflow/pkg/app"
	"github.com/platinummonkey/leadflow/pkg/async"
	"github.com/platinummonkey/leadflow/pkg/conversion"
	"github.com/platinummonkey/leadflow/pkg/observability"
)

func newConvertCommand(env *environment) *Command {
	cmd := &Command{
		Name:        "convert",
		Description: "Convert lead organizations and print the results",
		Flags:       flag.NewFlagSet("convert", flag.ContinueOnError),
	}
	path := addConfigFlag(cmd.Flags)
	orgs := cmd.Flags.String("org", "", "Lead organization ID, or a comma-separated list")
	newName := cmd.Flags.String("name", "", "Customer name (derived from the lead name when empty; single organization only)")
	actorID := cmd.Flags.String("actor-id", "", "ID of the operator performing the conversion")
	actorName := cmd.Flags.String("actor-name", "", "Name of the operator performing the conversion")
	parallel := cmd.Flags.Int("parallel", 4, "Maximum conversions in flight")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		orgIDs := splitList(*orgs)
		if len(orgIDs) == 0 {
			return fmt.Errorf("-org is required")
		}
		if *newName != "" && len(orgIDs) > 1 {
			return fmt.Errorf("-name can only be used with a single organization")
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

		results, _ := async.Map(ctx, orgIDs, *parallel, func(ctx context.Context, orgID string) (*conversion.SagaResult, error) {
			return application.Orchestrator.Convert(ctx, conversion.ConvertRequest{
				OrganizationID: orgID,
				NewName:        *newName,
				ActorID:        *actorID,
				ActorName:      *actorName,
			}), nil
		})

		encoder := json.NewEncoder(env.out)
		encoder.SetIndent("", "  ")
		var output interface{} = results
		if len(results) == 1 {
			output = results[0]
		}
		if err := encoder.Encode(output); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}

		failed := 0
		for _, result := range results {
			if !result.Success {
				failed++
			}
		}
		switch {
		case failed == 0:
			return nil
		case len(results) == 1:
			return fmt.Errorf("conversion failed: %s", results[0].Message)
		default:
			return fmt.Errorf("%d of %d conversions failed", failed, len(results))
		}
	}
	return cmd
}

// splitList splits a comma-separated flag value, dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
