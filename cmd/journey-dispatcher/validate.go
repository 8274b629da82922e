package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"

	"github.com/journeyhq/journey/pkg/cmd"
	"github.com/journeyhq/journey/pkg/records"
	"github.com/journeyhq/journey/pkg/workflow"
)

var validate *validator.Validate

// Static error variables for linter compliance.
var ErrInvalidWorkflows = errors.New("invalid workflows found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate stored workflow graphs and trigger configurations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "plugins-path",
				Usage: "Path to the directory containing action plugins",
				Value: "",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			validate = validator.New(validator.WithRequiredStructEnabled())

			logger := slog.With(
				"module", "journey-dispatcher",
				"action", "validate",
			)

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return fmt.Errorf("failed to create persistence: %w", err)
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					return
				}
			}()

			registry := cmd.NewRegistry(ctx, logger, records.NewMemoryStore(), command.String("plugins-path"))

			workflows, err := persistence.Workflows(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch workflows: %w", err)
			}

			logger.Info("Validating workflow graphs", "workflows", len(workflows))

			_, _ = fmt.Fprintln(os.Stdout, "Workflow Graph Validation Results:")
			_, _ = fmt.Fprintln(os.Stdout, "==================================")

			validWorkflows := 0
			invalidWorkflows := 0

			for _, wf := range workflows {
				_, _ = fmt.Fprintf(os.Stdout, "\nWorkflow: %s (%s) [%s]\n", wf.Name, wf.ID, wf.Status)

				invalid := false

				err = validate.Struct(wf)
				if err != nil {
					var validationErrors validator.ValidationErrors
					if errors.As(err, &validationErrors) {
						_, _ = fmt.Fprintf(os.Stdout, "    ❌ INVALID: %v\n", validationErrors)
					} else {
						_, _ = fmt.Fprintf(os.Stdout, "    ❌ INVALID: %v\n", err)
					}

					invalid = true
				}

				for _, issue := range workflow.ValidateGraph(wf, registry) {
					_, _ = fmt.Fprintf(os.Stdout, "    ❌ INVALID: %s\n", issue)

					invalid = true
				}

				if invalid {
					invalidWorkflows++

					continue
				}

				_, _ = fmt.Fprintf(os.Stdout, "    ✅ VALID\n")
				validWorkflows++
			}

			_, _ = fmt.Fprintf(os.Stdout, "\nValidation Summary:\n")
			_, _ = fmt.Fprintf(os.Stdout, "  Total workflows: %d\n", invalidWorkflows+validWorkflows)
			_, _ = fmt.Fprintf(os.Stdout, "  Valid workflows: %d\n", validWorkflows)
			_, _ = fmt.Fprintf(os.Stdout, "  Invalid workflows: %d\n", invalidWorkflows)

			if invalidWorkflows > 0 {
				return fmt.Errorf("%w: %d", ErrInvalidWorkflows, invalidWorkflows)
			}

			_, _ = fmt.Fprintln(os.Stdout, "All workflows are valid for dispatch! ✅")

			return nil
		},
	}
}
