// Package cli exposes every ledger operation as a ledgerctl subcommand. Each
// command reads one JSON request and prints one JSON result.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"retail-ledger/internal/app"
	"retail-ledger/internal/config"
	"retail-ledger/internal/core"
	"retail-ledger/internal/logger"
	"retail-ledger/internal/store/postgres"
)

var version = "0.1.0"

// NewRootCommand builds the ledgerctl command tree from the operation registry.
func NewRootCommand() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Retail ledger: stock, debts and treasury",
		Long: `ledgerctl runs one ledger operation per invocation.

The request is a JSON document read from stdin (or --file) and the result is
printed as JSON on stdout. Failures are printed as JSON on stderr with their
kind and the process exits non-zero.

Configuration comes from the environment and an optional .env file:
  DATABASE_URL, STORE_DRIVER, RECEIPT_COUNTER, REDIS_ADDR, LOG_LEVEL, ...`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := config.Load()
			if err != nil {
				return err
			}
			if err := logger.Setup(c.GetLoggerConfig()); err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}

	for _, o := range app.Operations() {
		root.AddCommand(operationCommand(o, &cfg))
	}
	root.AddCommand(migrateCommand(&cfg), schemaCommand())
	return root
}

// Execute runs ledgerctl with os.Args and exits non-zero on failure.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		log := logger.WithComponent("cli")
		log.Debug().Err(err).Msg("command failed")
		writeError(os.Stderr, err)
		os.Exit(1)
	}
}

func operationCommand(o app.Operation, cfg **config.Config) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   o.Name,
		Short: o.Short,
		Args:  cobra.NoArgs,
		Example: fmt.Sprintf(`  # Print the request schema
  ledgerctl schema %[1]s

  # Run with a request file
  ledgerctl %[1]s --file request.json`, o.Name),
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readRequest(cmd, file)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := o.Run(cmd.Context(), a, raw)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the JSON request from this file instead of stdin")
	return cmd
}

func migrateCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := *cfg
			if c.StoreDriver != "postgres" {
				return core.NewValidationError("STORE_DRIVER", "migrate requires the postgres store, got %q", c.StoreDriver)
			}
			if err := postgres.Migrate(c.DatabaseURL, logger.WithComponent("migrate")); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), app.OKResult{OK: true})
		},
	}
}

func schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <operation>",
		Short: "Print the JSON Schema of an operation's request",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			o, ok := app.Lookup(args[0])
			if !ok {
				return &core.NotFoundError{Entity: "operation", ID: args[0]}
			}
			return writeJSON(cmd.OutOrStdout(), o.Schema())
		},
	}
}

func readRequest(cmd *cobra.Command, file string) ([]byte, error) {
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read request file: %w", err)
		}
		return raw, nil
	}
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	return raw, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type errorBody struct {
	Kind          core.ErrorKind `json:"kind"`
	Message       string         `json:"message"`
	Operation     string         `json:"operation,omitempty"`
	Completed     []string       `json:"completed,omitempty"`
	Failed        string         `json:"failed,omitempty"`
	Compensated   []string       `json:"compensated,omitempty"`
	Uncompensated []string       `json:"uncompensated,omitempty"`
}

func writeError(w io.Writer, err error) {
	body := errorBody{Kind: core.KindOf(err), Message: err.Error()}
	var partial *core.PartialApplicationError
	if errors.As(err, &partial) {
		body.Operation = partial.Operation
		body.Completed = partial.Completed
		body.Failed = partial.Failed
		body.Compensated = partial.Compensated
		body.Uncompensated = partial.Uncompensated
	}
	_ = writeJSON(w, map[string]errorBody{"error": body})
}
