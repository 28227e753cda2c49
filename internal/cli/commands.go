package cli

import (
	"context"
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/rental-ledger-go/internal/bootstrap"
)

// withRuntime opens the runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, rt *bootstrap.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := bootstrap.Open(ctx, opts.cfg, cmd.ErrOrStderr())
	if err != nil {
		if errors.Is(err, bootstrap.ErrInvalidConfig) {
			return commandError("open runtime", err)
		}
		return ledgerError(err)
	}
	defer rt.Close()

	return fn(ctx, rt)
}

func (opts *RootOptions) printer(cmd *cobra.Command) Printer {
	return Printer{Format: opts.Format, Writer: cmd.OutOrStdout(), Now: opts.now()}
}

func parseID(name, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, commandError("invalid "+name+" "+strconv.Quote(value)+": must be a positive integer", nil)
	}

	return id, nil
}

// checkIDFlag applies the positional id rule to an id given as a flag.
func checkIDFlag(name string, value int64) error {
	if value <= 0 {
		return commandError("invalid --"+name+" "+strconv.FormatInt(value, 10)+": must be a positive integer", nil)
	}

	return nil
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema of the configured SQL store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *bootstrap.Runtime) error {
				if err := rt.Migrate(ctx); err != nil {
					return ledgerError(err)
				}

				return opts.printer(cmd).Message("schema applied to " + rt.Config.Store + " store")
			})
		},
	}
}
