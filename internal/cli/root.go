package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/rental-ledger-go/config"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Store      string
	Format     string
	Verbose    bool

	cfg config.Config
	now func() time.Time
}

// NewRootCommand creates the root command of rentalctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{now: func() time.Time { return time.Now().UTC() }})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rentalctl",
		Short: "Operate the rental ledger",
		Long: `Operate the rental ledger: manage the book catalog, check books out and in,
apply the database schema and serve the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return commandError(fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return commandError("load configuration", err)
			}

			if opts.Store != "" {
				cfg.Store = opts.Store
				if err := cfg.Validate(); err != nil {
					return commandError("invalid --store", err)
				}
			}

			if opts.Verbose {
				cfg.Log.Level = "debug"
			}

			opts.cfg = cfg

			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return commandError("invalid flags", err)
	})

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "store override (memory|postgres|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level, including SQL")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newBookCommand(opts))
	cmd.AddCommand(newRentalCommand(opts))

	return cmd
}
