package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/rental-ledger-go/internal/bootstrap"
	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// RentalOptions holds flags for the rental checkout and list commands.
type RentalOptions struct {
	*RootOptions
	UserID int64
	BookID int64
}

func newRentalCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rental",
		Short: "Check books out and in",
	}

	cmd.AddCommand(newRentalCheckoutCommand(opts))
	cmd.AddCommand(newRentalReturnCommand(opts))
	cmd.AddCommand(newRentalShowCommand(opts))
	cmd.AddCommand(newRentalListCommand(opts))

	return cmd
}

func newRentalCheckoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RentalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "checkout",
		Short:   "Check a book out to a user for seven days",
		Example: `  rentalctl rental checkout --user 7 --book 1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := errors.Join(checkIDFlag("user", opts.UserID), checkIDFlag("book", opts.BookID)); err != nil {
				return err
			}

			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *bootstrap.Runtime) error {
				rental, err := rt.Engine.Checkout(ctx, opts.UserID, opts.BookID, opts.now())
				if err != nil {
					return ledgerError(err)
				}

				return opts.printer(cmd).Rental(rental)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id")
	cmd.Flags().Int64Var(&opts.BookID, "book", 0, "book id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("book")

	return cmd
}

func newRentalReturnCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "return <rental-id>",
		Short: "Return a rented book and compute the overdue fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rentalID, err := parseID("rental id", args[0])
			if err != nil {
				return err
			}

			return withRuntime(cmd, opts, func(ctx context.Context, rt *bootstrap.Runtime) error {
				rental, err := rt.Engine.Return(ctx, rentalID, opts.now())
				if err != nil {
					return ledgerError(err)
				}

				return opts.printer(cmd).Rental(rental)
			})
		},
	}
}

func newRentalShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <rental-id>",
		Short: "Show one rental session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rentalID, err := parseID("rental id", args[0])
			if err != nil {
				return err
			}

			return withRuntime(cmd, opts, func(ctx context.Context, rt *bootstrap.Runtime) error {
				rental, err := rt.Engine.GetRental(ctx, rentalID)
				if err != nil {
					return ledgerError(err)
				}

				return opts.printer(cmd).Rental(rental)
			})
		},
	}
}

func newRentalListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RentalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the rental sessions of a user or of a book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cmd.Flags().Changed("user") {
				err = checkIDFlag("user", opts.UserID)
			} else {
				err = checkIDFlag("book", opts.BookID)
			}
			if err != nil {
				return err
			}

			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *bootstrap.Runtime) error {
				var (
					rentals []ledger.RentalSession
					err     error
				)

				if cmd.Flags().Changed("user") {
					rentals, err = rt.Engine.ListRentalsByUser(ctx, opts.UserID)
				} else {
					rentals, err = rt.Engine.ListRentalsByBook(ctx, opts.BookID)
				}
				if err != nil {
					return ledgerError(err)
				}

				return opts.printer(cmd).Rentals(rentals)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "list the sessions of this user")
	cmd.Flags().Int64Var(&opts.BookID, "book", 0, "list the sessions of this book")
	cmd.MarkFlagsOneRequired("user", "book")
	cmd.MarkFlagsMutuallyExclusive("user", "book")

	return cmd
}
