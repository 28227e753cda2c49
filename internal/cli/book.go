package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/rental-ledger-go/internal/bootstrap"
	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// BookAddOptions holds flags for the book add command.
type BookAddOptions struct {
	*RootOptions
	Title  string
	Author string
	Stock  int
}

func newBookCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Manage the book catalog",
	}

	cmd.AddCommand(newBookAddCommand(opts))
	cmd.AddCommand(newBookListCommand(opts))
	cmd.AddCommand(newBookShowCommand(opts))

	return cmd
}

func newBookAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BookAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Add a book with an initial stock",
		Example: `  rentalctl book add --title "The Go Programming Language" --author "Alan Donovan" --stock 3`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *bootstrap.Runtime) error {
				book, err := rt.Engine.AddBook(ctx, ledger.NewBook{
					Title:  opts.Title,
					Author: opts.Author,
					Stock:  opts.Stock,
				}, opts.now())
				if err != nil {
					return ledgerError(err)
				}

				return opts.printer(cmd).Book(book)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "book title")
	cmd.Flags().StringVar(&opts.Author, "author", "", "book author")
	cmd.Flags().IntVar(&opts.Stock, "stock", 1, "number of copies")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("author")

	return cmd
}

func newBookListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all books ordered by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *bootstrap.Runtime) error {
				books, err := rt.Engine.ListBooks(ctx)
				if err != nil {
					return ledgerError(err)
				}

				return opts.printer(cmd).Books(books)
			})
		},
	}
}

func newBookShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <book-id>",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book id", args[0])
			if err != nil {
				return err
			}

			return withRuntime(cmd, opts, func(ctx context.Context, rt *bootstrap.Runtime) error {
				book, err := rt.Engine.GetBook(ctx, bookID)
				if err != nil {
					return ledgerError(err)
				}

				return opts.printer(cmd).Book(book)
			})
		},
	}
}
