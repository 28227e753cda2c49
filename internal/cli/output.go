package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/httpapi"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const timeLayout = time.RFC3339

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Printer renders ledger records as a text table or as JSON shaped like the HTTP API responses.
type Printer struct {
	Format string
	Writer io.Writer
	Now    time.Time
}

// Book renders a single book.
func (p Printer) Book(book ledger.Book) error {
	if p.Format == FormatJSON {
		return json.NewEncoder(p.Writer).Encode(httpapi.NewBookResponse(book))
	}

	return p.Books([]ledger.Book{book})
}

// Books renders books as a table ordered as given.
func (p Printer) Books(books []ledger.Book) error {
	if p.Format == FormatJSON {
		return json.NewEncoder(p.Writer).Encode(httpapi.NewBookList(books))
	}

	tw := newTable(p.Writer)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tSTOCK")
	for _, b := range books {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", b.ID, b.Title, b.Author, b.Stock)
	}

	return tw.Flush()
}

// Rental renders a single session with its effective status at p.Now.
func (p Printer) Rental(rental ledger.RentalSession) error {
	if p.Format == FormatJSON {
		return json.NewEncoder(p.Writer).Encode(httpapi.NewRentalResponse(rental, p.Now))
	}

	return p.Rentals([]ledger.RentalSession{rental})
}

// Rentals renders sessions as a table.
func (p Printer) Rentals(rentals []ledger.RentalSession) error {
	if p.Format == FormatJSON {
		return json.NewEncoder(p.Writer).Encode(httpapi.NewRentalList(rentals, p.Now))
	}

	tw := newTable(p.Writer)
	fmt.Fprintln(tw, "ID\tUSER\tBOOK\tCHECKOUT\tDUE\tRETURNED\tSTATUS\tFEE")
	for _, r := range rentals {
		returned := "-"
		if r.ReturnTime != nil {
			returned = r.ReturnTime.UTC().Format(timeLayout)
		}

		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.UserID, r.BookID,
			r.CheckoutTime.UTC().Format(timeLayout),
			r.DueTime.UTC().Format(timeLayout),
			returned,
			r.EffectiveStatus(p.Now),
			r.OverdueFee,
		)
	}

	return tw.Flush()
}

// Message prints a plain status line in text mode and {"message": ...} in JSON mode.
func (p Printer) Message(msg string) error {
	if p.Format == FormatJSON {
		return json.NewEncoder(p.Writer).Encode(map[string]string{"message": msg})
	}

	_, err := fmt.Fprintln(p.Writer, msg)

	return err
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
