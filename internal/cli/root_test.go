package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/rental-ledger-go/config"
	"github.com/AntonStoeckl/rental-ledger-go/internal/bootstrap"
	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/httpapi"
)

// clearLedgerEnv blanks overrides a developer shell may have exported.
func clearLedgerEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		config.EnvStore, config.EnvPostgresDSN, config.EnvPostgresAdapter, config.EnvSQLitePath,
		config.EnvHTTPAddr, config.EnvHTTPCORSOrigins, config.EnvRetryMaxAttempts, config.EnvRetryBaseDelay,
		config.EnvLogLevel, config.EnvOTLPEndpoint,
	} {
		t.Setenv(key, "")
	}
}

type cliHarness struct {
	t    *testing.T
	now  time.Time
	args []string
}

// givenSQLiteCLI runs every command against the same SQLite file so state survives between invocations.
func givenSQLiteCLI(t *testing.T) *cliHarness {
	t.Helper()

	clearLedgerEnv(t)
	t.Setenv(config.EnvSQLitePath, filepath.Join(t.TempDir(), "ledger.db"))
	t.Setenv(config.EnvLogLevel, "error")

	return &cliHarness{t: t, now: fixtureT0, args: []string{"--store", config.StoreSQLite}}
}

func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()

	now := h.now
	cmd := newRootCommand(&RootOptions{now: func() time.Time { return now }})

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(append([]string{}, h.args...), args...))

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), err
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()

	out, err := h.run(args...)
	require.NoError(h.t, err, "rentalctl %v", args)

	return out
}

func Test_RootCommand_Has_Subcommands_And_Global_Flags(t *testing.T) {
	// setup
	cmd := NewRootCommand()

	// assert
	for _, path := range [][]string{
		{"migrate"}, {"serve"},
		{"book", "add"}, {"book", "list"}, {"book", "show"},
		{"rental", "checkout"}, {"rental", "return"}, {"rental", "show"}, {"rental", "list"},
	} {
		subCmd, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], subCmd.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, FormatText, formatFlag.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("store"))
}

func Test_CLI_Rejects_Invalid_Format(t *testing.T) {
	// setup
	h := givenSQLiteCLI(t)

	// act
	_, err := h.run("--format", "yaml", "book", "list")

	// assert
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func Test_CLI_Rejects_Unknown_Store(t *testing.T) {
	// setup
	clearLedgerEnv(t)
	cmd := newRootCommand(&RootOptions{now: func() time.Time { return fixtureT0 }})
	cmd.SetArgs([]string{"--store", "mysql", "book", "list"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	// act
	err := cmd.Execute()

	// assert
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrUnknownStore)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func Test_CLI_Checkout_Return_Scenario_On_SQLite(t *testing.T) {
	// setup
	h := givenSQLiteCLI(t)
	h.mustRun("migrate")

	// arrange
	h.mustRun("book", "add", "--title", "Dune", "--author", "Frank Herbert", "--stock", "2")

	// act
	checkout := h.mustRun("--format", FormatJSON, "rental", "checkout", "--user", "7", "--book", "1")
	_, duplicate := h.run("rental", "checkout", "--user", "7", "--book", "1")
	h.mustRun("rental", "checkout", "--user", "8", "--book", "1")
	_, outOfStock := h.run("rental", "checkout", "--user", "9", "--book", "1")

	h.now = fixtureT0.Add(ledger.LoanPeriod + 49*time.Hour)
	returned := h.mustRun("--format", FormatJSON, "rental", "return", "1")
	_, secondReturn := h.run("rental", "return", "1")
	book := h.mustRun("--format", FormatJSON, "book", "show", "1")

	// assert
	var rental httpapi.RentalResponse
	require.NoError(t, json.Unmarshal([]byte(checkout), &rental))
	assert.Equal(t, int64(1), rental.ID)
	assert.Equal(t, "rented", rental.Status)

	require.Error(t, outOfStock)
	assert.ErrorIs(t, outOfStock, ledger.ErrOutOfStock)
	assert.Equal(t, ExitFailure, GetExitCode(outOfStock))
	assert.Contains(t, outOfStock.Error(), "out_of_stock")

	require.Error(t, duplicate)
	assert.ErrorIs(t, duplicate, ledger.ErrAlreadyRented)

	var closed httpapi.RentalResponse
	require.NoError(t, json.Unmarshal([]byte(returned), &closed))
	assert.Equal(t, "returned", closed.Status)
	assert.Equal(t, "15.00", closed.OverdueFee)

	assert.ErrorIs(t, secondReturn, ledger.ErrAlreadyReturned)

	var restored httpapi.BookResponse
	require.NoError(t, json.Unmarshal([]byte(book), &restored))
	assert.Equal(t, 1, restored.Stock)
}

func Test_CLI_Lists_Rentals_By_User_And_Book_As_Text(t *testing.T) {
	// setup
	h := givenSQLiteCLI(t)

	// arrange
	h.mustRun("book", "add", "--title", "Dune", "--author", "Frank Herbert", "--stock", "2")
	h.mustRun("book", "add", "--title", "Emma", "--author", "Jane Austen", "--stock", "2")
	h.mustRun("rental", "checkout", "--user", "7", "--book", "2")
	h.now = h.now.Add(time.Hour)
	h.mustRun("rental", "checkout", "--user", "7", "--book", "1")
	h.mustRun("rental", "checkout", "--user", "8", "--book", "1")

	// act
	byUser := h.mustRun("rental", "list", "--user", "7")
	byBook := h.mustRun("rental", "list", "--book", "1")
	books := h.mustRun("book", "list")
	_, noFilter := h.run("rental", "list")

	// assert
	assert.Equal(t, 3, countLines(byUser), "header plus two sessions:\n%s", byUser)
	assert.Equal(t, 3, countLines(byBook), "header plus two sessions:\n%s", byBook)
	assert.Contains(t, books, "Jane Austen")
	assert.Error(t, noFilter, "either --user or --book is required")
}

func Test_CLI_Show_Rejects_Non_Numeric_ID(t *testing.T) {
	// setup
	h := givenSQLiteCLI(t)

	// act
	_, err := h.run("book", "show", "abc")

	// assert
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func Test_CLI_Rental_Rejects_Non_Positive_ID_Flags(t *testing.T) {
	// setup
	h := givenSQLiteCLI(t)
	h.mustRun("book", "add", "--title", "Dune", "--author", "Frank Herbert", "--stock", "1")

	tests := []struct {
		name string
		args []string
	}{
		{"checkout with negative user", []string{"rental", "checkout", "--user=-7", "--book", "1"}},
		{"checkout with zero book", []string{"rental", "checkout", "--user", "7", "--book", "0"}},
		{"list with negative user", []string{"rental", "list", "--user=-1"}},
		{"list with zero book", []string{"rental", "list", "--book", "0"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := h.run(tc.args...)

			// assert
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "must be a positive integer")
		})
	}

	book := h.mustRun("--format", FormatJSON, "book", "show", "1")
	var unchanged httpapi.BookResponse
	require.NoError(t, json.Unmarshal([]byte(book), &unchanged))
	assert.Equal(t, 1, unchanged.Stock)
}

func Test_CLI_Migrate_Is_Not_Supported_For_Memory_Store(t *testing.T) {
	// setup
	clearLedgerEnv(t)
	cmd := newRootCommand(&RootOptions{now: func() time.Time { return fixtureT0 }})
	cmd.SetArgs([]string{"--store", config.StoreMemory, "migrate"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	// act
	err := cmd.Execute()

	// assert
	assert.ErrorIs(t, err, bootstrap.ErrMigrationNotSupported)
}

func Test_GetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitFailure, GetExitCode(ledgerError(ledger.ErrOutOfStock)))
	assert.Equal(t, ExitCommandError, GetExitCode(commandError("bad flag", nil)))
}

func countLines(s string) int {
	return len(bytes.Split(bytes.TrimRight([]byte(s), "\n"), []byte("\n")))
}

