package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/app"
	"github.com/dvloznov/finsight/internal/config"
	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/export"
	infraBQ "github.com/dvloznov/finsight/internal/infra/bigquery"
	"github.com/dvloznov/finsight/internal/logger"
	"github.com/dvloznov/finsight/internal/pipeline"
	"github.com/dvloznov/finsight/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(cfg, log, os.Args[2:])
	case "list":
		err = runList(cfg, log, os.Args[2:])
	case "transactions":
		err = runTransactions(cfg, log, os.Args[2:])
	case "export":
		err = runExport(cfg, log, os.Args[2:])
	case "delete":
		err = runDelete(cfg, log, os.Args[2:])
	case "analytics":
		err = runAnalytics(cfg, log, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Msg(os.Args[1] + " failed")
	}
}

func printUsage() {
	fmt.Println("Finsight CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest        Extract transactions from a local statement PDF")
	fmt.Println("  list          List a user's statements")
	fmt.Println("  transactions  Show the transactions of a statement")
	fmt.Println("  export        Write a statement's transactions to an .xlsx file")
	fmt.Println("  delete        Delete a statement and its transactions")
	fmt.Println("  analytics     Query mirrored transactions in BigQuery by date range")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func defaultUser() string {
	if u := os.Getenv("FINSIGHT_USER"); u != "" {
		return u
	}
	return "local"
}

// openStore opens the database for commands that never call the model.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*store.Store, error) {
	if err := cfg.Validate(config.RoleMigrate); err != nil {
		return nil, err
	}
	return app.OpenStore(ctx, cfg, log)
}

func runIngest(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to local PDF file")
	userID := fs.String("user", defaultUser(), "Owner of the statement")
	fs.Parse(args)

	if *filePath == "" {
		return fmt.Errorf("-file is required")
	}
	if err := cfg.Validate(config.RoleCLI); err != nil {
		return err
	}

	content, err := os.ReadFile(*filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", *filePath, err)
	}

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Store.Migrate(ctx, "cli"); err != nil {
		return err
	}

	log.Info().Str("file", *filePath).Str("user_id", *userID).Msg("Starting ingestion")

	res, st, err := a.Service.IngestUpload(ctx, *userID, filepath.Base(*filePath), content)
	if err != nil {
		if st != nil {
			fmt.Printf("Statement %s failed: %s\n", st.ID, pipeline.FailureMessage(err))
		}
		return err
	}

	fmt.Printf("Statement %s completed via %s extraction: %d transactions", res.Statement.ID, res.Path, res.TransactionCount)
	if res.Dropped > 0 {
		fmt.Printf(" (%d invalid rows dropped)", res.Dropped)
	}
	fmt.Println()
	return nil
}

func runList(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	userID := fs.String("user", defaultUser(), "Owner of the statements")
	fs.Parse(args)

	ctx := context.Background()
	s, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	statements, err := s.ListStatements(ctx, *userID)
	if err != nil {
		return err
	}
	renderStatements(os.Stdout, statements)
	return nil
}

func renderStatements(w io.Writer, statements []*domain.Statement) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "File", "Bank", "Uploaded", "Status", "Default"})
	table.SetAutoWrapText(false)
	for _, st := range statements {
		bank := ""
		if st.BankName != nil {
			bank = *st.BankName
		}
		status := string(st.Status)
		if st.ProcessingError != nil {
			status += ": " + *st.ProcessingError
		}
		def := ""
		if st.IsDefault {
			def = "*"
		}
		table.Append([]string{st.ID, st.Filename, bank, st.UploadedAt.Format(time.RFC3339), status, def})
	}
	table.SetFooter([]string{"", "", "", "", "Total", strconv.Itoa(len(statements))})
	table.Render()
}

func runTransactions(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("transactions", flag.ExitOnError)
	statementID := fs.String("statement", "", "Statement ID")
	userID := fs.String("user", defaultUser(), "Owner of the statement")
	fs.Parse(args)

	if *statementID == "" {
		return fmt.Errorf("-statement is required")
	}

	ctx := context.Background()
	s, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	txs, err := s.ListTransactions(ctx, *userID, *statementID)
	if err != nil {
		return err
	}
	renderTransactions(os.Stdout, txs)
	return nil
}

func renderTransactions(w io.Writer, txs []domain.Transaction) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Date", "Description", "Amount", "Type", "Category"})
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
	})
	for _, tx := range txs {
		table.Append([]string{
			tx.Date.Format("2006-01-02"),
			tx.Description,
			tx.Amount.StringFixed(2),
			string(tx.Type),
			string(tx.Category),
		})
	}
	table.Render()
}

func runExport(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	statementID := fs.String("statement", "", "Statement ID")
	userID := fs.String("user", defaultUser(), "Owner of the statement")
	out := fs.String("out", "", "Output path (defaults to the statement name with .xlsx)")
	fs.Parse(args)

	if *statementID == "" {
		return fmt.Errorf("-statement is required")
	}

	ctx := context.Background()
	s, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	data, name, err := export.NewService(s, log).StatementXLSX(ctx, *userID, *statementID)
	if err != nil {
		return err
	}
	if *out == "" {
		*out = name
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", *out, len(data))
	return nil
}

func runDelete(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	statementID := fs.String("statement", "", "Statement ID")
	userID := fs.String("user", defaultUser(), "Owner of the statement")
	fs.Parse(args)

	if *statementID == "" {
		return fmt.Errorf("-statement is required")
	}

	ctx := context.Background()
	s, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteStatement(ctx, *userID, *statementID); err != nil {
		return err
	}
	fmt.Printf("Deleted statement %s\n", *statementID)
	return nil
}

func runAnalytics(cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	userID := fs.String("user", defaultUser(), "Owner of the transactions")
	from := fs.String("from", "", "Start date (YYYY-MM-DD)")
	to := fs.String("to", "", "End date (YYYY-MM-DD), defaults to today")
	fs.Parse(args)

	if cfg.Analytics.Project == "" {
		return fmt.Errorf("BIGQUERY_PROJECT is not set")
	}
	start, err := time.Parse("2006-01-02", *from)
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	end := time.Now().UTC()
	if *to != "" {
		if end, err = time.Parse("2006-01-02", *to); err != nil {
			return fmt.Errorf("-to: %w", err)
		}
	}

	ctx := context.Background()
	m, err := infraBQ.NewMirror(ctx, cfg.Analytics.Project, cfg.Analytics.Dataset, log)
	if err != nil {
		return err
	}
	defer m.Close()

	rows, err := m.QueryTransactionsByDateRange(ctx, *userID, start, end)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Date", "Description", "Amount", "Direction", "Category", "Source"})
	for _, r := range rows {
		table.Append([]string{
			r.TransactionDate.String(),
			r.RawDescription,
			r.Amount.FloatString(2),
			r.Direction,
			r.CategoryName,
			r.SourceFilename,
		})
	}
	table.Render()
	return nil
}
