package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/app"
	"github.com/dvloznov/finsight/internal/config"
	"github.com/dvloznov/finsight/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := run(context.Background(), os.Args[1:], cfg, os.Stdout, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

// run applies or lists the embedded schema migrations for the configured
// database.
func run(ctx context.Context, args []string, cfg *config.Config, out io.Writer, log zerolog.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	appliedBy := fs.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	list := fs.Bool("list", false, "List embedded migrations without applying them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := cfg.Validate(config.RoleMigrate); err != nil {
		return err
	}

	s, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	migrations, err := s.Migrations()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Found %d migration files for %s\n", len(migrations), s.Dialect())

	if *list {
		for _, m := range migrations {
			fmt.Fprintf(out, "  %04d_%s  %s\n", m.Version, m.Name, m.Checksum[:12])
		}
		return nil
	}

	applied, err := s.Migrate(ctx, *appliedBy)
	if err != nil {
		return err
	}
	if applied == 0 {
		fmt.Fprintln(out, "No new migrations to apply. Database is up to date.")
	} else {
		fmt.Fprintf(out, "Successfully applied %d migration(s)\n", applied)
	}
	return nil
}
