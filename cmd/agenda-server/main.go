package main

import (
	"context"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/estacao/agenda/internal/config"
	"github.com/estacao/agenda/internal/domain/scheduling"
	"github.com/estacao/agenda/internal/platform/db"
	"github.com/estacao/agenda/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agenda-server",
		Short: "Therapy appointment scheduling API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		Long: "Start the scheduling API server.\n\n" +
			"With STORE=memory the calendar starts empty and `generate` cannot reach it;\n" +
			"pass --seed <practitioner-id> (repeatable) to lay out blocked hourly slots\n" +
			"over CALENDAR_HORIZON_DAYS before the server starts listening.",
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, _ := cmd.Flags().GetStringSlice("seed")
			return runServer(seeds)
		},
	}
	cmd.Flags().StringSlice("seed", nil, "Practitioner id whose calendar is generated at startup")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this migration version (0 applies everything)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create the hourly slots of a practitioner's calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawID, _ := cmd.Flags().GetString("practitioner")
			days, _ := cmd.Flags().GetInt("days")
			from, _ := cmd.Flags().GetString("from")

			practitionerID, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("--practitioner must be a uuid: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.CalendarHorizonDays
			}
			logger := newLogger(cfg.Env)

			zones, err := scheduling.NewFixedZone(cfg.PractitionerTimezone)
			if err != nil {
				return err
			}
			start := time.Now().In(zones.Loc)
			if from != "" {
				if start, err = scheduling.ParseDate(from); err != nil {
					return err
				}
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			gen := scheduling.NewGenerator(scheduling.NewSlotRepoPG(pool), zones, logger)
			created, err := gen.Generate(ctx, practitionerID, start, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d slot(s) for practitioner %s.\n", created, practitionerID)
			return nil
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner id")
	cmd.Flags().Int("days", 0, "Days to generate (defaults to CALENDAR_HORIZON_DAYS)")
	cmd.Flags().String("from", "", "First date, YYYY-MM-DD (defaults to today)")
	_ = cmd.MarkFlagRequired("practitioner")
	return cmd
}
