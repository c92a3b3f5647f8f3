/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  serve       Start the HTTP server (default)
  run-batch   Run one batch generation from the command line

STARTUP SEQUENCE (serve):
  1. Load TOML config (missing file -> defaults)
  2. Initialize SQLite store
  3. Create API handler with the billing services
  4. Configure HTTP router
  5. Start the batch scheduler when enabled in config
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server serve --config=./config.toml

  # Run with in-memory database
  ./server serve --db=":memory:"

  # Generate January 2026 invoices for all monthly enrollments
  ./server run-batch --period-type=monthly --year=2026 --month=1

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: TOML configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadenza/billing-engine/api"
	"github.com/cadenza/billing-engine/billing"
	"github.com/cadenza/billing-engine/config"
	"github.com/cadenza/billing-engine/store/sqlite"
)

var (
	configPath string
	dbOverride string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Music school billing engine",
	Long: `Billing engine for a music school: effective-dated pricing, invoice
generation, an append-only student ledger, credit invoices and batch runs.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var runBatchCmd = &cobra.Command{
	Use:   "run-batch",
	Short: "Run one batch invoice generation",
	RunE:  runBatch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.toml", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "SQLite database path (overrides config)")

	runBatchCmd.Flags().String("period-type", "monthly", "monthly or quarterly")
	runBatchCmd.Flags().Int("year", time.Now().Year(), "Period year")
	runBatchCmd.Flags().Int("month", int(time.Now().Month()), "Period month (quarter start month for quarterly)")
	runBatchCmd.Flags().Bool("apply-corrections", true, "Apply open ledger entries during generation")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runBatchCmd)
}

func openStore() (*sqlite.Store, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cfg, err
	}
	dbPath := cfg.Database.Path
	if dbOverride != "" {
		dbPath = dbOverride
	}
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	handler := api.NewHandler(store)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	if cfg.Scheduler.Enabled {
		scheduler := api.NewBatchScheduler(handler.Runner)
		if cfg.Scheduler.CheckIntervalHours > 0 {
			scheduler.CheckInterval = time.Duration(cfg.Scheduler.CheckIntervalHours) * time.Hour
		}
		if cfg.Scheduler.InitiatedBy != "" {
			scheduler.InitiatedBy = cfg.Scheduler.InitiatedBy
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://%s", cfg.Server.Addr())
		log.Printf("API available at http://%s/api", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	periodTypeFlag, _ := cmd.Flags().GetString("period-type")
	year, _ := cmd.Flags().GetInt("year")
	month, _ := cmd.Flags().GetInt("month")
	applyCorrections, _ := cmd.Flags().GetBool("apply-corrections")

	periodType, err := billing.ParsePeriodType(periodTypeFlag)
	if err != nil {
		return err
	}
	var period billing.Period
	switch periodType {
	case billing.PeriodQuarterly:
		switch month {
		case 1, 4, 7, 10:
			period = billing.QuarterPeriod(year, time.Month(month))
		default:
			return fmt.Errorf("quarterly periods start in month 1, 4, 7 or 10")
		}
	default:
		if month < 1 || month > 12 {
			return fmt.Errorf("month must be 1..12")
		}
		period = billing.MonthPeriod(year, time.Month(month))
	}

	runner := billing.NewRunner(store, billing.NewGenerator(store))
	run, err := runner.RunBatch(context.Background(), period, periodType, applyCorrections, "cli")
	if err != nil {
		return err
	}

	log.Printf("Run %s: %s", run.ID, run.Status)
	log.Printf("  processed=%d generated=%d skipped=%d failed=%d total=%s duration=%dms",
		run.EnrollmentsProcessed, run.InvoicesGenerated, run.Skipped, run.Failed,
		run.TotalAmount.StringFixed(2), run.DurationMs)
	if run.ErrorMessage != "" {
		log.Printf("  first error: %s", run.ErrorMessage)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
