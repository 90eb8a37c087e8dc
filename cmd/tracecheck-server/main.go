// Command tracecheck-server serves recording validation and stored reports
// over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/trace.report/internal/api"
	"github.com/banshee-data/trace.report/internal/config"
	"github.com/banshee-data/trace.report/internal/db"
	"github.com/banshee-data/trace.report/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db", "trace_reports.db", "SQLite database for reports")
	configPath  = flag.String("config", "", "Check configuration JSON (defaults built in)")
	rulesPath   = flag.String("rules", "", "Sensor rule table JSON (overrides rules_path)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("tracecheck-server %s\n", version.Current())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	if len(flag.Args()) > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(os.Stdout, flag.Args()[1:], *dbPath); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	handler, database, err := setup(*configPath, *rulesPath, *dbPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, *listen, handler); err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// setup loads configuration, opens the report database and builds the
// routed handler including the admin routes.
func setup(configPath, rulesPath, dbPath string) (http.Handler, *db.DB, error) {
	check := config.EmptyCheckConfig()
	if configPath != "" {
		loaded, err := config.LoadCheckConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
		check = loaded
	}
	if rulesPath != "" {
		check.RulesPath = &rulesPath
	}
	v, err := check.NewValidator()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	mux := api.NewServer(v, db.NewReportStore(database), check).ServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to attach admin routes: %w", err)
	}
	log.Printf("validating against %d sensor rules, reports in %s", len(v.Rules()), dbPath)
	return api.LoggingMiddleware(mux), database, nil
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
