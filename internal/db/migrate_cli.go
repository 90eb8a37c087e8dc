package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand against the embedded
// migrations. Output goes to w.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}
	if args[0] == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	// Open without migrating; the command manages the schema itself.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	migrations := MigrationsFS()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "All migrations applied")

	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rolled back one migration")

	case "status":
		version, dirty, err := database.MigrateVersion(migrations)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		latest, err := LatestMigrationVersion(migrations)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Current version: %d\n", version)
		fmt.Fprintf(w, "Latest available: %d\n", latest)
		fmt.Fprintf(w, "Dirty: %v\n", dirty)
		switch {
		case dirty:
			fmt.Fprintln(w, "A migration failed mid-way; inspect the database, then run: tracecheck migrate force <version>")
		case version < latest:
			fmt.Fprintf(w, "%d migration(s) pending; run: tracecheck migrate up\n", latest-version)
		}

	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: tracecheck migrate %s <version>", action)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if action == "force" {
			if err := database.MigrateForce(migrations, n); err != nil {
				return err
			}
			fmt.Fprintf(w, "Migration version forced to %d\n", n)
			return nil
		}
		if err := database.MigrateTo(migrations, uint(n)); err != nil {
			return err
		}
		fmt.Fprintf(w, "Migrated to version %d\n", n)

	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Database Migration Commands

Usage: tracecheck -db <path> migrate <command>

Commands:
  up              Apply all pending migrations
  down            Roll back one migration
  status          Show current and latest migration version
  version <N>     Migrate to version N
  force <N>       Force the recorded version to N (recovery only)
  help            Show this help message
`)
}
