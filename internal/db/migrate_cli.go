package db

import (
	"fmt"
	"io"
)

// RunMigrateCommand handles the 'migrate' subcommand: up, down or status.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("migrate: missing action")
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	switch args[0] {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
		return printMigrateStatus(database, out)
	case "help":
		PrintMigrateHelp(out)
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", args[0])
	}
	return nil
}

func printMigrateStatus(database *DB, out io.Writer) error {
	current, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d\n", current)
	fmt.Fprintf(out, "Latest version:  %d\n", latest)
	fmt.Fprintf(out, "Dirty:           %t\n", dirty)
	if current < latest {
		fmt.Fprintf(out, "%d migration(s) pending\n", latest-current)
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: bringobj migrate <action> [-db path]

Actions:
  up       Apply all pending migrations
  down     Roll back the most recent migration
  status   Show current and latest schema versions
  help     Show this message
`)
}
