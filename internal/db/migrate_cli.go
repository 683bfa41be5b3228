package db

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"strconv"
	"strings"
)

// ErrMigrateUsage is returned for a missing or unknown migrate action.
var ErrMigrateUsage = errors.New("invalid migrate usage")

// MigrateCommand runs the 'migrate' subcommand against one database file.
type MigrateCommand struct {
	DBPath string
	Out    io.Writer
	In     io.Reader // answers the force confirmation prompt
}

// Run dispatches args[0] to the matching migrate action.
func (c *MigrateCommand) Run(args []string) error {
	if len(args) < 1 {
		c.PrintHelp()
		return ErrMigrateUsage
	}
	action := args[0]
	if action == "help" {
		c.PrintHelp()
		return nil
	}

	var arg string
	switch action {
	case "up", "down", "status":
	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("%w: peakselect migrate %s <version_number>", ErrMigrateUsage, action)
		}
		arg = args[1]
	default:
		fmt.Fprintf(c.Out, "Unknown migrate action: %s\n\n", action)
		c.PrintHelp()
		return ErrMigrateUsage
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	// Migrations manage the schema, so open without applying them.
	database, err := OpenDB(c.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		return c.up(database, migrationsFS)
	case "down":
		return c.down(database, migrationsFS)
	case "status":
		return c.status(database, migrationsFS)
	case "version":
		return c.migrateTo(database, migrationsFS, arg)
	default:
		return c.force(database, migrationsFS, arg)
	}
}

func (c *MigrateCommand) up(database *DB, migrationsFS fs.FS) error {
	log.Printf("Running migrations...")
	if err := database.MigrateUp(migrationsFS); err != nil {
		return err
	}
	version, dirty, _ := database.MigrateVersion(migrationsFS)
	fmt.Fprintf(c.Out, "✓ All migrations applied. Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func (c *MigrateCommand) down(database *DB, migrationsFS fs.FS) error {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(migrationsFS); err != nil {
		return err
	}
	version, dirty, _ := database.MigrateVersion(migrationsFS)
	fmt.Fprintf(c.Out, "✓ Migration rolled back. Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func (c *MigrateCommand) status(database *DB, migrationsFS fs.FS) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.Out, "=== Migration Status ===")
	fmt.Fprintf(c.Out, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(c.Out, "Latest available: %d\n", status.LatestVersion)
	fmt.Fprintf(c.Out, "Dirty: %v\n", status.Dirty)
	fmt.Fprintf(c.Out, "Schema migrations table exists: %v\n", status.SchemaMigrationsExists)

	switch {
	case status.Dirty:
		fmt.Fprintln(c.Out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(c.Out, "A migration failed mid-execution. Inspect the database, then run:")
		fmt.Fprintln(c.Out, "  peakselect migrate force <version>")
	case status.Pending() > 0:
		fmt.Fprintf(c.Out, "\n%d migration(s) pending. Run 'peakselect migrate up' to update.\n", status.Pending())
	default:
		fmt.Fprintln(c.Out, "\n✓ Database is up to date!")
	}
	return nil
}

func (c *MigrateCommand) migrateTo(database *DB, migrationsFS fs.FS, versionStr string) error {
	target, err := strconv.ParseUint(versionStr, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: invalid version number %q", ErrMigrateUsage, versionStr)
	}
	log.Printf("Migrating to version %d...", target)
	if err := database.MigrateTo(migrationsFS, uint(target)); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "✓ Migrated to version %d\n", target)
	return nil
}

func (c *MigrateCommand) force(database *DB, migrationsFS fs.FS, versionStr string) error {
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return fmt.Errorf("%w: invalid version number %q", ErrMigrateUsage, versionStr)
	}

	fmt.Fprintf(c.Out, "⚠️  WARNING: Forcing migration version to %d\n", version)
	fmt.Fprintln(c.Out, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(c.Out, "Continue? [y/N]: ")

	answer := ""
	if c.In != nil {
		line, _ := bufio.NewReader(c.In).ReadString('\n')
		answer = strings.TrimSpace(line)
	}
	if answer != "y" && answer != "Y" {
		fmt.Fprintln(c.Out, "Aborted")
		return nil
	}

	if err := database.MigrateForce(migrationsFS, version); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "✓ Migration version forced to %d\n", version)
	return nil
}

// PrintHelp displays the help message for the migrate command.
func (c *MigrateCommand) PrintHelp() {
	fmt.Fprint(c.Out, `Database Migration Commands

Usage: peakselect migrate [-db path] <command>

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  help            Show this help message

Examples:
  peakselect migrate up
  peakselect migrate -db rides.db status
  peakselect migrate version 1
`)
}
