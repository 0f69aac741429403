package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/cointrack/internal/config"
	"github.com/example/cointrack/internal/dbmigrate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the cointrack PostgreSQL schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default MIGRATIONS_DIR or ./migrations)")

	// dsn resolves the target database from the environment, like the server does.
	dsn := func() (string, string, error) {
		c, err := config.New()
		if err != nil {
			return "", "", fmt.Errorf("config: %w", err)
		}
		if c.DBAdapter != "postgres" {
			return "", "", fmt.Errorf("migrations only work with PostgreSQL, current adapter: %s", c.DBAdapter)
		}
		d, err := c.BuildPostgresDSN()
		if err != nil {
			return "", "", err
		}
		if dir == "" {
			dir = c.MigrationsDir
		}
		return d, dir, nil
	}

	var steps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, dir, err := dsn()
			if err != nil {
				return err
			}
			if err := dbmigrate.Up(dir, d, steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	up.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, dir, err := dsn()
			if err != nil {
				return err
			}
			if err := dbmigrate.Down(dir, d, steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back (0 = all)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, dir, err := dsn()
			if err != nil {
				return err
			}
			v, dirty, err := dbmigrate.Version(dir, d)
			if err != nil {
				return err
			}
			if dirty {
				return fmt.Errorf("database is in a dirty state (version %d)", v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current migration version: %d\n", v)
			return nil
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Force the schema version and clear the dirty flag (-1 resets to no version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < -1 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			d, dir, err := dsn()
			if err != nil {
				return err
			}
			if err := dbmigrate.Force(dir, d, v); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forced database to version %d\n", v)
			return nil
		},
	}

	root.AddCommand(up, down, version, force)
	return root
}
