// Command migrate manages the postgres schema of the run history store.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/erp/provisioner/internal/infrastructure/logger"
	"github.com/erp/provisioner/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const dsnEnv = "PROVISIONER_AUDIT_STORE_DSN"

const usage = `Usage: migrate [flags] <command> [argument]

Commands:
  list             print the embedded schema versions
  up               apply all pending migrations
  down             roll back all migrations
  step <n>         apply n migrations, roll back when n is negative
  version          print the applied version
  force <version>  mark version as applied and clear the dirty flag

Flags:
`

var errUsage = errors.New("invalid usage")

func main() {
	err := run(os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return
	case err != errUsage:
		fmt.Fprintln(os.Stderr, "migrate:", err)
	}
	os.Exit(1)
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("path", "", "migrations directory (default: embedded schema)")
	dsn := fs.String("dsn", os.Getenv(dsnEnv), "postgres DSN of the run history store (default: $"+dsnEnv+")")
	level := fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	command, rest := fs.Arg(0), fs.Args()[1:]

	if command == "list" {
		versions, err := migration.ListVersions()
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintf(stdout, "%06d\n", v)
		}
		return nil
	}

	apply, err := resolve(command, rest)
	if err != nil {
		fs.Usage()
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("no database: pass -dsn or set %s", dsnEnv)
	}

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect run history store: %w", err)
	}

	m, err := migration.New(db, *dir, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			log.Warn("Failed to close migrator", zap.Error(cerr))
		}
	}()
	return apply(m, stdout)
}

type action func(m *migration.Migrator, out io.Writer) error

// resolve maps a command and its argument before any connection is made.
func resolve(name string, args []string) (action, error) {
	intArg := func() (int, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("%s takes exactly one argument: %w", name, errUsage)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not a number: %w", name, args[0], errUsage)
		}
		return n, nil
	}

	switch name {
	case "up":
		return func(m *migration.Migrator, _ io.Writer) error { return m.Up() }, nil
	case "down":
		return func(m *migration.Migrator, _ io.Writer) error { return m.Down() }, nil
	case "step":
		n, err := intArg()
		if err != nil {
			return nil, err
		}
		return func(m *migration.Migrator, _ io.Writer) error { return m.Steps(n) }, nil
	case "force":
		v, err := intArg()
		if err != nil {
			return nil, err
		}
		return func(m *migration.Migrator, _ io.Writer) error { return m.Force(v) }, nil
	case "version":
		return func(m *migration.Migrator, out io.Writer) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if dirty {
				fmt.Fprintf(out, "%d (dirty)\n", v)
			} else {
				fmt.Fprintln(out, v)
			}
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unknown command %q: %w", name, errUsage)
}
