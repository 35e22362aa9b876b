package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jonathonwebb/schemarev"
	"github.com/jonathonwebb/schemarev/internal/config"
	"github.com/jonathonwebb/schemarev/internal/logging"
	"github.com/jonathonwebb/schemarev/revisions"
	"github.com/jonathonwebb/schemarev/stores/pgxstore"
	"github.com/jonathonwebb/schemarev/stores/sqlite3store"
	"github.com/rs/zerolog"
)

const usage = `Usage: schemarev [options] <command> [arguments]

Manage schema revisions.

Commands:
  upgrade [target]    Apply revisions up to target (default head)
  downgrade <target>  Revert revisions down to target
  stamp <target>      Set the current revision without running anything
  current             Show the current revision
  heads               Show the head revisions
  history             List all revisions, newest first
  revision -m <msg>   Write a new Lua revision script to the scripts directory
  unlock              Release a lock left behind by a failed run

Targets are revision ids, unique id prefixes, branch labels, "head", "base",
or relative steps such as "+1" and "-1".

Options:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "schemarev: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    config.Config
	logger zerolog.Logger
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("schemarev", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("SCHEMAREV_CONFIG"), "Path to a YAML config file")
	driver := fs.String("driver", "", "Database driver: sqlite3 or postgres")
	dsn := fs.String("dsn", "", "Database connection string")
	scripts := fs.String("scripts", "", "Directory of Lua revision scripts")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("command required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if *scripts != "" {
		cfg.ScriptsDir = *scripts
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	a := &app{cfg: cfg, logger: logger, stdout: stdout}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "upgrade":
		return a.migrate(ctx, cmdArgs, schemarev.DirectionUp)
	case "downgrade":
		return a.migrate(ctx, cmdArgs, schemarev.DirectionDown)
	case "stamp":
		return a.stamp(ctx, cmdArgs)
	case "current":
		return a.current(ctx)
	case "heads":
		return a.heads(ctx)
	case "history":
		return a.history(ctx)
	case "revision":
		return a.revision(ctx, cmdArgs)
	case "unlock":
		return a.unlock(ctx)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (a *app) loadHistory(ctx context.Context) (*schemarev.History, error) {
	revs := revisions.All()
	if a.cfg.ScriptsDir != "" {
		loaded, err := schemarev.GlobLoader{Pattern: filepath.Join(a.cfg.ScriptsDir, "*.lua")}.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load scripts: %w", err)
		}
		revs = append(revs, loaded...)
	}
	return schemarev.NewHistory(revs...)
}

func (a *app) openStore(ctx context.Context) (schemarev.Store, error) {
	switch a.cfg.Driver {
	case config.DriverSQLite3:
		db, err := sql.Open("sqlite3", a.cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return sqlite3store.New(db), nil
	case config.DriverPostgres:
		db, err := pgxstore.Open(ctx, a.cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return pgxstore.New(db), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", a.cfg.Driver)
	}
}

func (a *app) withMigrator(ctx context.Context, fn func(*schemarev.Migrator) error) (err error) {
	history, err := a.loadHistory(ctx)
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, store.DB().Close())
	}()

	return fn(&schemarev.Migrator{
		Store:             store,
		History:           history,
		Logger:            &a.logger,
		HoldLockOnFailure: a.cfg.HoldLockOnFailure,
	})
}

func (a *app) migrate(ctx context.Context, args []string, dir schemarev.Direction) error {
	fs := flag.NewFlagSet(dir.String(), flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "Print the revisions that would run and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := fs.Arg(0)
	if target == "" {
		if dir == schemarev.DirectionDown {
			return errors.New("downgrade requires a target")
		}
		target = schemarev.TargetHead
	}

	return a.withMigrator(ctx, func(m *schemarev.Migrator) error {
		if *dryRun {
			plan, err := m.Plan(ctx, target)
			if err != nil {
				return err
			}
			if plan.Direction != schemarev.DirectionNone && plan.Direction != dir {
				return fmt.Errorf("cannot %s from %s to %s", dir, displayID(plan.Current), displayID(plan.Target))
			}
			if len(plan.Steps) == 0 {
				fmt.Fprintf(a.stdout, "nothing to do, at %s\n", displayID(plan.Current))
				return nil
			}
			for _, rev := range plan.Steps {
				fmt.Fprintf(a.stdout, "%s %s\n", dir, rev)
			}
			return nil
		}

		if dir == schemarev.DirectionUp {
			return m.Upgrade(ctx, target)
		}
		return m.Downgrade(ctx, target)
	})
}

func (a *app) stamp(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("stamp requires exactly one target")
	}
	return a.withMigrator(ctx, func(m *schemarev.Migrator) error {
		return m.Stamp(ctx, args[0])
	})
}

func (a *app) current(ctx context.Context) error {
	return a.withMigrator(ctx, func(m *schemarev.Migrator) error {
		v, err := m.Current(ctx)
		if err != nil {
			return err
		}
		if v == "" {
			fmt.Fprintln(a.stdout, "<base>")
			return nil
		}
		rev, _ := m.History.Get(v)
		fmt.Fprintln(a.stdout, describe(m.History, rev))
		return nil
	})
}

func (a *app) heads(ctx context.Context) error {
	history, err := a.loadHistory(ctx)
	if err != nil {
		return err
	}
	for _, rev := range history.Heads() {
		fmt.Fprintln(a.stdout, describe(history, rev))
	}
	return nil
}

func (a *app) history(ctx context.Context) error {
	history, err := a.loadHistory(ctx)
	if err != nil {
		return err
	}
	revs := history.Revisions()
	slices.Reverse(revs)
	for _, rev := range revs {
		fmt.Fprintln(a.stdout, describe(history, rev))
	}
	return nil
}

func (a *app) revision(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revision", flag.ContinueOnError)
	message := fs.String("m", "", "Revision message")
	down := fs.String("down", "", "Parent revision (default: the single head)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.ScriptsDir == "" {
		return errors.New("no scripts directory configured")
	}

	history, err := a.loadHistory(ctx)
	if err != nil {
		return err
	}
	target := *down
	if target == "" {
		target = schemarev.TargetHead
	}
	parent, err := history.Resolve(target, "")
	if err != nil {
		return err
	}

	id, path, err := schemarev.WriteScript(a.cfg.ScriptsDir, parent, *message)
	if err != nil {
		return err
	}
	a.logger.Info().Str("revision", id).Str("path", path).Msg("generated revision script")
	fmt.Fprintln(a.stdout, path)
	return nil
}

func (a *app) unlock(ctx context.Context) (err error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, store.DB().Close())
	}()

	if err := store.Init(ctx); err != nil {
		return err
	}
	return store.Release(ctx)
}

func describe(h *schemarev.History, rev *schemarev.Revision) string {
	var tags []string
	for _, head := range h.Heads() {
		if head.ID == rev.ID {
			tags = append(tags, "head")
		}
	}
	tags = append(tags, rev.BranchLabels...)

	s := displayID(rev.Down) + " -> " + rev.ID
	if len(tags) > 0 {
		s += " (" + strings.Join(tags, ", ") + ")"
	}
	if rev.Message != "" {
		s += ", " + rev.Message
	}
	return s
}

func displayID(id string) string {
	if id == "" {
		return "<base>"
	}
	return id
}
