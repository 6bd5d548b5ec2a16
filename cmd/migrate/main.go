package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/billing-engine/pkg/config"
	"github.com/angelmondragon/billing-engine/pkg/db"
	"github.com/angelmondragon/billing-engine/pkg/logger"
	"github.com/angelmondragon/billing-engine/pkg/migrate"
)

const usage = `usage: migrate [flags] <command>

commands:
  up                apply pending migrations
  down              roll back the latest migration
  to <version>      move the schema to version (YYYYMMDDHHMMSS)
  status            list migrations and whether they are applied
  version           print the current schema version
  create <name>     write an empty migration into -dir
  validate          check the embedded migration files
`

func main() {
	dir := flag.String("dir", migrate.SourceDir, "directory new migrations are written to")
	force := flag.Bool("force", false, "allow down/to against a prod database")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := args[0]

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()
	ctx := logg.WithField(context.Background(), "command", command)

	// file-only commands run without config or a database
	switch command {
	case "create":
		if len(args) < 2 {
			fail(ctx, logg, "create needs a migration name", nil)
		}
		path, err := migrate.CreateSQLMigration(*dir, args[1], time.Now())
		if err != nil {
			fail(ctx, logg, "create migration", err)
		}
		fmt.Println(path)
		return
	case "validate":
		if err := migrate.Validate(migrate.Files()); err != nil {
			fail(ctx, logg, "migration validation failed", err)
		}
		fmt.Println("migrations ok")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(ctx, logg, "load config", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"command": command,
	})

	if cfg.DB.IsSQLite() {
		fail(ctx, logg, "goose migrations target postgres; sqlite schemas come from the test harness", nil)
	}
	if cfg.App.IsProd() && !*force && (command == "down" || command == "to") {
		fail(ctx, logg, fmt.Sprintf("refusing %q in prod without -force", command), nil)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail(ctx, logg, "connect database", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, "extract sql.DB", err)
	}
	migrator, err := migrate.NewMigrator(sqlDB)
	if err != nil {
		fail(ctx, logg, "build migrator", err)
	}

	if err := run(ctx, logg, migrator, args); err != nil {
		fail(ctx, logg, "migration failed", err)
	}
}

func run(ctx context.Context, logg *logger.Logger, m *migrate.Migrator, args []string) error {
	switch args[0] {
	case "up":
		applied, err := m.Up(ctx)
		logSteps(ctx, logg, applied)
		return err
	case "down":
		step, err := m.Down(ctx)
		if step != nil {
			logSteps(ctx, logg, []migrate.Step{*step})
		}
		return err
	case "to":
		if len(args) < 2 {
			return fmt.Errorf("to needs a target version")
		}
		target, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		applied, err := m.To(ctx, target)
		logSteps(ctx, logg, applied)
		return err
	case "version":
		version, err := m.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil
	case "status":
		states, err := m.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
		for _, st := range states {
			state, at := "pending", "-"
			if st.Applied {
				state, at = "applied", st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Version, state, at, st.Path)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func logSteps(ctx context.Context, logg *logger.Logger, applied []migrate.Step) {
	for _, step := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     step.Version,
			"direction":   step.Direction,
			"duration_ms": step.Duration.Milliseconds(),
		}), "migration applied")
	}
	if len(applied) == 0 {
		logg.Info(ctx, "schema already at target")
	}
}

func fail(ctx context.Context, logg *logger.Logger, msg string, err error) {
	logg.Error(ctx, msg, err)
	os.Exit(1)
}
