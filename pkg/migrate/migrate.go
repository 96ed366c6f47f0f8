// Package migrate applies the embedded goose migrations that define the order,
// payment log, email dispatch and outbox tables.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/db"
	"github.com/heatflow/oilshop-backend/pkg/logger"
)

// SourceDir is where new migration files are written, relative to the repo
// root.
const SourceDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations is the migration set compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Runner executes goose commands against one database.
type Runner struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func NewRunner(sqlDB *sql.DB, fsys fs.FS, logg *logger.Logger) (*Runner, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("db is required")
	}
	if fsys == nil {
		fsys = Migrations()
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider, logg: logg}, nil
}

// Run executes one of up, up-by-one, down, redo, status or version.
func (r *Runner) Run(ctx context.Context, command string) error {
	switch command {
	case "up":
		results, err := r.provider.Up(ctx)
		r.logResults(ctx, results...)
		return wrap("up", err)
	case "up-by-one":
		result, err := r.provider.UpByOne(ctx)
		r.logResults(ctx, result)
		return wrap("up-by-one", err)
	case "down":
		result, err := r.provider.Down(ctx)
		r.logResults(ctx, result)
		return wrap("down", err)
	case "redo":
		result, err := r.provider.Down(ctx)
		r.logResults(ctx, result)
		if err != nil {
			return wrap("redo", err)
		}
		result, err = r.provider.UpByOne(ctx)
		r.logResults(ctx, result)
		return wrap("redo", err)
	case "status":
		statuses, err := r.provider.Status(ctx)
		if err != nil {
			return wrap("status", err)
		}
		for _, st := range statuses {
			r.log(ctx, map[string]any{
				"version":    st.Source.Version,
				"file":       st.Source.Path,
				"state":      string(st.State),
				"applied_at": st.AppliedAt,
			}, "migration status")
		}
		return nil
	case "version":
		version, err := r.provider.GetDBVersion(ctx)
		if err != nil {
			return wrap("version", err)
		}
		r.log(ctx, map[string]any{"version": version}, "database version")
		return nil
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
}

// MigrateTo moves the schema up or down until target is the newest applied
// version. target is a YYYYMMDDHHMMSS migration prefix.
func (r *Runner) MigrateTo(ctx context.Context, target string) error {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil || version < 0 {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", target)
	}
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return wrap("version", err)
	}
	switch {
	case current == version:
		return nil
	case current < version:
		results, err := r.provider.UpTo(ctx, version)
		r.logResults(ctx, results...)
		return wrap("up-to", err)
	default:
		results, err := r.provider.DownTo(ctx, version)
		r.logResults(ctx, results...)
		return wrap("down-to", err)
	}
}

// MaybeRunDev applies pending migrations on boot in dev when
// OILSHOP_AUTO_MIGRATE is set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || !cfg.App.IsDev() || !cfg.App.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}
	runner, err := NewRunner(sqlDB, nil, logg)
	if err != nil {
		return err
	}
	return runner.Run(ctx, "up")
}

func (r *Runner) logResults(ctx context.Context, results ...*goose.MigrationResult) {
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		r.log(ctx, map[string]any{
			"version":     res.Source.Version,
			"file":        res.Source.Path,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		}, "migration applied")
	}
}

func (r *Runner) log(ctx context.Context, fields map[string]any, msg string) {
	if r.logg == nil {
		return
	}
	r.logg.Info(r.logg.WithFields(ctx, fields), msg)
}

func wrap(command string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", command, err)
}
