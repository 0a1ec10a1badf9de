// Package migraterunner applies the database schema and exits.
package migraterunner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/emviapp/emviapp-backend/postgres"
	"github.com/emviapp/emviapp-backend/runner"
)

type migrateRunner struct {
	migrator *postgres.MigrationRunner
}

func New(cfg *runner.Config, logger *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeMigrate {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	m := postgres.NewMigrationRunner(cfg.DatabaseURL, logger)

	if cfg.MigrationsDir != "" {
		if err := m.SetMigrationsDir(cfg.MigrationsDir); err != nil {
			return nil, err
		}
	}

	return &migrateRunner{migrator: m}, nil
}

func (m *migrateRunner) Run(ctx context.Context) error {
	return m.migrator.RunMigrations(ctx)
}

func (m *migrateRunner) Close(context.Context) error {
	return nil
}
