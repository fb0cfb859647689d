// Copyright 2026 the Exposure Reporting Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package migrate handles the configuration and execution of database
// migrations.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"

	// imported to register the "postgres" database driver for migrate
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	// imported to register the "file" source migration driver
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

// Migration executes schema migrations against the configured database.
type Migration struct {
	config *Config
}

// New makes a new, configured Migration.
func New(config *Config) *Migration {
	return &Migration{config: config}
}

// Run applies the configured command. A database already at the current
// schema version is not an error.
func (m *Migration) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	mig, err := migrate.New("file://"+m.config.Migrations, m.config.Database.ConnectionURL())
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}
	defer func() {
		if srcErr, dbErr := mig.Close(); srcErr != nil {
			logger.Errorw("closing migration source", "error", srcErr)
		} else if dbErr != nil {
			logger.Errorw("closing migration database", "error", dbErr)
		}
	}()

	switch m.config.Command {
	case "up":
		err = mig.Up()
	case "down":
		err = mig.Down()
	default:
		return fmt.Errorf("unknown migrate command %q", m.config.Command)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migration %s: %w", m.config.Command, err)
	}

	version, dirty, err := mig.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}
	logger.Infow("migration complete", "version", version, "dirty", dirty)
	return nil
}
