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

package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/ory/dockertest"
	"github.com/sethvargo/go-retry"

	// imported to register the "postgres" database driver for migrate
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	// imported to register the "file" source migration driver
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	postgresImageRepo = "postgres"
	postgresImageTag  = "13-alpine"
)

// NewTestDatabaseWithConfig creates a new database suitable for use in
// testing, running migrations before returning.
//
// All database tests can be skipped by running `go test -short` or by
// setting the `SKIP_DATABASE_TESTS` environment variable.
func NewTestDatabaseWithConfig(tb testing.TB) (*DB, *Config) {
	tb.Helper()

	if testing.Short() {
		tb.Skipf("skipping database tests (short)")
	}
	if skip, _ := strconv.ParseBool(os.Getenv("SKIP_DATABASE_TESTS")); skip {
		tb.Skipf("skipping database tests (SKIP_DATABASE_TESTS is set)")
	}

	ctx := context.Background()

	pool, err := dockertest.NewPool("")
	if err != nil {
		tb.Fatalf("failed to create Docker pool: %s", err)
	}

	dbname, username, password := "exposure-reporting", "test-user", "abcd1234"
	container, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: postgresImageRepo,
		Tag:        postgresImageTag,
		Env: []string{
			"LANG=C",
			"POSTGRES_DB=" + dbname,
			"POSTGRES_USER=" + username,
			"POSTGRES_PASSWORD=" + password,
		},
	})
	if err != nil {
		tb.Fatalf("failed to start postgres container: %s", err)
	}

	tb.Cleanup(func() {
		if err := pool.Purge(container); err != nil {
			tb.Fatalf("failed to purge postgres container: %s", err)
		}
	})

	host := container.GetBoundIP("5432/tcp")
	port := container.GetPort("5432/tcp")

	cfg := &Config{
		Name:     dbname,
		User:     username,
		Password: password,
		Host:     host,
		Port:     port,
		SSLMode:  "disable",
	}

	// Wait for the container to start.
	b := retry.WithMaxRetries(30, retry.NewConstant(1*time.Second))

	var db *DB
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		db, err = NewFromEnv(ctx, cfg)
		if err != nil {
			return retry.RetryableError(err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close(ctx)
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		tb.Fatalf("failed to connect to test database: %s", err)
	}

	tb.Cleanup(func() {
		db.Close(context.Background())
	})

	if err := dbMigrate(cfg.ConnectionURL()); err != nil {
		tb.Fatalf("failed to migrate test database: %s", err)
	}

	return db, cfg
}

// NewTestDatabase creates a new database suitable for use in testing.
func NewTestDatabase(tb testing.TB) *DB {
	tb.Helper()
	db, _ := NewTestDatabaseWithConfig(tb)
	return db
}

// dbMigrate runs the migrations in migrations/ against the given postgres URI.
func dbMigrate(dbURL string) error {
	// Run the migrations
	migrationsDir := fmt.Sprintf("file://%s", dbMigrationsDir())
	m, err := migrate.New(migrationsDir, dbURL)
	if err != nil {
		return fmt.Errorf("failed create migrate: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed run migrate: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return fmt.Errorf("migrate source error: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("migrate database error: %w", dbErr)
	}
	return nil
}

func dbMigrationsDir() string {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return ""
	}
	return filepath.Join(filepath.Dir(filename), "../../migrations")
}
