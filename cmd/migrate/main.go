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

// This package applies database migrations.
package main

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"

	"github.com/regtech/exposure-reporting-server/internal/interrupt"
	"github.com/regtech/exposure-reporting-server/internal/migrate"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
)

func main() {
	ctx, done := interrupt.Context()
	defer done()

	logger := logging.DefaultLogger()
	ctx = logging.WithLogger(ctx, logger)

	if err := realMain(ctx); err != nil {
		logger.Fatal(err)
	}
}

func realMain(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	var config migrate.Config
	if err := envconfig.Process(ctx, &config); err != nil {
		return fmt.Errorf("loading environment variables: %w", err)
	}

	logger.Infof("beginning migration")
	if err := migrate.New(&config).Run(ctx); err != nil {
		return fmt.Errorf("migrate.Run: %w", err)
	}
	logger.Infof("migration completed")
	return nil
}
