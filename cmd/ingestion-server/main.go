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

// This package is the batch intake service: it accepts bank submissions and
// runs the ingestion pipeline.
package main

import (
	"context"
	"fmt"

	"github.com/regtech/exposure-reporting-server/internal/buildinfo"
	"github.com/regtech/exposure-reporting-server/internal/calculation"
	"github.com/regtech/exposure-reporting-server/internal/ingestion"
	"github.com/regtech/exposure-reporting-server/internal/interrupt"
	"github.com/regtech/exposure-reporting-server/internal/rules"
	rulesdb "github.com/regtech/exposure-reporting-server/internal/rules/database"
	"github.com/regtech/exposure-reporting-server/internal/setup"
	"github.com/regtech/exposure-reporting-server/internal/storage"
	"github.com/regtech/exposure-reporting-server/pkg/logging"
	"github.com/regtech/exposure-reporting-server/pkg/server"
)

func main() {
	ctx, done := interrupt.Context()
	defer done()

	logger := logging.DefaultLogger().
		With("build_id", buildinfo.ReportingServer.ID()).
		With("build_tag", buildinfo.ReportingServer.Tag())
	ctx = logging.WithLogger(ctx, logger)

	if err := realMain(ctx); err != nil {
		logger.Fatal(err)
	}
	logger.Info("successful shutdown")
}

func realMain(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	var config ingestion.Config
	env, err := setup.Setup(ctx, &config)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer env.Close(ctx)

	rdb := rulesdb.New(env.Database())
	engine, err := rules.NewEngine(rdb, rdb, &config.Rules)
	if err != nil {
		return fmt.Errorf("rules.NewEngine: %w", err)
	}

	gateway := storage.NewGateway(env.Blobstore(), &config.Blobstore)
	calculator := calculation.NewCalculator(calculation.NewDatabaseRateSource(env.Database()))

	pipeline, err := ingestion.NewPipeline(env.Database(), gateway, engine, calculator, &config)
	if err != nil {
		return fmt.Errorf("ingestion.NewPipeline: %w", err)
	}

	ingestionServer, err := ingestion.NewServer(&config, env, pipeline)
	if err != nil {
		return fmt.Errorf("ingestion.NewServer: %w", err)
	}

	srv, err := server.New(config.Port)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}
	logger.Infow("server listening", "port", config.Port)
	return srv.ServeHTTPHandler(ctx, ingestionServer.Routes(ctx))
}
