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

// This package runs every service of the reporting server in one process,
// wired over an in-memory bus. It exists for local development and small
// deployments.
package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/regtech/exposure-reporting-server/internal/buildinfo"
	"github.com/regtech/exposure-reporting-server/internal/calculation"
	"github.com/regtech/exposure-reporting-server/internal/coordinator"
	"github.com/regtech/exposure-reporting-server/internal/failures"
	"github.com/regtech/exposure-reporting-server/internal/ingestion"
	"github.com/regtech/exposure-reporting-server/internal/interrupt"
	"github.com/regtech/exposure-reporting-server/internal/monolith"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/reports"
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

	var config monolith.Config
	env, err := setup.Setup(ctx, &config)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer env.Close(ctx)

	bus := outbox.NewMemoryBus()

	rdb := rulesdb.New(env.Database())
	engine, err := rules.NewEngine(rdb, rdb, &config.Ingestion.Rules)
	if err != nil {
		return fmt.Errorf("rules.NewEngine: %w", err)
	}

	gateway := storage.NewGateway(env.Blobstore(), &config.Ingestion.Blobstore)
	calculator := calculation.NewCalculator(calculation.NewDatabaseRateSource(env.Database()))

	pipeline, err := ingestion.NewPipeline(env.Database(), gateway, engine, calculator, &config.Ingestion)
	if err != nil {
		return fmt.Errorf("ingestion.NewPipeline: %w", err)
	}

	ingestionServer, err := ingestion.NewServer(&config.Ingestion, env, pipeline)
	if err != nil {
		return fmt.Errorf("ingestion.NewServer: %w", err)
	}

	formats, err := reports.ParseFormats(config.ReportFormats)
	if err != nil {
		return fmt.Errorf("parsing report formats: %w", err)
	}
	generator := reports.NewGenerator(gateway, formats)

	processor, err := failures.NewProcessor(failures.NewDB(env.Database()), bus, &config.Failures)
	if err != nil {
		return fmt.Errorf("failures.NewProcessor: %w", err)
	}

	coord := coordinator.New(
		coordinator.NewReportDB(env.Database()),
		generator,
		bus,
		processor,
		&config.Coordinator,
	)
	coord.Subscribe(bus)
	processor.Register(coordinator.EventTypeGenerateReport, coord.RetryHandler())

	publisher := outbox.NewPublisher(outbox.New(env.Database()), bus, &config.Publisher)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return publisher.Run(gctx)
	})
	group.Go(func() error {
		return processor.Run(gctx)
	})
	group.Go(func() error {
		srv, err := server.New(config.Ingestion.Port)
		if err != nil {
			return fmt.Errorf("server.New: %w", err)
		}
		logger.Infow("server listening", "port", config.Ingestion.Port)
		return srv.ServeHTTPHandler(gctx, ingestionServer.Routes(gctx))
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
