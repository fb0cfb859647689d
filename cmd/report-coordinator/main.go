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

// This package joins quality and calculation events and produces regulatory
// report artifacts.
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/regtech/exposure-reporting-server/internal/buildinfo"
	"github.com/regtech/exposure-reporting-server/internal/coordinator"
	"github.com/regtech/exposure-reporting-server/internal/events"
	"github.com/regtech/exposure-reporting-server/internal/failures"
	"github.com/regtech/exposure-reporting-server/internal/interrupt"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/reports"
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

	var config coordinator.ServerConfig
	env, err := setup.Setup(ctx, &config)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer env.Close(ctx)

	formats, err := reports.ParseFormats(config.ReportFormats)
	if err != nil {
		return fmt.Errorf("parsing report formats: %w", err)
	}

	gateway := storage.NewGateway(env.Blobstore(), &config.Blobstore)
	generator := reports.NewGenerator(gateway, formats)

	bus := outbox.NewKafkaBus(config.Kafka.Brokers, config.Kafka.Topic)
	defer bus.Close()

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
	processor.Register(coordinator.EventTypeGenerateReport, coord.RetryHandler())

	groupID := config.Kafka.GroupID
	if groupID == "" {
		groupID = "report-coordinator"
	}
	consumer := outbox.NewKafkaConsumer(config.Kafka.Brokers, config.Kafka.Topic, groupID)
	defer consumer.Close()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return consumer.Run(gctx, func(ctx context.Context, ev *outbox.Event) error {
			switch ev.EventType {
			case events.TypeBatchQualityCompleted:
				return coord.OnQualityCompleted(ctx, ev)
			case events.TypeBatchCalculationCompleted:
				return coord.OnCalculationCompleted(ctx, ev)
			default:
				return nil
			}
		})
	})
	group.Go(func() error {
		return processor.Run(gctx)
	})
	group.Go(func() error {
		r := mux.NewRouter()
		r.Handle("/health", server.HandleHealthz(env.Database()))

		srv, err := server.New(config.Port)
		if err != nil {
			return fmt.Errorf("server.New: %w", err)
		}
		logger.Infow("server listening", "port", config.Port)
		return srv.ServeHTTPHandler(gctx, r)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
