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

// This package relays committed outbox events onto the event bus.
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/mux"

	"github.com/regtech/exposure-reporting-server/internal/buildinfo"
	"github.com/regtech/exposure-reporting-server/internal/interrupt"
	"github.com/regtech/exposure-reporting-server/internal/outbox"
	"github.com/regtech/exposure-reporting-server/internal/setup"
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

	var config outbox.ServerConfig
	env, err := setup.Setup(ctx, &config)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer env.Close(ctx)

	bus := outbox.NewKafkaBus(config.Kafka.Brokers, config.Kafka.Topic)
	defer bus.Close()

	publisher := outbox.NewPublisher(outbox.New(env.Database()), bus, &config.Publisher)

	// The publisher loop owns the process lifetime; the HTTP server only
	// exposes health.
	errCh := make(chan error, 1)
	go func() {
		errCh <- publisher.Run(ctx)
	}()

	r := mux.NewRouter()
	r.Handle("/health", server.HandleHealthz(env.Database()))

	srv, err := server.New(config.Port)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}
	logger.Infow("server listening", "port", config.Port)
	if err := srv.ServeHTTPHandler(ctx, r); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
