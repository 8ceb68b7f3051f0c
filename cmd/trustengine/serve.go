// Copyright 2025 Circleworks Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/circleworks/trustengine"
	"github.com/circleworks/trustengine/directory"
	"github.com/circleworks/trustengine/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveRun(_ *cobra.Command, _ []string) {
	logger := commonRun()
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	// Until the engine is wired into the platform services, the serve
	// command runs against in-memory collaborators. The ledger and log
	// state are still persisted under the data dir.
	dir := directory.NewMemoryDirectory()
	promRegistry := prometheus.NewRegistry()
	engine, err := trustengine.New(
		trustengine.NewConfig(
			trustengine.WithLogger(logger),
			trustengine.WithDataDir(cfg.DataDir),
			trustengine.WithPrometheusRegistry(promRegistry),
			trustengine.WithUserDirectory(dir),
			trustengine.WithActivitySource(dir),
			trustengine.WithEventAttendance(dir),
			trustengine.WithCommunities(dir),
			trustengine.WithProcessingInterval(cfg.ProcessingInterval),
			trustengine.WithProcessingBatchSize(cfg.ProcessingBatchSize),
			trustengine.WithTracing(cfg.Tracing),
			trustengine.WithTracingStdout(cfg.TracingStdout),
			trustengine.WithSeedDefaultConfig(cfg.SeedDefaultConfig),
		),
	)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	// Metrics listener
	if cfg.MetricsListenAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(
				"/metrics",
				promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
			)
			logger.Info(
				"serving metrics",
				"component", programName,
				"address", cfg.MetricsListenAddress,
			)
			if err := http.ListenAndServe(cfg.MetricsListenAddress, mux); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		}()
	}
	// Shut down on SIGINT/SIGTERM
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		logger.Info(
			"shutting down",
			"component", programName,
			"signal", sig.String(),
		)
		if err := engine.Stop(); err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
	}()
	if err := engine.Run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the trust engine",
		Run:   serveRun,
	}
}
