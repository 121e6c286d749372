// Copyright 2025 Blink Labs Software
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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	flightsurety "github.com/FentonA/flightsurety"
	"github.com/FentonA/flightsurety/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	// Parse consensus session expiry for the sweeper
	sessionExpiry := 1 * time.Hour
	if cfg.SessionExpiry != "" {
		var err error
		sessionExpiry, err = time.ParseDuration(cfg.SessionExpiry)
		if err != nil {
			return fmt.Errorf("invalid session expiry: %w", err)
		}
	}

	opts := []flightsurety.ConfigOptionFunc{
		flightsurety.WithLogger(logger),
		flightsurety.WithDataDir(cfg.DataDir),
		flightsurety.WithGenesisAirline(
			cfg.GenesisAirlineName,
			cfg.GenesisAirlineAccount,
		),
		flightsurety.WithOracleFee(cfg.OracleFee),
		flightsurety.WithMinAirlineFunding(cfg.MinAirlineFunding),
		flightsurety.WithMinPremium(cfg.MinPremium),
		flightsurety.WithPayoutPercent(cfg.PayoutPercent),
		flightsurety.WithStrictResponses(cfg.StrictResponses),
		// Enable metrics with default prometheus registry
		flightsurety.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	}
	if cfg.FounderQuota > 0 {
		opts = append(opts, flightsurety.WithFounderQuota(cfg.FounderQuota))
	}
	if cfg.MinResponses > 0 {
		opts = append(opts, flightsurety.WithMinResponses(cfg.MinResponses))
	}
	n, err := flightsurety.New(flightsurety.NewConfig(opts...))
	if err != nil {
		return err
	}

	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"node",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "node",
			)
			os.Exit(1)
		}
	}()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Sweep stale consensus sessions until shutdown
	go func() {
		ticker := time.NewTicker(sessionExpiry)
		defer ticker.Stop()
		for {
			select {
			case <-signalCtx.Done():
				return
			case <-ticker.C:
				expired := n.Oracles().ExpireSessions(sessionExpiry)
				if expired > 0 {
					logger.Info(
						"expired stale consensus sessions",
						"component", "node",
						"count", expired,
					)
				}
			}
		}
	}()

	<-signalCtx.Done()
	logger.Info("signal received, initiating graceful shutdown")

	// Shutdown metrics server
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	// Shutdown engine
	if err := n.Stop(); err != nil {
		logger.Error("shutdown errors occurred", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
