/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/carverauto/netsync/pkg/config"
	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/netbox"
	"github.com/carverauto/netsync/pkg/reconcile"
	"github.com/carverauto/netsync/pkg/sync"
	"github.com/carverauto/netsync/pkg/sync/integrations/redfish"
	"github.com/carverauto/netsync/pkg/sync/integrations/snmp"
	"github.com/carverauto/netsync/pkg/sync/integrations/vsphere"
)

func main() {
	configPath := flag.String("config", "/etc/netsync/netsync.json", "Path to config file")
	dryRun := flag.Bool("dry-run", false, "Log every write instead of performing it")
	logLevel := flag.String("log-level", "", "Override configured log level (trace, debug, info, warn, error)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLog, err := logger.New(logger.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	var cfg sync.Config

	cfgLoader := config.NewConfig(bootLog)
	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		bootLog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	if *logLevel != "" {
		logConfig.Level = *logLevel
	}

	appLog, err := logger.New(logConfig)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to create logger")
	}

	if *dryRun {
		cfg.NetBox.DryRun = true
	}

	client := netbox.NewHTTPClient(cfg.NetBox, appLog)

	registry := map[string]sync.SourceFactory{
		"vsphere": vsphere.New,
		"redfish": redfish.New,
		"snmp":    snmp.New,
	}

	service, err := sync.NewService(&cfg, client, registry, reconcile.RealClock(), appLog)
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to create sync service")
	}

	report, err := service.Run(ctx)
	if err != nil {
		appLog.Error().Err(err).Msg("Reconciliation run failed")
		os.Exit(1)
	}

	created, updated, orphaned, deleted := report.Total()

	appLog.Info().
		Str("run_id", report.RunID).
		Bool("dry_run", report.DryRun).
		Int("created", created).
		Int("updated", updated).
		Int("orphaned", orphaned).
		Int("deleted", deleted).
		Msg("Run complete")
}
