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

// Package sync collects discovered entities from configured sources and
// feeds them through one reconciliation run against the destination
// inventory. The process is single-shot: collect, reconcile, report, exit.
package sync

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/netsync/pkg/inventory"
	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/netbox"
	"github.com/carverauto/netsync/pkg/reconcile"
)

const maxConcurrentSources = 4

// Service owns one collection-and-reconcile run.
type Service struct {
	config   *Config
	client   netbox.Client
	registry map[string]SourceFactory
	clock    reconcile.Clock
	logger   logger.Logger
}

// NewService wires the service. The registry maps source type names to
// factories; unknown types fail fast at construction.
func NewService(config *Config, client netbox.Client, registry map[string]SourceFactory, clock reconcile.Clock, log logger.Logger) (*Service, error) {
	for name, source := range config.Sources {
		if _, ok := registry[source.Type]; !ok {
			return nil, fmt.Errorf("source %q: unknown type %q", name, source.Type)
		}
	}

	return &Service{
		config:   config,
		client:   client,
		registry: registry,
		clock:    clock,
		logger:   log.WithComponent("sync"),
	}, nil
}

// Run executes one full cycle: fetch from every source in parallel, load
// the destination cache, reconcile, and sweep orphans. A failed source
// never aborts the run; it only disables the orphan sweep, so nothing the
// failed source would have confirmed gets orphaned by its absence.
func (s *Service) Run(ctx context.Context) (*reconcile.Report, error) {
	entities, allFetched, err := s.collect(ctx)
	if err != nil {
		return nil, err
	}

	cache, err := inventory.Load(ctx, s.client, s.logger)
	if err != nil {
		return nil, fmt.Errorf("loading inventory cache: %w", err)
	}

	permitted, err := s.permittedSubnets()
	if err != nil {
		return nil, err
	}

	engine := reconcile.NewEngine(s.client, cache, s.config.Policy, s.clock, s.config.NetBox.DryRun, s.logger)

	return engine.Run(ctx, reconcile.RunInput{
		Entities:         entities,
		PermittedSubnets: permitted,
		Prune:            allFetched,
	})
}

// collect fetches from all sources concurrently and flattens the results
// in deterministic source-name order.
func (s *Service) collect(ctx context.Context) ([]*models.DiscoveredEntity, bool, error) {
	names := make([]string, 0, len(s.config.Sources))
	for name := range s.config.Sources {
		names = append(names, name)
	}

	sort.Strings(names)

	var (
		mu       gosync.Mutex
		bySource = make(map[string][]*models.DiscoveredEntity, len(names))
		failed   []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSources)

	for _, name := range names {
		config := s.config.Sources[name]

		g.Go(func() error {
			source, err := s.registry[config.Type](name, config, s.logger)
			if err != nil {
				return fmt.Errorf("building source %q: %w", name, err)
			}

			entities, err := source.Fetch(gctx)
			if err != nil {
				s.logger.Error().
					Err(err).
					Str("source", name).
					Msg("Source fetch failed, continuing without it")

				mu.Lock()
				failed = append(failed, name)
				mu.Unlock()

				return nil
			}

			for _, entity := range entities {
				entity.SourceName = name
				s.applySourceContext(entity, config)
			}

			mu.Lock()
			bySource[name] = entities
			mu.Unlock()

			s.logger.Info().
				Str("source", name).
				Int("entities", len(entities)).
				Msg("Source fetch complete")

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	var entities []*models.DiscoveredEntity

	for _, name := range names {
		entities = append(entities, bySource[name]...)
	}

	return entities, len(failed) == 0, nil
}

// applySourceContext fills site and cluster context a source-level config
// pins but the connector did not report per entity.
func (s *Service) applySourceContext(entity *models.DiscoveredEntity, config *models.SourceConfig) {
	if entity.SiteName == "" {
		entity.SiteName = config.SiteName
	}

	if entity.ClusterName == "" && entity.Kind == models.EntityVirtualMachine {
		entity.ClusterName = config.ClusterName
	}
}

func (s *Service) permittedSubnets() (map[string][]netip.Prefix, error) {
	permitted := make(map[string][]netip.Prefix, len(s.config.Sources))

	for name, source := range s.config.Sources {
		if len(source.PermittedSubnets) == 0 {
			continue
		}

		prefixes, err := reconcile.ParsePermittedSubnets(source.PermittedSubnets)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", name, err)
		}

		permitted[name] = prefixes
	}

	return permitted, nil
}
