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

package sync

import (
	"context"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
)

// Source fetches discovered entities from one external system.
type Source interface {
	// Name returns the configured source name, used for provenance and
	// permitted-subnet scoping.
	Name() string

	// Fetch collects the source's current view. Implementations order
	// active entities before inactive ones.
	Fetch(ctx context.Context) ([]*models.DiscoveredEntity, error)
}

// SourceFactory builds a source from its configuration block.
type SourceFactory func(name string, config *models.SourceConfig, log logger.Logger) (Source, error)
