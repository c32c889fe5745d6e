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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/netbox"
	"github.com/carverauto/netsync/pkg/reconcile"
)

var (
	errNetBoxEndpointRequired = errors.New("netbox endpoint is required")
	errNetBoxTokenRequired    = errors.New("netbox api_token is required")
	errNoSources              = errors.New("at least one source must be configured")
	errSourceTypeRequired     = errors.New("source type is required")
	errSourceEndpointRequired = errors.New("source endpoint is required")
)

// Config is the root configuration document for one run.
type Config struct {
	NetBox  netbox.ClientConfig             `json:"netbox"`
	Sources map[string]*models.SourceConfig `json:"sources"`
	Policy  reconcile.Policy                `json:"policy"`

	// GracePeriod is how long orphans survive before deletion, e.g. "720h".
	GracePeriod models.Duration `json:"grace_period,omitempty"`

	// NetBoxTimeout bounds each destination API call, e.g. "30s".
	NetBoxTimeout models.Duration `json:"netbox_timeout,omitempty"`

	Logging *logger.Config `json:"logging,omitempty"`
}

// Validate implements config.Validator. It also folds defaults into the
// policy so callers can use it directly.
func (c *Config) Validate() error {
	c.applyEnvOverrides()

	if c.NetBox.Endpoint == "" {
		return errNetBoxEndpointRequired
	}

	if c.NetBox.APIToken == "" {
		return errNetBoxTokenRequired
	}

	if len(c.Sources) == 0 {
		return errNoSources
	}

	for name, source := range c.Sources {
		if source == nil || source.Type == "" {
			return fmt.Errorf("source %q: %w", name, errSourceTypeRequired)
		}

		// SNMP sources walk a target list instead of a single endpoint.
		if source.Endpoint == "" && len(source.Targets) == 0 {
			return fmt.Errorf("source %q: %w", name, errSourceEndpointRequired)
		}

		if _, err := reconcile.ParsePermittedSubnets(source.PermittedSubnets); err != nil {
			return fmt.Errorf("source %q: %w", name, err)
		}
	}

	c.applyDefaults()

	return nil
}

// applyEnvOverrides lets credentials live in the environment instead of the
// config file. NETSYNC_NETBOX_TOKEN overrides the API token;
// NETSYNC_SOURCE_<NAME>_USERNAME/_PASSWORD/_COMMUNITY override per-source
// credentials, with the source name upper-cased and dashes mapped to
// underscores.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("NETSYNC_NETBOX_TOKEN"); token != "" {
		c.NetBox.APIToken = token
	}

	for name, source := range c.Sources {
		if source == nil {
			continue
		}

		prefix := "NETSYNC_SOURCE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"

		for _, key := range []string{"username", "password", "community"} {
			value := os.Getenv(prefix + strings.ToUpper(key))
			if value == "" {
				continue
			}

			if source.Credentials == nil {
				source.Credentials = map[string]string{}
			}

			source.Credentials[key] = value
		}
	}
}

func (c *Config) applyDefaults() {
	defaults := reconcile.DefaultPolicy()

	if c.Policy.MACVoteRatio == 0 {
		c.Policy.MACVoteRatio = defaults.MACVoteRatio
	}

	if c.Policy.DeviceRole == "" {
		c.Policy.DeviceRole = defaults.DeviceRole
	}

	if c.Policy.DefaultSite == "" {
		c.Policy.DefaultSite = defaults.DefaultSite
	}

	if c.Policy.DefaultManufacturer == "" {
		c.Policy.DefaultManufacturer = defaults.DefaultManufacturer
	}

	if c.Policy.DefaultClusterType == "" {
		c.Policy.DefaultClusterType = defaults.DefaultClusterType
	}

	if c.GracePeriod > 0 {
		c.Policy.GracePeriod = time.Duration(c.GracePeriod)
	} else {
		c.Policy.GracePeriod = defaults.GracePeriod
	}

	if c.NetBoxTimeout > 0 {
		c.NetBox.Timeout = time.Duration(c.NetBoxTimeout)
	}
}
