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

// Package vsphere discovers virtual machines through the vCenter Automation
// REST API.
package vsphere

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/sync"
)

const (
	sessionHeader  = "vmware-api-session-id"
	defaultTimeout = 60 * time.Second
)

var (
	errUnexpectedStatusCode = errors.New("unexpected status code")
	errMissingCredentials   = errors.New("vsphere source requires username and password credentials")
)

// Connector fetches VMs from one vCenter.
type Connector struct {
	name       string
	config     *models.SourceConfig
	httpClient *http.Client
	logger     logger.Logger
}

// New builds a vSphere connector; registered as the "vsphere" source type.
func New(name string, config *models.SourceConfig, log logger.Logger) (sync.Source, error) {
	if config.Credentials["username"] == "" || config.Credentials["password"] == "" {
		return nil, errMissingCredentials
	}

	timeout := defaultTimeout
	if config.Timeout > 0 {
		timeout = time.Duration(config.Timeout)
	}

	//nolint:gosec // lab vCenters commonly run self-signed certificates
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: config.InsecureSkipVerify,
			},
		},
	}

	return &Connector{
		name:       name,
		config:     config,
		httpClient: httpClient,
		logger:     log.WithComponent("vsphere"),
	}, nil
}

// Name implements sync.Source.
func (c *Connector) Name() string { return c.name }

// Fetch lists every VM and resolves its NICs and guest addresses. Powered-on
// VMs are returned first.
func (c *Connector) Fetch(ctx context.Context) ([]*models.DiscoveredEntity, error) {
	token, err := c.login(ctx)
	if err != nil {
		return nil, fmt.Errorf("vcenter login: %w", err)
	}

	var summaries []vmSummary
	if err := c.get(ctx, token, "/api/vcenter/vm", &summaries); err != nil {
		return nil, fmt.Errorf("listing vms: %w", err)
	}

	entities := make([]*models.DiscoveredEntity, 0, len(summaries))

	for i := range summaries {
		entity, err := c.fetchVM(ctx, token, &summaries[i])
		if err != nil {
			return nil, err
		}

		entities = append(entities, entity)
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Active && !entities[j].Active
	})

	c.logger.Info().
		Int("vms", len(entities)).
		Str("endpoint", c.config.Endpoint).
		Msg("Fetched virtual machines from vCenter")

	return entities, nil
}

func (c *Connector) fetchVM(ctx context.Context, token string, summary *vmSummary) (*models.DiscoveredEntity, error) {
	var detail vmDetail
	if err := c.get(ctx, token, "/api/vcenter/vm/"+summary.VM, &detail); err != nil {
		return nil, fmt.Errorf("vm %s: %w", summary.VM, err)
	}

	entity := &models.DiscoveredEntity{
		Name:        detail.Name,
		Kind:        models.EntityVirtualMachine,
		ClusterName: c.config.ClusterName,
		Platform:    detail.GuestOS,
		Active:      detail.PowerState == "POWERED_ON",
		Comments:    fmt.Sprintf("vCenter VM %s", summary.VM),
	}

	// Guest networking needs VMware tools; absence is not an error.
	var guest []guestInterface
	if err := c.get(ctx, token, "/api/vcenter/vm/"+summary.VM+"/guest/networking/interfaces", &guest); err != nil {
		guest = nil

		c.logger.Debug().
			Str("vm", detail.Name).
			Err(err).
			Msg("Guest networking unavailable, skipping addresses")
	}

	addressesByMAC := map[string][]string{}

	for i := range guest {
		mac := models.NormalizeMAC(guest[i].MACAddress)
		if mac == "" || guest[i].IP == nil {
			continue
		}

		for _, ip := range guest[i].IP.IPAddresses {
			if ip.State != "" && ip.State != "PREFERRED" {
				continue
			}

			addressesByMAC[mac] = append(addressesByMAC[mac],
				fmt.Sprintf("%s/%d", ip.IPAddress, ip.PrefixLength))
		}
	}

	nicIDs := make([]string, 0, len(detail.NICs))
	for id := range detail.NICs {
		nicIDs = append(nicIDs, id)
	}

	sort.Strings(nicIDs)

	for _, id := range nicIDs {
		nic := detail.NICs[id]
		mac := models.NormalizeMAC(nic.MACAddress)

		iface := models.InterfaceDescriptor{
			Name:      nic.Label,
			MAC:       mac,
			Virtual:   true,
			Enabled:   nic.State == "CONNECTED",
			Addresses: addressesByMAC[mac],
		}

		if iface.Name == "" {
			iface.Name = id
		}

		entity.Interfaces = append(entity.Interfaces, iface)
	}

	// First address of the first connected NIC becomes the primary.
	for i := range entity.Interfaces {
		if entity.Interfaces[i].Enabled && len(entity.Interfaces[i].Addresses) > 0 {
			addr := entity.Interfaces[i].Addresses[0]
			if strings.Contains(addr, ":") {
				entity.PrimaryIPv6 = addr
			} else {
				entity.PrimaryIPv4 = addr
			}

			break
		}
	}

	return entity, nil
}

// login opens an API session and returns its token.
func (c *Connector) login(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/api/session", http.NoBody)
	if err != nil {
		return "", err
	}

	req.SetBasicAuth(c.config.Credentials["username"], c.config.Credentials["password"])

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", errUnexpectedStatusCode, resp.StatusCode)
	}

	var token string
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", err
	}

	return token, nil
}

func (c *Connector) get(ctx context.Context, token, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+path, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set(sessionHeader, token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d on %s", errUnexpectedStatusCode, resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Connector) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close response body")
	}
}
