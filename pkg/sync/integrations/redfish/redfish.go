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

// Package redfish discovers physical servers from directories of Redfish
// ComputerSystem JSON exports, the hand-off format produced by out-of-band
// collection jobs that have no line of sight to the destination inventory.
package redfish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/sync"
)

// computerSystem mirrors the Redfish ComputerSystem resource, flattened to
// the fields the reconciler consumes.
type computerSystem struct {
	Name         string `json:"Name"`
	HostName     string `json:"HostName"`
	Manufacturer string `json:"Manufacturer"`
	Model        string `json:"Model"`
	SerialNumber string `json:"SerialNumber"`
	AssetTag     string `json:"AssetTag"`
	PowerState   string `json:"PowerState"`

	EthernetInterfaces []ethernetInterface `json:"EthernetInterfaces"`
}

type ethernetInterface struct {
	ID               string `json:"Id"`
	MACAddress       string `json:"MACAddress"`
	InterfaceEnabled *bool  `json:"InterfaceEnabled"`
	MTUSize          int    `json:"MTUSize"`
	Description      string `json:"Description"`

	IPv4Addresses []ipv4Address `json:"IPv4Addresses"`
	IPv6Addresses []ipv6Address `json:"IPv6Addresses"`
}

type ipv4Address struct {
	Address    string `json:"Address"`
	SubnetMask string `json:"SubnetMask"`
}

type ipv6Address struct {
	Address      string `json:"Address"`
	PrefixLength int    `json:"PrefixLength"`
}

// Connector reads one export directory.
type Connector struct {
	name   string
	config *models.SourceConfig
	logger logger.Logger
}

// New builds a Redfish export connector; registered as the "redfish" source
// type. The endpoint is the export directory path.
func New(name string, config *models.SourceConfig, log logger.Logger) (sync.Source, error) {
	return &Connector{
		name:   name,
		config: config,
		logger: log.WithComponent("redfish"),
	}, nil
}

// Name implements sync.Source.
func (c *Connector) Name() string { return c.name }

// Fetch parses every *.json export in the directory, in lexical order so
// runs are deterministic. A malformed export fails the whole source: a
// partial hardware view would orphan the systems missing from it.
func (c *Connector) Fetch(ctx context.Context) ([]*models.DiscoveredEntity, error) {
	paths, err := filepath.Glob(filepath.Join(c.config.Endpoint, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scanning export directory: %w", err)
	}

	sort.Strings(paths)

	entities := make([]*models.DiscoveredEntity, 0, len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entity, err := c.readExport(path)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", filepath.Base(path), err)
		}

		entities = append(entities, entity)
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Active && !entities[j].Active
	})

	c.logger.Info().
		Int("systems", len(entities)).
		Str("directory", c.config.Endpoint).
		Msg("Parsed Redfish exports")

	return entities, nil
}

func (c *Connector) readExport(path string) (*models.DiscoveredEntity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var system computerSystem
	if err := json.Unmarshal(data, &system); err != nil {
		return nil, err
	}

	name := system.HostName
	if name == "" {
		name = system.Name
	}

	entity := &models.DiscoveredEntity{
		Name:         name,
		Kind:         models.EntityDevice,
		SiteName:     c.config.SiteName,
		Serial:       system.SerialNumber,
		AssetTag:     system.AssetTag,
		Manufacturer: system.Manufacturer,
		Model:        system.Model,
		Active:       strings.EqualFold(system.PowerState, "On"),
	}

	for i := range system.EthernetInterfaces {
		iface, ok := convertInterface(&system.EthernetInterfaces[i])
		if ok {
			entity.Interfaces = append(entity.Interfaces, iface)
		}
	}

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

func convertInterface(ei *ethernetInterface) (models.InterfaceDescriptor, bool) {
	if ei.ID == "" && ei.MACAddress == "" {
		return models.InterfaceDescriptor{}, false
	}

	iface := models.InterfaceDescriptor{
		Name:        ei.ID,
		MAC:         models.NormalizeMAC(ei.MACAddress),
		Enabled:     ei.InterfaceEnabled == nil || *ei.InterfaceEnabled,
		MTU:         ei.MTUSize,
		Description: ei.Description,
	}

	if iface.Name == "" {
		iface.Name = iface.MAC
	}

	for _, v4 := range ei.IPv4Addresses {
		if v4.Address == "" {
			continue
		}

		if bits, ok := maskBits(v4.SubnetMask); ok {
			iface.Addresses = append(iface.Addresses, fmt.Sprintf("%s/%d", v4.Address, bits))
		} else {
			// No usable mask: hand the bare address to the prefix
			// resolver.
			iface.Addresses = append(iface.Addresses, v4.Address)
		}
	}

	for _, v6 := range ei.IPv6Addresses {
		if v6.Address == "" {
			continue
		}

		if v6.PrefixLength > 0 {
			iface.Addresses = append(iface.Addresses, fmt.Sprintf("%s/%d", v6.Address, v6.PrefixLength))
		} else {
			iface.Addresses = append(iface.Addresses, v6.Address)
		}
	}

	return iface, true
}

// maskBits converts a dotted-quad subnet mask into a prefix length.
func maskBits(mask string) (int, bool) {
	addr, err := netip.ParseAddr(mask)
	if err != nil || !addr.Is4() {
		return 0, false
	}

	bits := 0
	seenZero := false

	for _, b := range addr.As4() {
		for probe := byte(0x80); probe > 0; probe >>= 1 {
			if b&probe != 0 {
				if seenZero {
					return 0, false
				}

				bits++
			} else {
				seenZero = true
			}
		}
	}

	return bits, bits > 0
}
