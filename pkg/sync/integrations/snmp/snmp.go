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

// Package snmp discovers network hardware by walking the standard MIB-II
// interface and address tables of each configured target.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/sync"
)

const (
	oidSysName      = ".1.3.6.1.2.1.1.5.0"
	oidSysDescr     = ".1.3.6.1.2.1.1.1.0"
	oidIfTable      = ".1.3.6.1.2.1.2.2.1"
	oidIfName       = ".1.3.6.1.2.1.31.1.1.1.1"
	oidIfAlias      = ".1.3.6.1.2.1.31.1.1.1.18"
	oidIPAdEntIfIdx = ".1.3.6.1.2.1.4.20.1.2"
	oidIPAdEntMask  = ".1.3.6.1.2.1.4.20.1.3"
	defaultPort     = 161
	defaultTimeout  = 10 * time.Second
	defaultRetries  = 2
	maxRepetitions  = 10
	ifAdminStatusUp = 1
)

// ifTable column suffixes under oidIfTable.
const (
	colIfDescr       = 2
	colIfType        = 3
	colIfMtu         = 4
	colIfPhysAddress = 6
	colIfAdminStatus = 7
)

var (
	errMissingCommunity = errors.New("snmp source requires a community credential")
	errNoTargets        = errors.New("snmp source requires at least one target")
)

// Connector walks a fixed list of SNMP targets.
type Connector struct {
	name   string
	config *models.SourceConfig
	logger logger.Logger
}

// New builds an SNMP connector; registered as the "snmp" source type.
func New(name string, config *models.SourceConfig, log logger.Logger) (sync.Source, error) {
	if config.Credentials["community"] == "" {
		return nil, errMissingCommunity
	}

	if len(config.Targets) == 0 {
		return nil, errNoTargets
	}

	return &Connector{
		name:   name,
		config: config,
		logger: log.WithComponent("snmp"),
	}, nil
}

// Name implements sync.Source.
func (c *Connector) Name() string { return c.name }

// Fetch walks every target in order. An unreachable target fails the whole
// source: a partial walk would orphan the devices that did not answer.
func (c *Connector) Fetch(ctx context.Context) ([]*models.DiscoveredEntity, error) {
	entities := make([]*models.DiscoveredEntity, 0, len(c.config.Targets))

	for _, target := range c.config.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entity, err := c.scanTarget(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target, err)
		}

		entities = append(entities, entity)
	}

	c.logger.Info().
		Int("devices", len(entities)).
		Msg("Walked SNMP targets")

	return entities, nil
}

func (c *Connector) scanTarget(ctx context.Context, target string) (*models.DiscoveredEntity, error) {
	client := c.newClient(ctx, target)

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	defer func() {
		if err := client.Conn.Close(); err != nil {
			c.logger.Warn().Err(err).Str("target", target).Msg("Failed to close SNMP connection")
		}
	}()

	entity := &models.DiscoveredEntity{
		Kind:     models.EntityDevice,
		SiteName: c.config.SiteName,
		Active:   true,
	}

	if err := c.querySystem(client, target, entity); err != nil {
		return nil, err
	}

	ifaces, err := c.walkInterfaces(client)
	if err != nil {
		return nil, err
	}

	if err := c.walkAddresses(client, ifaces); err != nil {
		// Many devices expose no ipAddrTable; interfaces are still
		// worth syncing without addresses.
		c.logger.Debug().Err(err).Str("target", target).Msg("Address table walk failed")
	}

	indexes := make([]int, 0, len(ifaces))
	for idx := range ifaces {
		indexes = append(indexes, idx)
	}

	sort.Ints(indexes)

	for _, idx := range indexes {
		if ifaces[idx].Name != "" {
			entity.Interfaces = append(entity.Interfaces, *ifaces[idx])
		}
	}

	for i := range entity.Interfaces {
		for _, addr := range entity.Interfaces[i].Addresses {
			if strings.HasPrefix(addr, target+"/") || netboxBare(addr) == target {
				entity.PrimaryIPv4 = addr
			}
		}
	}

	return entity, nil
}

func (c *Connector) newClient(ctx context.Context, target string) *gosnmp.GoSNMP {
	timeout := defaultTimeout
	if c.config.Timeout > 0 {
		timeout = time.Duration(c.config.Timeout)
	}

	return &gosnmp.GoSNMP{
		Context:            ctx,
		Target:             target,
		Port:               defaultPort,
		Community:          c.config.Credentials["community"],
		Version:            gosnmp.Version2c,
		Timeout:            timeout,
		Retries:            defaultRetries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     maxRepetitions,
		ExponentialTimeout: true,
	}
}

func (c *Connector) querySystem(client *gosnmp.GoSNMP, target string, entity *models.DiscoveredEntity) error {
	result, err := client.Get([]string{oidSysName, oidSysDescr})
	if err != nil {
		return fmt.Errorf("system query: %w", err)
	}

	for _, v := range result.Variables {
		if v.Type != gosnmp.OctetString {
			continue
		}

		value := string(v.Value.([]byte))

		switch strings.TrimPrefix(v.Name, ".") {
		case strings.TrimPrefix(oidSysName, "."):
			entity.Name = value
		case strings.TrimPrefix(oidSysDescr, "."):
			entity.Comments = value
		}
	}

	if entity.Name == "" {
		entity.Name = target
	}

	return nil
}

// walkInterfaces populates one descriptor per ifIndex from the ifTable,
// then overlays friendlier names and aliases from the ifXTable when the
// device has one.
func (c *Connector) walkInterfaces(client *gosnmp.GoSNMP) (map[int]*models.InterfaceDescriptor, error) {
	ifaces := map[int]*models.InterfaceDescriptor{}

	get := func(idx int) *models.InterfaceDescriptor {
		iface, ok := ifaces[idx]
		if !ok {
			iface = &models.InterfaceDescriptor{Enabled: true}
			ifaces[idx] = iface
		}

		return iface
	}

	err := client.BulkWalk(oidIfTable, func(pdu gosnmp.SnmpPDU) error {
		column, idx, ok := splitIfTableOID(pdu.Name)
		if !ok {
			return nil
		}

		iface := get(idx)

		switch column {
		case colIfDescr:
			if pdu.Type == gosnmp.OctetString {
				iface.Name = string(pdu.Value.([]byte))
			}
		case colIfType:
			iface.Virtual = isVirtualIfType(gosnmp.ToBigInt(pdu.Value).Int64())
		case colIfMtu:
			iface.MTU = int(gosnmp.ToBigInt(pdu.Value).Int64())
		case colIfPhysAddress:
			if pdu.Type == gosnmp.OctetString {
				iface.MAC = formatMAC(pdu.Value.([]byte))
			}
		case colIfAdminStatus:
			iface.Enabled = gosnmp.ToBigInt(pdu.Value).Int64() == ifAdminStatusUp
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ifTable walk: %w", err)
	}

	// ifXTable is optional equipment.
	_ = client.BulkWalk(oidIfName, func(pdu gosnmp.SnmpPDU) error {
		if idx, ok := lastOIDIndex(pdu.Name); ok && pdu.Type == gosnmp.OctetString {
			get(idx).Name = string(pdu.Value.([]byte))
		}

		return nil
	})

	_ = client.BulkWalk(oidIfAlias, func(pdu gosnmp.SnmpPDU) error {
		if idx, ok := lastOIDIndex(pdu.Name); ok && pdu.Type == gosnmp.OctetString {
			get(idx).Description = string(pdu.Value.([]byte))
		}

		return nil
	})

	return ifaces, nil
}

// walkAddresses attaches ipAddrTable entries to their interfaces, mask and
// all.
func (c *Connector) walkAddresses(client *gosnmp.GoSNMP, ifaces map[int]*models.InterfaceDescriptor) error {
	addrToIndex := map[string]int{}

	err := client.BulkWalk(oidIPAdEntIfIdx, func(pdu gosnmp.SnmpPDU) error {
		addrToIndex[trimOIDPrefix(pdu.Name, oidIPAdEntIfIdx)] = int(gosnmp.ToBigInt(pdu.Value).Int64())

		return nil
	})
	if err != nil {
		return fmt.Errorf("ipAdEntIfIndex walk: %w", err)
	}

	masks := map[string]string{}

	err = client.BulkWalk(oidIPAdEntMask, func(pdu gosnmp.SnmpPDU) error {
		if pdu.Type == gosnmp.IPAddress {
			masks[trimOIDPrefix(pdu.Name, oidIPAdEntMask)] = pdu.Value.(string)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("ipAdEntNetMask walk: %w", err)
	}

	for addr, idx := range addrToIndex {
		iface, ok := ifaces[idx]
		if !ok {
			continue
		}

		if bits, ok := maskToBits(masks[addr]); ok {
			iface.Addresses = append(iface.Addresses, fmt.Sprintf("%s/%d", addr, bits))
		} else {
			iface.Addresses = append(iface.Addresses, addr)
		}
	}

	for _, iface := range ifaces {
		sort.Strings(iface.Addresses)
	}

	return nil
}

// splitIfTableOID extracts the column and ifIndex from an ifTable PDU name.
func splitIfTableOID(oid string) (column, index int, ok bool) {
	trimmed := trimOIDPrefix(oid, oidIfTable)
	if trimmed == strings.TrimPrefix(oid, ".") {
		return 0, 0, false
	}

	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	column, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}

	index, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}

	return column, index, true
}

// trimOIDPrefix strips a table-column OID prefix regardless of whether the
// agent reports names with a leading dot.
func trimOIDPrefix(oid, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(oid, "."), strings.TrimPrefix(prefix, ".")+".")
}

func lastOIDIndex(oid string) (int, bool) {
	i := strings.LastIndexByte(oid, '.')
	if i < 0 {
		return 0, false
	}

	idx, err := strconv.Atoi(oid[i+1:])
	if err != nil {
		return 0, false
	}

	return idx, true
}

// isVirtualIfType flags IANA ifType values that never map to a physical
// port: loopback, propVirtual, tunnel and VLAN subinterfaces.
func isVirtualIfType(ifType int64) bool {
	switch ifType {
	case 24, 53, 131, 135, 136:
		return true
	default:
		return false
	}
}

func formatMAC(raw []byte) string {
	if len(raw) != 6 {
		return ""
	}

	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02X", b)
	}

	return strings.Join(parts, ":")
}

func maskToBits(mask string) (int, bool) {
	if mask == "" {
		return 0, false
	}

	bits := 0
	seenZero := false

	for _, part := range strings.Split(mask, ".") {
		octet, err := strconv.Atoi(part)
		if err != nil || octet < 0 || octet > 255 {
			return 0, false
		}

		for probe := 0x80; probe > 0; probe >>= 1 {
			if octet&probe != 0 {
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

func netboxBare(address string) string {
	if i := strings.IndexByte(address, '/'); i >= 0 {
		return address[:i]
	}

	return address
}
