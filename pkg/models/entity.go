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

// Package models holds the shared data structures exchanged between source
// connectors and the reconciliation engine.
package models

import "strings"

// EntityKind distinguishes physical devices from virtual machines.
type EntityKind string

const (
	EntityDevice         EntityKind = "device"
	EntityVirtualMachine EntityKind = "virtual_machine"
)

// DiscoveredEntity is one device or virtual machine as observed by a source
// during the current run. Instances are created fresh per run and never
// persisted.
type DiscoveredEntity struct {
	Name         string
	Kind         EntityKind
	SiteName     string
	ClusterName  string
	Interfaces   []InterfaceDescriptor
	PrimaryIPv4  string
	PrimaryIPv6  string
	Serial       string
	AssetTag     string
	Manufacturer string
	Model        string
	Platform     string
	Comments     string
	SourceName   string

	// Active reports whether the source observed the entity as powered on.
	// Sources order active entities first so that live data wins name
	// collisions (the matcher claims an identifier at most once per run).
	Active bool
}

// InterfaceDescriptor describes one interface of a DiscoveredEntity.
type InterfaceDescriptor struct {
	Name        string
	MAC         string
	Virtual     bool
	Enabled     bool
	MTU         int
	Description string
	Addresses   []string
}

// NormalizedMAC returns the interface MAC in canonical upper-case colon
// notation, or "" when unset.
func (d *InterfaceDescriptor) NormalizedMAC() string {
	return NormalizeMAC(d.MAC)
}

// NormalizeMAC canonicalizes a MAC address string for index lookups.
func NormalizeMAC(mac string) string {
	mac = strings.TrimSpace(mac)
	if mac == "" {
		return ""
	}

	mac = strings.ReplaceAll(mac, "-", ":")

	return strings.ToUpper(mac)
}
