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

package snmp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
)

func TestNewRequiresCommunity(t *testing.T) {
	_, err := New("snmp-core", &models.SourceConfig{
		Type:    "snmp",
		Targets: []string{"192.0.2.1"},
	}, logger.NewTestLogger())
	require.ErrorIs(t, err, errMissingCommunity)
}

func TestNewRequiresTargets(t *testing.T) {
	_, err := New("snmp-core", &models.SourceConfig{
		Type:        "snmp",
		Credentials: map[string]string{"community": "public"},
	}, logger.NewTestLogger())
	require.ErrorIs(t, err, errNoTargets)
}

func TestNewClientSettings(t *testing.T) {
	src, err := New("snmp-core", &models.SourceConfig{
		Type:        "snmp",
		Credentials: map[string]string{"community": "s3cret"},
		Targets:     []string{"192.0.2.1"},
		Timeout:     models.Duration(3 * time.Second),
	}, logger.NewTestLogger())
	require.NoError(t, err)

	client := src.(*Connector).newClient(t.Context(), "192.0.2.1")
	assert.Equal(t, "192.0.2.1", client.Target)
	assert.Equal(t, uint16(161), client.Port)
	assert.Equal(t, "s3cret", client.Community)
	assert.Equal(t, 3*time.Second, client.Timeout)
	assert.True(t, client.ExponentialTimeout)
}

func TestSplitIfTableOID(t *testing.T) {
	tests := []struct {
		oid    string
		column int
		index  int
		ok     bool
	}{
		{".1.3.6.1.2.1.2.2.1.2.3", 2, 3, true},
		{"1.3.6.1.2.1.2.2.1.6.10001", 6, 10001, true},
		{".1.3.6.1.2.1.2.2.1.7", 0, 0, false},      // no index
		{".1.3.6.1.2.1.31.1.1.1.1.3", 0, 0, false}, // ifXTable, wrong prefix
		{".1.3.6.1.2.1.2.2.1.x.3", 0, 0, false},
	}

	for _, tt := range tests {
		column, index, ok := splitIfTableOID(tt.oid)
		assert.Equal(t, tt.ok, ok, tt.oid)
		assert.Equal(t, tt.column, column, tt.oid)
		assert.Equal(t, tt.index, index, tt.oid)
	}
}

func TestTrimOIDPrefix(t *testing.T) {
	assert.Equal(t, "10.0.0.5",
		trimOIDPrefix(".1.3.6.1.2.1.4.20.1.2.10.0.0.5", oidIPAdEntIfIdx))
	assert.Equal(t, "10.0.0.5",
		trimOIDPrefix("1.3.6.1.2.1.4.20.1.2.10.0.0.5", oidIPAdEntIfIdx))
	// Unrelated OIDs pass through unchanged (minus the dot).
	assert.Equal(t, "1.3.6.1.2.1.1.5.0",
		trimOIDPrefix(".1.3.6.1.2.1.1.5.0", oidIPAdEntIfIdx))
}

func TestLastOIDIndex(t *testing.T) {
	idx, ok := lastOIDIndex(".1.3.6.1.2.1.31.1.1.1.1.42")
	require.True(t, ok)
	assert.Equal(t, 42, idx)

	_, ok = lastOIDIndex("no-dots")
	assert.False(t, ok)

	_, ok = lastOIDIndex(".1.3.6.x")
	assert.False(t, ok)
}

func TestIsVirtualIfType(t *testing.T) {
	assert.True(t, isVirtualIfType(24))  // softwareLoopback
	assert.True(t, isVirtualIfType(53))  // propVirtual
	assert.True(t, isVirtualIfType(131)) // tunnel
	assert.True(t, isVirtualIfType(135)) // l2vlan
	assert.True(t, isVirtualIfType(136)) // l3ipvlan
	assert.False(t, isVirtualIfType(6))  // ethernetCsmacd
	assert.False(t, isVirtualIfType(161))
}

func TestFormatMAC(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:00:00:01", formatMAC([]byte{0xAA, 0xBB, 0xCC, 0x00, 0x00, 0x01}))
	assert.Empty(t, formatMAC(nil))             // loopbacks report no physAddress
	assert.Empty(t, formatMAC([]byte{1, 2, 3})) // truncated
}

func TestMaskToBits(t *testing.T) {
	tests := []struct {
		mask string
		bits int
		ok   bool
	}{
		{"255.255.255.0", 24, true},
		{"255.255.255.252", 30, true},
		{"255.255.255.255", 32, true},
		{"0.0.0.0", 0, false},
		{"255.0.255.0", 0, false},
		{"", 0, false},
		{"255.255.256.0", 0, false},
	}

	for _, tt := range tests {
		bits, ok := maskToBits(tt.mask)
		assert.Equal(t, tt.ok, ok, tt.mask)
		assert.Equal(t, tt.bits, bits, tt.mask)
	}
}

func TestNetboxBare(t *testing.T) {
	assert.Equal(t, "10.0.0.5", netboxBare("10.0.0.5/24"))
	assert.Equal(t, "10.0.0.5", netboxBare("10.0.0.5"))
}
