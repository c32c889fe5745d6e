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

package reconcile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netsync/pkg/inventory"
	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/netbox"
)

func newTestCache(t *testing.T) *inventory.Cache {
	t.Helper()

	return inventory.New(logger.NewTestLogger())
}

func seedDevice(cache *inventory.Cache, id int, fields netbox.Fields) *netbox.Object {
	obj := &netbox.Object{Kind: netbox.KindDevice, ID: id, Fields: fields}
	cache.Insert(obj)

	return obj
}

func seedInterface(cache *inventory.Cache, id, deviceID int, mac string) *netbox.Object {
	obj := &netbox.Object{
		Kind: netbox.KindInterface,
		ID:   id,
		Fields: netbox.Fields{
			"name":        fmt.Sprintf("eth%d", id),
			"mac_address": mac,
			"device":      deviceID,
		},
	}
	cache.Insert(obj)

	return obj
}

func TestMatcherExactNameWithSiteContext(t *testing.T) {
	cache := newTestCache(t)

	site := &netbox.Object{Kind: netbox.KindSite, ID: 10, Fields: netbox.Fields{"name": "dc-east"}}
	cache.Insert(site)

	want := seedDevice(cache, 1, netbox.Fields{"name": "web01", "site": 10})
	seedDevice(cache, 2, netbox.Fields{"name": "web01", "site": 99})

	m := NewMatcher(cache, DefaultPolicy(), logger.NewTestLogger())

	obj, outcome := m.Match(&models.DiscoveredEntity{
		Name:     "web01",
		Kind:     models.EntityDevice,
		SiteName: "dc-east",
	})

	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, want.ID, obj.ID)
}

func TestMatcherBareNameRequiresUniqueness(t *testing.T) {
	cache := newTestCache(t)
	seedDevice(cache, 1, netbox.Fields{"name": "web01"})
	seedDevice(cache, 2, netbox.Fields{"name": "web01"})

	m := NewMatcher(cache, DefaultPolicy(), logger.NewTestLogger())

	_, outcome := m.Match(&models.DiscoveredEntity{Name: "web01", Kind: models.EntityDevice})

	assert.Equal(t, OutcomeNoMatch, outcome)
}

func TestMatcherMACVoting(t *testing.T) {
	tests := []struct {
		name        string
		topVotes    int
		secondVotes int
		want        MatchOutcome
	}{
		{name: "clear winner over runner-up", topVotes: 5, secondVotes: 2, want: OutcomeMatched},
		{name: "ratio at threshold is ambiguous", topVotes: 4, secondVotes: 2, want: OutcomeAmbiguous},
		{name: "close vote is ambiguous", topVotes: 5, secondVotes: 3, want: OutcomeAmbiguous},
		{name: "single candidate always wins", topVotes: 5, secondVotes: 0, want: OutcomeMatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newTestCache(t)

			top := seedDevice(cache, 1, netbox.Fields{"name": "old-name-a"})
			second := seedDevice(cache, 2, netbox.Fields{"name": "old-name-b"})

			entity := &models.DiscoveredEntity{
				Name: "renamed-host",
				Kind: models.EntityDevice,
			}

			ifaceID := 100

			for i := 0; i < tt.topVotes; i++ {
				mac := fmt.Sprintf("AA:BB:CC:00:01:%02X", i)
				seedInterface(cache, ifaceID, top.ID, mac)
				entity.Interfaces = append(entity.Interfaces, models.InterfaceDescriptor{
					Name: fmt.Sprintf("nic%d", ifaceID), MAC: mac,
				})
				ifaceID++
			}

			for i := 0; i < tt.secondVotes; i++ {
				mac := fmt.Sprintf("AA:BB:CC:00:02:%02X", i)
				seedInterface(cache, ifaceID, second.ID, mac)
				entity.Interfaces = append(entity.Interfaces, models.InterfaceDescriptor{
					Name: fmt.Sprintf("nic%d", ifaceID), MAC: mac,
				})
				ifaceID++
			}

			m := NewMatcher(cache, DefaultPolicy(), logger.NewTestLogger())

			obj, outcome := m.Match(entity)

			require.Equal(t, tt.want, outcome)

			if tt.want == OutcomeMatched {
				assert.Equal(t, top.ID, obj.ID)
			}
		})
	}
}

func TestMatcherMACNormalization(t *testing.T) {
	cache := newTestCache(t)

	dev := seedDevice(cache, 1, netbox.Fields{"name": "sw-core"})
	seedInterface(cache, 100, dev.ID, "AA:BB:CC:DD:EE:FF")

	m := NewMatcher(cache, DefaultPolicy(), logger.NewTestLogger())

	obj, outcome := m.Match(&models.DiscoveredEntity{
		Name: "sw-core-renamed",
		Kind: models.EntityDevice,
		Interfaces: []models.InterfaceDescriptor{
			{Name: "Gi0/1", MAC: "aa-bb-cc-dd-ee-ff"},
		},
	})

	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, dev.ID, obj.ID)
}

func TestMatcherFallsBackToSerialThenAssetTag(t *testing.T) {
	cache := newTestCache(t)

	bySerial := seedDevice(cache, 1, netbox.Fields{"name": "old", "serial": "SN-123"})
	byAsset := seedDevice(cache, 2, netbox.Fields{"name": "older", "asset_tag": "AT-9"})

	m := NewMatcher(cache, DefaultPolicy(), logger.NewTestLogger())

	obj, outcome := m.Match(&models.DiscoveredEntity{Name: "renamed", Kind: models.EntityDevice, Serial: "SN-123"})
	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, bySerial.ID, obj.ID)

	obj, outcome = m.Match(&models.DiscoveredEntity{Name: "renamed2", Kind: models.EntityDevice, AssetTag: "AT-9"})
	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, byAsset.ID, obj.ID)
}

func TestMatcherPrimaryIPFallback(t *testing.T) {
	cache := newTestCache(t)

	dev := seedDevice(cache, 1, netbox.Fields{
		"name":        "old",
		"primary_ip4": map[string]interface{}{"id": float64(50), "address": "10.0.0.5/24"},
	})

	m := NewMatcher(cache, DefaultPolicy(), logger.NewTestLogger())

	obj, outcome := m.Match(&models.DiscoveredEntity{
		Name:        "renamed",
		Kind:        models.EntityDevice,
		PrimaryIPv4: "10.0.0.5",
	})

	require.Equal(t, OutcomeMatched, outcome)
	assert.Equal(t, dev.ID, obj.ID)
}

func TestMatcherClaimsAtMostOncePerRun(t *testing.T) {
	cache := newTestCache(t)
	dev := seedDevice(cache, 1, netbox.Fields{"name": "web01", "serial": "SN-1"})

	m := NewMatcher(cache, DefaultPolicy(), logger.NewTestLogger())

	first := &models.DiscoveredEntity{Name: "web01", Kind: models.EntityDevice}

	obj, outcome := m.Match(first)
	require.Equal(t, OutcomeMatched, outcome)
	require.True(t, m.Claim(obj, first))

	// A differently named entity resolving to the same destination object
	// by serial is turned away.
	obj2, outcome2 := m.Match(&models.DiscoveredEntity{
		Name:   "web01-stale-clone",
		Kind:   models.EntityDevice,
		Serial: "SN-1",
	})

	require.Equal(t, OutcomeClaimed, outcome2)
	assert.Equal(t, dev.ID, obj2.ID)

	// The same entity matching again keeps its claim.
	obj3, outcome3 := m.Match(first)
	require.Equal(t, OutcomeMatched, outcome3)
	assert.Equal(t, dev.ID, obj3.ID)
}

func TestMatcherAmbiguousShortCircuits(t *testing.T) {
	cache := newTestCache(t)

	// Two candidates with a tied MAC vote, but the second would match by
	// serial. The matcher must not fall through to the serial strategy.
	a := seedDevice(cache, 1, netbox.Fields{"name": "host-a"})
	b := seedDevice(cache, 2, netbox.Fields{"name": "host-b", "serial": "SN-77"})

	seedInterface(cache, 100, a.ID, "AA:00:00:00:00:01")
	seedInterface(cache, 101, b.ID, "AA:00:00:00:00:02")

	m := NewMatcher(cache, DefaultPolicy(), logger.NewTestLogger())

	_, outcome := m.Match(&models.DiscoveredEntity{
		Name:   "renamed",
		Kind:   models.EntityDevice,
		Serial: "SN-77",
		Interfaces: []models.InterfaceDescriptor{
			{Name: "nic0", MAC: "AA:00:00:00:00:01"},
			{Name: "nic1", MAC: "AA:00:00:00:00:02"},
		},
	})

	assert.Equal(t, OutcomeAmbiguous, outcome)
}
