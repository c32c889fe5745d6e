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
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netsync/pkg/inventory"
	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/netbox"
)

func seedPrefix(cache *inventory.Cache, id int, prefix string, siteID int) *netbox.Object {
	fields := netbox.Fields{"prefix": prefix}
	if siteID != 0 {
		fields["site"] = siteID
	}

	obj := &netbox.Object{Kind: netbox.KindPrefix, ID: id, Fields: fields}
	cache.Insert(obj)

	return obj
}

func seedIP(cache *inventory.Cache, id int, address string, ifaceID int) *netbox.Object {
	obj := &netbox.Object{
		Kind: netbox.KindIPAddress,
		ID:   id,
		Fields: netbox.Fields{
			"address":              address,
			"assigned_object_type": "dcim.interface",
			"assigned_object_id":   ifaceID,
		},
	}
	cache.Insert(obj)

	return obj
}

func seedIfaceWithState(cache *inventory.Cache, id int, enabled bool) *netbox.Object {
	obj := &netbox.Object{
		Kind:   netbox.KindInterface,
		ID:     id,
		Fields: netbox.Fields{"name": "eth0", "enabled": enabled},
	}
	cache.Insert(obj)

	return obj
}

func newResolver(cache *inventory.Cache) *Resolver {
	return NewResolver(cache, DefaultPolicy(), logger.NewTestLogger())
}

func TestResolveBareAddressInheritsLongestPrefix(t *testing.T) {
	cache := newTestCache(t)
	seedPrefix(cache, 1, "10.0.0.0/8", 0)
	seedPrefix(cache, 2, "10.1.0.0/16", 0)
	seedPrefix(cache, 3, "10.1.2.0/24", 0)

	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "10.1.2.3",
		Enabled:   true,
		IfaceID:   7,
		IfaceKind: netbox.KindInterface,
	})

	require.Equal(t, DecisionAssign, res.Decision)
	assert.Equal(t, "10.1.2.3/24", res.Address)
}

func TestResolveSitePrefixBeatsGlobal(t *testing.T) {
	cache := newTestCache(t)
	seedPrefix(cache, 1, "10.1.2.0/24", 0)
	seedPrefix(cache, 2, "10.0.0.0/8", 42)

	r := newResolver(cache)

	// The site pass wins even though the global prefix is more specific.
	res := r.Resolve(AddressRequest{
		Address:   "10.1.2.3",
		Enabled:   true,
		SiteID:    42,
		IfaceID:   7,
		IfaceKind: netbox.KindInterface,
	})

	require.Equal(t, DecisionAssign, res.Decision)
	assert.Equal(t, "10.1.2.3/8", res.Address)
}

func TestResolvePrefixTieKeepsFirstEncountered(t *testing.T) {
	cache := newTestCache(t)

	first := seedPrefix(cache, 1, "10.1.2.0/24", 0)
	first.Fields["vrf"] = 11

	second := seedPrefix(cache, 2, "10.1.2.0/24", 0)
	second.Fields["vrf"] = 22

	r := newResolver(cache)

	for i := 0; i < 5; i++ {
		res := r.Resolve(AddressRequest{
			Address:   "10.1.2.3",
			Enabled:   true,
			IfaceID:   7,
			IfaceKind: netbox.KindInterface,
		})

		require.Equal(t, DecisionAssign, res.Decision)
		assert.Equal(t, 11, res.Fields["vrf"], "equal-length prefixes must resolve to the first in cache order")
	}
}

func TestResolveBareAddressWithoutPrefixIsRejected(t *testing.T) {
	cache := newTestCache(t)
	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "192.168.9.9",
		Enabled:   true,
		IfaceID:   7,
		IfaceKind: netbox.KindInterface,
	})

	assert.Equal(t, DecisionReject, res.Decision)
}

func TestResolveUnparseableAddressIsRejected(t *testing.T) {
	cache := newTestCache(t)
	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "not-an-address",
		IfaceID:   7,
		IfaceKind: netbox.KindInterface,
	})

	assert.Equal(t, DecisionReject, res.Decision)
}

func TestResolvePermittedSubnetsFilter(t *testing.T) {
	cache := newTestCache(t)
	r := newResolver(cache)

	permitted, err := ParsePermittedSubnets([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	res := r.Resolve(AddressRequest{
		Address:   "192.168.1.1/24",
		Enabled:   true,
		IfaceID:   7,
		IfaceKind: netbox.KindInterface,
		Permitted: permitted,
	})

	assert.Equal(t, DecisionSkip, res.Decision)

	res = r.Resolve(AddressRequest{
		Address:   "10.4.0.1/24",
		Enabled:   true,
		IfaceID:   7,
		IfaceKind: netbox.KindInterface,
		Permitted: permitted,
	})

	assert.Equal(t, DecisionAssign, res.Decision)
}

func TestResolveConflictEnabledTakesFromDisabled(t *testing.T) {
	cache := newTestCache(t)
	seedIfaceWithState(cache, 5, false)
	existing := seedIP(cache, 77, "10.0.0.1/24", 5)

	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "10.0.0.1/24",
		Enabled:   true,
		IfaceID:   9,
		IfaceKind: netbox.KindInterface,
	})

	require.Equal(t, DecisionAssign, res.Decision)
	assert.Equal(t, existing.ID, res.Existing.ID)
	assert.Equal(t, 9, res.Fields["assigned_object_id"])
}

func TestResolveConflictDisabledYieldsToEnabled(t *testing.T) {
	cache := newTestCache(t)
	seedIfaceWithState(cache, 5, true)
	seedIP(cache, 77, "10.0.0.1/24", 5)

	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "10.0.0.1/24",
		Enabled:   false,
		IfaceID:   9,
		IfaceKind: netbox.KindInterface,
	})

	assert.Equal(t, DecisionSkip, res.Decision)
}

func TestResolveConflictSameStateKeepsCurrentOwner(t *testing.T) {
	cache := newTestCache(t)
	seedIfaceWithState(cache, 5, true)
	seedIP(cache, 77, "10.0.0.1/24", 5)

	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "10.0.0.1/24",
		Enabled:   true,
		IfaceID:   9,
		IfaceKind: netbox.KindInterface,
	})

	assert.Equal(t, DecisionSkip, res.Decision)
}

func TestResolveConflictIgnoresOtherRealm(t *testing.T) {
	cache := newTestCache(t)
	seedPrefix(cache, 1, "10.0.0.0/24", 0)
	seedIfaceWithState(cache, 5, true)

	// Same value, but held inside VRF 99. The resolver works in the
	// global realm here, so this twin must not block the assignment.
	twin := seedIP(cache, 77, "10.0.0.5/24", 5)
	twin.Fields["vrf"] = 99

	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "10.0.0.5/24",
		Enabled:   true,
		IfaceID:   9,
		IfaceKind: netbox.KindInterface,
	})

	require.Equal(t, DecisionAssign, res.Decision)
	assert.Nil(t, res.Existing, "other-realm twin must not be reassigned")
	assert.NotContains(t, res.Fields, "vrf")
}

func TestResolveConflictMatchesWithinRealm(t *testing.T) {
	cache := newTestCache(t)
	pfx := seedPrefix(cache, 1, "10.0.0.0/24", 0)
	pfx.Fields["vrf"] = 99

	seedIfaceWithState(cache, 5, true)

	// VRF-less twin listed first; the realm filter has to step past it
	// and find the VRF 99 holder.
	seedIP(cache, 70, "10.0.0.5/24", 4)
	inRealm := seedIP(cache, 77, "10.0.0.5/24", 5)
	inRealm.Fields["vrf"] = 99

	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "10.0.0.5/24",
		Enabled:   true,
		IfaceID:   9,
		IfaceKind: netbox.KindInterface,
	})

	assert.Equal(t, DecisionSkip, res.Decision)
	require.NotNil(t, res.Existing)
	assert.Equal(t, inRealm.ID, res.Existing.ID)
}

func TestResolveConflictReassignOnTie(t *testing.T) {
	cache := newTestCache(t)
	seedIfaceWithState(cache, 5, true)
	seedIP(cache, 77, "10.0.0.1/24", 5)

	policy := DefaultPolicy()
	policy.ReassignOnTie = true

	r := NewResolver(cache, policy, logger.NewTestLogger())

	res := r.Resolve(AddressRequest{
		Address:   "10.0.0.1/24",
		Enabled:   true,
		IfaceID:   9,
		IfaceKind: netbox.KindInterface,
	})

	assert.Equal(t, DecisionAssign, res.Decision)
}

func TestResolveSameInterfaceKeepsAssignment(t *testing.T) {
	cache := newTestCache(t)
	seedIfaceWithState(cache, 5, true)
	existing := seedIP(cache, 77, "10.0.0.1/24", 5)

	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "10.0.0.1/24",
		Enabled:   true,
		IfaceID:   5,
		IfaceKind: netbox.KindInterface,
	})

	require.Equal(t, DecisionAssign, res.Decision)
	assert.Equal(t, existing.ID, res.Existing.ID)
}

func TestResolveTenantInferredFromPrefixVLAN(t *testing.T) {
	cache := newTestCache(t)

	vlan := &netbox.Object{
		Kind:   netbox.KindVLAN,
		ID:     30,
		Fields: netbox.Fields{"name": "prod", "tenant": 8},
	}
	cache.Insert(vlan)

	pfx := seedPrefix(cache, 1, "10.0.0.0/24", 0)
	pfx.Fields["vlan"] = 30

	r := newResolver(cache)

	res := r.Resolve(AddressRequest{
		Address:   "10.0.0.1",
		Enabled:   true,
		IfaceID:   7,
		IfaceKind: netbox.KindInterface,
	})

	require.Equal(t, DecisionAssign, res.Decision)
	assert.Equal(t, 8, res.Fields["tenant"])
}

func TestParsePermittedSubnetsRejectsGarbage(t *testing.T) {
	_, err := ParsePermittedSubnets([]string{"10.0.0.0/8", "nope"})
	require.Error(t, err)

	prefixes, err := ParsePermittedSubnets([]string{"10.0.0.1/8"})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), prefixes[0])
}
