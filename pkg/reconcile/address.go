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
	"net/netip"
	"strings"

	"github.com/carverauto/netsync/pkg/inventory"
	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/netbox"
)

// AddressDecision is the resolver's verdict for one discovered address.
type AddressDecision int

const (
	// DecisionAssign - create or repoint the address to the discovered
	// interface.
	DecisionAssign AddressDecision = iota
	// DecisionSkip - leave the current assignment alone.
	DecisionSkip
	// DecisionReject - the address is unusable this run.
	DecisionReject
)

// AddressRequest describes one discovered address in the context of the
// interface that carries it.
type AddressRequest struct {
	// Address as reported by the source, with or without a prefix length.
	Address string

	// Enabled is the discovered interface's admin state, used for
	// conflict arbitration against the current owner.
	Enabled bool

	// SiteID scopes the prefix search. Zero means no site context.
	SiteID int

	// IfaceID and IfaceKind identify the destination interface the
	// address should be assigned to.
	IfaceID   int
	IfaceKind netbox.Kind

	// Permitted restricts which subnets are synchronized. Empty permits
	// everything.
	Permitted []netip.Prefix
}

// Resolution is the resolver's answer: what to do, which existing object is
// involved, and the fields to write when assigning.
type Resolution struct {
	Decision AddressDecision

	// Canonical address including prefix length.
	Address string

	// Existing is the cached IP object for this address, if any.
	Existing *netbox.Object

	Fields netbox.Fields
	Reason string
}

// Resolver normalizes discovered addresses against the cached prefix table
// and arbitrates assignment conflicts.
type Resolver struct {
	cache  *inventory.Cache
	policy Policy
	logger logger.Logger
}

// NewResolver creates a resolver over the given cache.
func NewResolver(cache *inventory.Cache, policy Policy, log logger.Logger) *Resolver {
	return &Resolver{cache: cache, policy: policy, logger: log}
}

// Resolve decides what to do with one discovered address.
//
// A bare address (no prefix length) inherits the mask of the longest
// matching cached prefix, searched within the request's site first and then
// among prefixes with no site. A bare address that matches no prefix is
// rejected rather than written with a guessed mask.
//
// When the address already exists in the same routing realm and is assigned
// elsewhere, an enabled discovered interface takes it from a disabled owner;
// otherwise the current assignment stands. A same-valued address in another
// VRF is a different object and never enters the arbitration.
func (r *Resolver) Resolve(req AddressRequest) Resolution {
	addr, bits, err := splitAddress(req.Address)
	if err != nil {
		return Resolution{
			Decision: DecisionReject,
			Address:  req.Address,
			Reason:   fmt.Sprintf("unparseable address: %v", err),
		}
	}

	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
		return Resolution{
			Decision: DecisionReject,
			Address:  req.Address,
			Reason:   "loopback or link-local address",
		}
	}

	if len(req.Permitted) > 0 && !addressPermitted(addr, req.Permitted) {
		return Resolution{
			Decision: DecisionSkip,
			Address:  req.Address,
			Reason:   "address outside permitted subnets",
		}
	}

	matched := r.longestPrefix(addr, req.SiteID)

	if bits < 0 {
		if matched == nil {
			return Resolution{
				Decision: DecisionReject,
				Address:  req.Address,
				Reason:   "no prefix length and no matching prefix",
			}
		}

		bits = matchedPrefixBits(matched)
	} else if matched != nil && bits != matchedPrefixBits(matched) {
		r.logger.Warn().
			Str("address", req.Address).
			Str("prefix", matched.Str("prefix")).
			Msg("Reported prefix length disagrees with the matching prefix")
	}

	canonical := fmt.Sprintf("%s/%d", addr, bits)

	fields := netbox.Fields{
		"address":              canonical,
		"status":               "active",
		"assigned_object_type": req.IfaceKind.AssignedObjectType(),
		"assigned_object_id":   req.IfaceID,
	}

	var realm int

	if matched != nil {
		realm = matched.Ref("vrf")

		if tenant := r.inferTenant(matched); tenant != 0 {
			fields["tenant"] = tenant
		}
	}

	if realm != 0 {
		fields["vrf"] = realm
	}

	existing := r.sameRealmIP(canonical, realm)
	if existing == nil {
		return Resolution{Decision: DecisionAssign, Address: canonical, Fields: fields}
	}

	ownerID := existing.Ref("assigned_object_id")
	if ownerID == 0 || (ownerID == req.IfaceID &&
		existing.Str("assigned_object_type") == req.IfaceKind.AssignedObjectType()) {
		return Resolution{Decision: DecisionAssign, Address: canonical, Existing: existing, Fields: fields}
	}

	// Assigned elsewhere: arbitrate on the admin state of both interfaces.
	ownerEnabled := r.ownerEnabled(existing)

	switch {
	case req.Enabled && !ownerEnabled:
		r.logger.Info().
			Str("address", canonical).
			Int("previous_owner", ownerID).
			Msg("Reassigning address from disabled interface")

		return Resolution{Decision: DecisionAssign, Address: canonical, Existing: existing, Fields: fields}
	case !req.Enabled && ownerEnabled:
		return Resolution{
			Decision: DecisionSkip,
			Address:  canonical,
			Existing: existing,
			Reason:   "address held by an enabled interface",
		}
	default:
		if r.policy.ReassignOnTie {
			return Resolution{Decision: DecisionAssign, Address: canonical, Existing: existing, Fields: fields}
		}

		return Resolution{
			Decision: DecisionSkip,
			Address:  canonical,
			Existing: existing,
			Reason:   "address held by an interface in the same admin state",
		}
	}
}

// sameRealmIP finds the cached IP with this value inside the given routing
// realm (a VRF ID, or zero for VRF-less). The same value duplicated across
// realms names independent objects, so a twin in another VRF never blocks
// an assignment here.
func (r *Resolver) sameRealmIP(canonical string, realm int) *netbox.Object {
	for _, ip := range r.cache.LookupAll(netbox.KindIPAddress, netbox.AddressKey(canonical)) {
		if ip.Ref("vrf") == realm {
			return ip
		}
	}

	return nil
}

// longestPrefix finds the most specific cached prefix containing addr. The
// site-scoped pass runs first; prefixes without a site are consulted only
// when the site pass finds nothing. Ties keep the first candidate in cache
// order, so repeated runs resolve identically.
func (r *Resolver) longestPrefix(addr netip.Addr, siteID int) *netbox.Object {
	if siteID != 0 {
		if best := r.bestPrefix(addr, siteID); best != nil {
			return best
		}
	}

	return r.bestPrefix(addr, 0)
}

// bestPrefix scans prefixes assigned to the given site (0 means unassigned)
// and returns the most specific one containing addr. Strictly-greater
// comparison keeps the first candidate on equal lengths.
func (r *Resolver) bestPrefix(addr netip.Addr, siteID int) *netbox.Object {
	var (
		best     *netbox.Object
		bestBits = -1
	)

	for _, obj := range r.cache.All(netbox.KindPrefix) {
		if obj.Ref("site") != siteID {
			continue
		}

		pfx, err := netip.ParsePrefix(obj.Str("prefix"))
		if err != nil || !pfx.Contains(addr) {
			continue
		}

		if pfx.Bits() > bestBits {
			best = obj
			bestBits = pfx.Bits()
		}
	}

	return best
}

// inferTenant pulls a tenant from the prefix itself or from its VLAN.
func (r *Resolver) inferTenant(prefix *netbox.Object) int {
	if tenant := prefix.Ref("tenant"); tenant != 0 {
		return tenant
	}

	if vlanID := prefix.Ref("vlan"); vlanID != 0 {
		if vlan := r.cache.Get(netbox.KindVLAN, vlanID); vlan != nil {
			return vlan.Ref("tenant")
		}
	}

	return 0
}

// ownerEnabled looks up the admin state of the interface currently holding
// an address. Unknown owners count as enabled so we never steal from them.
func (r *Resolver) ownerEnabled(ip *netbox.Object) bool {
	ownerID := ip.Ref("assigned_object_id")

	var kind netbox.Kind

	switch ip.Str("assigned_object_type") {
	case netbox.KindInterface.AssignedObjectType():
		kind = netbox.KindInterface
	case netbox.KindVMInterface.AssignedObjectType():
		kind = netbox.KindVMInterface
	default:
		return true
	}

	owner := r.cache.Get(kind, ownerID)
	if owner == nil {
		return true
	}

	return owner.Bool("enabled", true)
}

// splitAddress parses a source address string into its host part and prefix
// length. bits is -1 when the source supplied no mask.
func splitAddress(address string) (netip.Addr, int, error) {
	address = strings.TrimSpace(address)

	if strings.ContainsRune(address, '/') {
		pfx, err := netip.ParsePrefix(address)
		if err != nil {
			return netip.Addr{}, 0, err
		}

		return pfx.Addr(), pfx.Bits(), nil
	}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.Addr{}, 0, err
	}

	return addr, -1, nil
}

func addressPermitted(addr netip.Addr, permitted []netip.Prefix) bool {
	for _, pfx := range permitted {
		if pfx.Contains(addr) {
			return true
		}
	}

	return false
}

func matchedPrefixBits(prefix *netbox.Object) int {
	pfx, err := netip.ParsePrefix(prefix.Str("prefix"))
	if err != nil {
		return 0
	}

	return pfx.Bits()
}
