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
	"sort"

	"github.com/carverauto/netsync/pkg/inventory"
	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/netbox"
)

// MatchOutcome reports how the entity matcher decided.
type MatchOutcome int

const (
	// OutcomeMatched - an existing destination object was found.
	OutcomeMatched MatchOutcome = iota
	// OutcomeNoMatch - no strategy found an existing object.
	OutcomeNoMatch
	// OutcomeAmbiguous - MAC voting found several plausible candidates and
	// declined to guess.
	OutcomeAmbiguous
	// OutcomeClaimed - the best candidate was already claimed by another
	// entity in this run.
	OutcomeClaimed
)

// Matcher maps discovered entities to existing destination objects. Each
// destination identifier is claimed by at most one entity per run.
type Matcher struct {
	cache   *inventory.Cache
	policy  Policy
	claimed map[netbox.Kind]map[int]*models.DiscoveredEntity
	logger  logger.Logger
}

// NewMatcher creates a matcher over the given cache.
func NewMatcher(cache *inventory.Cache, policy Policy, log logger.Logger) *Matcher {
	return &Matcher{
		cache:  cache,
		policy: policy,
		claimed: map[netbox.Kind]map[int]*models.DiscoveredEntity{
			netbox.KindDevice:         {},
			netbox.KindVirtualMachine: {},
		},
		logger: log,
	}
}

// Match finds the best existing destination object for the entity, in
// strict strategy order: exact name within context, interface-MAC voting,
// serial, asset tag, primary IP. An ambiguous MAC vote short-circuits:
// the matcher declines rather than guesses.
func (m *Matcher) Match(entity *models.DiscoveredEntity) (*netbox.Object, MatchOutcome) {
	kind := EntityObjectKind(entity.Kind)

	if obj := m.matchExact(kind, entity); obj != nil {
		return m.claimOutcome(obj, entity)
	}

	obj, outcome := m.matchByMACVote(kind, entity)
	if outcome == OutcomeAmbiguous {
		return nil, OutcomeAmbiguous
	}

	if obj != nil {
		return m.claimOutcome(obj, entity)
	}

	if entity.Serial != "" {
		if obj := m.cache.Lookup(kind, netbox.SerialKey(entity.Serial)); obj != nil {
			return m.claimOutcome(obj, entity)
		}
	}

	if entity.AssetTag != "" {
		if obj := m.cache.Lookup(kind, netbox.AssetTagKey(entity.AssetTag)); obj != nil {
			return m.claimOutcome(obj, entity)
		}
	}

	if entity.PrimaryIPv4 != "" {
		if obj := m.cache.Lookup(kind, netbox.PrimaryIPKey(4, entity.PrimaryIPv4)); obj != nil {
			return m.claimOutcome(obj, entity)
		}
	}

	if entity.PrimaryIPv6 != "" {
		if obj := m.cache.Lookup(kind, netbox.PrimaryIPKey(6, entity.PrimaryIPv6)); obj != nil {
			return m.claimOutcome(obj, entity)
		}
	}

	return nil, OutcomeNoMatch
}

// Claim reserves a destination object for an entity. It returns false when
// the object is already claimed by a different entity this run.
func (m *Matcher) Claim(obj *netbox.Object, entity *models.DiscoveredEntity) bool {
	claims, ok := m.claimed[obj.Kind]
	if !ok {
		return true
	}

	if owner, exists := claims[obj.ID]; exists {
		return owner == entity
	}

	claims[obj.ID] = entity

	return true
}

// IsClaimed reports whether an object was claimed this run.
func (m *Matcher) IsClaimed(obj *netbox.Object) bool {
	claims, ok := m.claimed[obj.Kind]
	if !ok {
		return false
	}

	_, exists := claims[obj.ID]

	return exists
}

func (m *Matcher) claimOutcome(obj *netbox.Object, entity *models.DiscoveredEntity) (*netbox.Object, MatchOutcome) {
	claims := m.claimed[obj.Kind]
	if owner, exists := claims[obj.ID]; exists && owner != entity {
		m.logger.Debug().
			Str("entity", entity.Name).
			Str("object", obj.DisplayName()).
			Str("claimed_by", owner.Name).
			Msg("Matched object already claimed this run")

		return obj, OutcomeClaimed
	}

	return obj, OutcomeMatched
}

// matchExact implements strategy 1: name plus site/cluster context.
func (m *Matcher) matchExact(kind netbox.Kind, entity *models.DiscoveredEntity) *netbox.Object {
	if entity.Name == "" {
		return nil
	}

	if ctxID := m.contextID(entity); ctxID != 0 {
		if obj := m.cache.Lookup(kind, netbox.NameContextKey(entity.Name, ctxID)); obj != nil {
			return obj
		}

		return nil
	}

	// No context available: a bare name match is only trusted when unique.
	candidates := m.cache.LookupAll(kind, netbox.NameKey(entity.Name))
	if len(candidates) == 1 {
		return candidates[0]
	}

	return nil
}

// matchByMACVote implements strategy 2: every cached candidate is scored by
// how many of its interfaces carry a MAC from the entity's interface set.
// With several candidates the winner must dominate the runner-up by more
// than the configured ratio.
func (m *Matcher) matchByMACVote(kind netbox.Kind, entity *models.DiscoveredEntity) (*netbox.Object, MatchOutcome) {
	ifaceKind, _ := kind.InterfaceKind()
	ownerField := kind.OwnerField()

	seen := map[string]bool{}
	votes := map[int]int{}

	for i := range entity.Interfaces {
		mac := entity.Interfaces[i].NormalizedMAC()
		if mac == "" || seen[mac] {
			continue
		}

		seen[mac] = true

		for _, iface := range m.cache.LookupAll(ifaceKind, netbox.MACKey(mac)) {
			if owner := iface.Ref(ownerField); owner != 0 {
				votes[owner]++
			}
		}
	}

	if len(votes) == 0 {
		return nil, OutcomeNoMatch
	}

	// Stable ranking: votes descending, then ID ascending.
	ids := make([]int, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		if votes[ids[i]] != votes[ids[j]] {
			return votes[ids[i]] > votes[ids[j]]
		}

		return ids[i] < ids[j]
	})

	top := ids[0]

	if len(ids) > 1 {
		second := ids[1]
		if votes[second] > 0 {
			ratio := float64(votes[top]) / float64(votes[second])
			if ratio <= m.policy.MACVoteRatio {
				m.logger.Debug().
					Str("entity", entity.Name).
					Int("top_votes", votes[top]).
					Int("second_votes", votes[second]).
					Float64("ratio", ratio).
					Msg("MAC vote ambiguous, declining to match")

				return nil, OutcomeAmbiguous
			}
		}
	}

	obj := m.cache.Get(kind, top)
	if obj == nil {
		return nil, OutcomeNoMatch
	}

	m.logger.Debug().
		Str("entity", entity.Name).
		Str("object", obj.DisplayName()).
		Int("votes", votes[top]).
		Msg("Matched by interface MAC vote")

	return obj, OutcomeMatched
}

// contextID resolves the entity's site or cluster to a cached object ID.
func (m *Matcher) contextID(entity *models.DiscoveredEntity) int {
	switch entity.Kind {
	case models.EntityVirtualMachine:
		if entity.ClusterName == "" {
			return 0
		}

		if cluster := m.cache.Lookup(netbox.KindCluster, netbox.NameKey(entity.ClusterName)); cluster != nil {
			return cluster.ID
		}
	case models.EntityDevice:
		if entity.SiteName == "" {
			return 0
		}

		if site := m.cache.Lookup(netbox.KindSite, netbox.NameKey(entity.SiteName)); site != nil {
			return site.ID
		}
	}

	return 0
}

// EntityObjectKind maps an entity kind to its destination collection.
func EntityObjectKind(kind models.EntityKind) netbox.Kind {
	if kind == models.EntityVirtualMachine {
		return netbox.KindVirtualMachine
	}

	return netbox.KindDevice
}
