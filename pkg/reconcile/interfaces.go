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
	"strings"

	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/netbox"
)

// InterfacePair binds a discovered interface to the existing object it will
// update. Existing is nil when the interface must be created.
type InterfacePair struct {
	Discovered *models.InterfaceDescriptor
	Existing   *netbox.Object
}

// InterfaceMatchResult carries the pairing decision for one entity.
type InterfaceMatchResult struct {
	Pairs []InterfacePair

	// Stale holds existing interfaces no discovered interface claimed.
	Stale []*netbox.Object
}

// MatchInterfaces pairs an entity's discovered interfaces with the existing
// interfaces of its matched destination object. Strategies run in order and
// each interface on either side is consumed at most once:
//
//  1. exact name (case-insensitive)
//  2. MAC, same virtual/physical kind
//  3. MAC, any kind
//  4. positional: leftover lists sorted by name and zipped
//
// The positional pass keeps renamed interfaces attached to their address
// history instead of deleting and recreating them.
func MatchInterfaces(discovered []models.InterfaceDescriptor, existing []*netbox.Object) InterfaceMatchResult {
	var result InterfaceMatchResult

	usedExisting := make(map[int]bool, len(existing))
	usedDiscovered := make(map[int]bool, len(discovered))

	pair := func(di int, obj *netbox.Object) {
		usedDiscovered[di] = true
		usedExisting[obj.ID] = true
		result.Pairs = append(result.Pairs, InterfacePair{Discovered: &discovered[di], Existing: obj})
	}

	// Pass 1: exact name.
	byName := make(map[string]*netbox.Object, len(existing))
	for _, obj := range existing {
		if name := strings.ToLower(obj.Str("name")); name != "" {
			if _, dup := byName[name]; !dup {
				byName[name] = obj
			}
		}
	}

	for di := range discovered {
		name := strings.ToLower(discovered[di].Name)
		if obj, ok := byName[name]; ok && !usedExisting[obj.ID] {
			pair(di, obj)
		}
	}

	// Pass 2 and 3: MAC, first restricted to the same virtual/physical
	// kind, then unrestricted. A shared MAC across bond members otherwise
	// steals the physical slot for a virtual interface.
	for _, sameKind := range []bool{true, false} {
		for di := range discovered {
			if usedDiscovered[di] {
				continue
			}

			mac := discovered[di].NormalizedMAC()
			if mac == "" {
				continue
			}

			for _, obj := range existing {
				if usedExisting[obj.ID] {
					continue
				}

				if models.NormalizeMAC(obj.Str("mac_address")) != mac {
					continue
				}

				if sameKind && isVirtualInterface(obj) != discovered[di].Virtual {
					continue
				}

				pair(di, obj)

				break
			}
		}
	}

	// Pass 4: positional fallback. Both leftover lists sorted by name and
	// zipped index by index.
	var leftDiscovered []int

	for di := range discovered {
		if !usedDiscovered[di] {
			leftDiscovered = append(leftDiscovered, di)
		}
	}

	sort.Slice(leftDiscovered, func(i, j int) bool {
		return discovered[leftDiscovered[i]].Name < discovered[leftDiscovered[j]].Name
	})

	var leftExisting []*netbox.Object

	for _, obj := range existing {
		if !usedExisting[obj.ID] {
			leftExisting = append(leftExisting, obj)
		}
	}

	sort.Slice(leftExisting, func(i, j int) bool {
		return leftExisting[i].Str("name") < leftExisting[j].Str("name")
	})

	for i, di := range leftDiscovered {
		if i < len(leftExisting) {
			pair(di, leftExisting[i])
		} else {
			result.Pairs = append(result.Pairs, InterfacePair{Discovered: &discovered[di]})
		}
	}

	for _, obj := range leftExisting[min(len(leftDiscovered), len(leftExisting)):] {
		result.Stale = append(result.Stale, obj)
	}

	return result
}

// isVirtualInterface reports whether an existing interface is virtual. VM
// interfaces always are; device interfaces carry an explicit type.
func isVirtualInterface(obj *netbox.Object) bool {
	if obj.Kind == netbox.KindVMInterface {
		return true
	}

	return obj.NestedStr("type", "value") == "virtual"
}
