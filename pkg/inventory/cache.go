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

// Package inventory holds the in-memory snapshot of the destination
// inventory that every matching decision reads from. The cache is built
// once per run; afterwards all destination reads go through its indices,
// which are maintained incrementally as the run creates and updates
// objects.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/netbox"
)

// Cache indexes every relevant destination collection by ID and by the
// lookup keys each kind declares.
type Cache struct {
	byID     map[netbox.Kind]map[int]*netbox.Object
	byKey    map[netbox.Kind]map[string][]*netbox.Object
	keysByID map[netbox.Kind]map[int][]string
	order    map[netbox.Kind][]int

	// children indexes interfaces by their owner, and addresses by their
	// assigned interface.
	children map[netbox.Kind]map[int][]*netbox.Object

	logger logger.Logger
}

// New returns an empty cache. Tests construct a fresh cache per case and
// populate it with Insert.
func New(log logger.Logger) *Cache {
	c := &Cache{
		byID:     make(map[netbox.Kind]map[int]*netbox.Object),
		byKey:    make(map[netbox.Kind]map[string][]*netbox.Object),
		keysByID: make(map[netbox.Kind]map[int][]string),
		order:    make(map[netbox.Kind][]int),
		children: make(map[netbox.Kind]map[int][]*netbox.Object),
		logger:   log,
	}

	for _, kind := range netbox.AllKinds() {
		c.byID[kind] = make(map[int]*netbox.Object)
		c.byKey[kind] = make(map[string][]*netbox.Object)
		c.keysByID[kind] = make(map[int][]string)
		c.children[kind] = make(map[int][]*netbox.Object)
	}

	return c
}

// Load fetches every supported collection and builds the indices. A read
// failure for any collection aborts the whole load: matching decisions
// depend on completeness, so there are no partial-cache runs.
func Load(ctx context.Context, client netbox.Client, log logger.Logger) (*Cache, error) {
	c := New(log)

	for _, kind := range netbox.AllKinds() {
		objects, err := client.List(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("cache load aborted: %w", err)
		}

		// API pagination order is not guaranteed to be stable across
		// runs; sort by ID so iteration order is deterministic.
		sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })

		for _, obj := range objects {
			c.Insert(obj)
		}

		log.Debug().Str("kind", string(kind)).Int("count", len(objects)).Msg("Cached collection")
	}

	return c, nil
}

// Insert adds a new object to all indices. Later lookups in the same run
// see it immediately.
func (c *Cache) Insert(o *netbox.Object) {
	if _, exists := c.byID[o.Kind][o.ID]; exists {
		c.Reindex(o)
		return
	}

	c.byID[o.Kind][o.ID] = o
	c.order[o.Kind] = append(c.order[o.Kind], o.ID)
	c.indexKeys(o)
	c.indexParent(o)
}

// Reindex recomputes the lookup keys of an object after its fields changed.
func (c *Cache) Reindex(o *netbox.Object) {
	for _, key := range c.keysByID[o.Kind][o.ID] {
		bucket := c.byKey[o.Kind][key]
		for i, candidate := range bucket {
			if candidate == o {
				c.byKey[o.Kind][key] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
	}

	c.removeParent(o)
	c.indexKeys(o)
	c.indexParent(o)
}

func (c *Cache) indexKeys(o *netbox.Object) {
	keys := o.Kind.IndexKeys(o)
	c.keysByID[o.Kind][o.ID] = keys

	for _, key := range keys {
		c.byKey[o.Kind][key] = append(c.byKey[o.Kind][key], o)
	}
}

func (c *Cache) indexParent(o *netbox.Object) {
	parent := parentID(o)
	if parent == 0 {
		return
	}

	c.children[o.Kind][parent] = append(c.children[o.Kind][parent], o)
}

func (c *Cache) removeParent(o *netbox.Object) {
	for parent, bucket := range c.children[o.Kind] {
		for i, candidate := range bucket {
			if candidate == o {
				c.children[o.Kind][parent] = append(bucket[:i], bucket[i+1:]...)
				return
			}
		}
	}
}

func parentID(o *netbox.Object) int {
	switch o.Kind {
	case netbox.KindInterface:
		return o.Ref("device")
	case netbox.KindVMInterface:
		return o.Ref("virtual_machine")
	case netbox.KindIPAddress:
		return o.Ref("assigned_object_id")
	default:
		return 0
	}
}

// Get returns the object with the given ID, or nil.
func (c *Cache) Get(kind netbox.Kind, id int) *netbox.Object {
	return c.byID[kind][id]
}

// Lookup returns the first object indexed under key, or nil.
func (c *Cache) Lookup(kind netbox.Kind, key string) *netbox.Object {
	bucket := c.byKey[kind][key]
	if len(bucket) == 0 {
		return nil
	}

	return bucket[0]
}

// LookupAll returns every object indexed under key, in insertion order.
func (c *Cache) LookupAll(kind netbox.Kind, key string) []*netbox.Object {
	return c.byKey[kind][key]
}

// All returns every cached object of the kind in stable order.
func (c *Cache) All(kind netbox.Kind) []*netbox.Object {
	ids := c.order[kind]
	objects := make([]*netbox.Object, 0, len(ids))

	for _, id := range ids {
		if o, ok := c.byID[kind][id]; ok {
			objects = append(objects, o)
		}
	}

	return objects
}

// Remove drops an object from all indices after it was deleted from the
// destination.
func (c *Cache) Remove(o *netbox.Object) {
	if _, exists := c.byID[o.Kind][o.ID]; !exists {
		return
	}

	for _, key := range c.keysByID[o.Kind][o.ID] {
		bucket := c.byKey[o.Kind][key]
		for i, candidate := range bucket {
			if candidate == o {
				c.byKey[o.Kind][key] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
	}

	c.removeParent(o)
	delete(c.keysByID[o.Kind], o.ID)
	delete(c.byID[o.Kind], o.ID)

	for i, id := range c.order[o.Kind] {
		if id == o.ID {
			c.order[o.Kind] = append(c.order[o.Kind][:i], c.order[o.Kind][i+1:]...)
			break
		}
	}
}

// InterfacesOf returns the cached interfaces owned by a device or VM.
func (c *Cache) InterfacesOf(owner *netbox.Object) []*netbox.Object {
	ifaceKind, ok := owner.Kind.InterfaceKind()
	if !ok {
		return nil
	}

	return c.children[ifaceKind][owner.ID]
}

// AddressesOf returns the cached addresses assigned to an interface.
func (c *Cache) AddressesOf(iface *netbox.Object) []*netbox.Object {
	return c.children[netbox.KindIPAddress][iface.ID]
}

// Count returns the number of cached objects of the kind.
func (c *Cache) Count(kind netbox.Kind) int {
	return len(c.byID[kind])
}
