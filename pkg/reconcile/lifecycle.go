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
	"context"
	"fmt"

	"github.com/carverauto/netsync/pkg/inventory"
	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/netbox"
)

// Lifecycle tracks which destination objects the current run confirmed and
// sweeps the rest through the orphan grace period. Only objects carrying
// the provenance tag are ever considered; everything else in the
// destination belongs to other tooling and is left alone.
//
// The orphan timestamp lives in a destination custom field, so the grace
// period survives process restarts without local state.
type Lifecycle struct {
	cache   *inventory.Cache
	client  netbox.Client
	clock   Clock
	policy  Policy
	logger  logger.Logger
	touched map[netbox.Kind]map[int]bool
}

// NewLifecycle creates a lifecycle manager for one run.
func NewLifecycle(cache *inventory.Cache, client netbox.Client, clock Clock, policy Policy, log logger.Logger) *Lifecycle {
	return &Lifecycle{
		cache:   cache,
		client:  client,
		clock:   clock,
		policy:  policy,
		logger:  log,
		touched: map[netbox.Kind]map[int]bool{},
	}
}

// Touch marks an object as confirmed by this run.
func (l *Lifecycle) Touch(obj *netbox.Object) {
	l.TouchID(obj.Kind, obj.ID)
}

// TouchID marks one destination identifier as confirmed by this run.
func (l *Lifecycle) TouchID(kind netbox.Kind, id int) {
	set, ok := l.touched[kind]
	if !ok {
		set = map[int]bool{}
		l.touched[kind] = set
	}

	set[id] = true
}

// Touched reports whether the object was confirmed this run.
func (l *Lifecycle) Touched(obj *netbox.Object) bool {
	return l.touched[obj.Kind][obj.ID]
}

// Sweep walks every prunable, provenance-tagged object and advances its
// lifecycle: confirmed objects shed any orphan mark, unconfirmed objects
// gain one, and objects orphaned longer than the grace period are deleted.
// Leaf kinds are swept before their parents so deletes never leave
// dangling children.
func (l *Lifecycle) Sweep(ctx context.Context, report *Report) error {
	now := l.clock.Now()

	for _, kind := range netbox.PrunableKinds() {
		for _, obj := range l.cache.All(kind) {
			if !obj.HasTag(netbox.ProvenanceTag) {
				continue
			}

			if l.Touched(obj) {
				if err := l.revive(ctx, obj); err != nil {
					return err
				}

				continue
			}

			if !obj.HasTag(netbox.OrphanTag) {
				if err := l.markOrphaned(ctx, obj, report); err != nil {
					return err
				}

				continue
			}

			since := obj.OrphanedSince()
			if since.IsZero() {
				// Tag present but no timestamp: an older run or a
				// manual edit. Start the clock now instead of
				// deleting on sight.
				if err := l.markOrphaned(ctx, obj, report); err != nil {
					return err
				}

				continue
			}

			if now.Sub(since) >= l.policy.GracePeriod {
				if err := l.deleteOrphan(ctx, obj, report); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// revive clears the orphan mark from an object the run confirmed.
func (l *Lifecycle) revive(ctx context.Context, obj *netbox.Object) error {
	if !obj.HasTag(netbox.OrphanTag) {
		return nil
	}

	obj.RemoveTag(netbox.OrphanTag)
	obj.ClearOrphanedSince()

	fields := netbox.Fields{"custom_fields": obj.Fields["custom_fields"]}

	if err := l.client.Update(ctx, obj.Kind, obj.ID, fields, obj.Tags); err != nil {
		return fmt.Errorf("reviving %s: %w", obj.DisplayName(), err)
	}

	l.logger.Info().
		Str("object", obj.DisplayName()).
		Str("kind", string(obj.Kind)).
		Msg("Cleared orphan mark on confirmed object")

	return nil
}

func (l *Lifecycle) markOrphaned(ctx context.Context, obj *netbox.Object, report *Report) error {
	obj.AddTag(netbox.OrphanTag)
	obj.SetOrphanedSince(l.clock.Now())

	fields := netbox.Fields{"custom_fields": obj.Fields["custom_fields"]}

	if err := l.client.Update(ctx, obj.Kind, obj.ID, fields, obj.Tags); err != nil {
		return fmt.Errorf("orphaning %s: %w", obj.DisplayName(), err)
	}

	report.orphaned(obj.Kind)

	l.logger.Info().
		Str("object", obj.DisplayName()).
		Str("kind", string(obj.Kind)).
		Msg("Marked unconfirmed object as orphaned")

	return nil
}

func (l *Lifecycle) deleteOrphan(ctx context.Context, obj *netbox.Object, report *Report) error {
	if err := l.client.Delete(ctx, obj.Kind, obj.ID); err != nil {
		return fmt.Errorf("deleting %s: %w", obj.DisplayName(), err)
	}

	l.cache.Remove(obj)
	report.deleted(obj.Kind)

	l.logger.Info().
		Str("object", obj.DisplayName()).
		Str("kind", string(obj.Kind)).
		Dur("grace_period", l.policy.GracePeriod).
		Msg("Deleted orphan past grace period")

	return nil
}
