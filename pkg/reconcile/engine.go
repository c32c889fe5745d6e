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

// Package reconcile turns the entities discovered by source connectors into
// create, update, orphan and delete operations against the destination
// inventory. All reads go through the in-memory cache loaded at run start;
// all writes go through the destination client and are mirrored back into
// the cache so later decisions in the same run see them.
package reconcile

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/carverauto/netsync/pkg/inventory"
	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/models"
	"github.com/carverauto/netsync/pkg/netbox"
)

// RunInput carries everything one reconciliation run needs.
type RunInput struct {
	Entities []*models.DiscoveredEntity

	// PermittedSubnets restricts address sync per source name. A source
	// with no entry (or an empty list) syncs every address it reports.
	PermittedSubnets map[string][]netip.Prefix

	// Prune enables the orphan sweep. Callers disable it when any source
	// failed, so a partial run never orphans objects the failed source
	// would have confirmed.
	Prune bool
}

// Engine drives one reconciliation run.
type Engine struct {
	client    netbox.Client
	cache     *inventory.Cache
	matcher   *Matcher
	resolver  *Resolver
	lifecycle *Lifecycle
	policy    Policy
	clock     Clock
	dryRun    bool
	logger    logger.Logger
}

// NewEngine wires the matcher, resolver and lifecycle manager over a loaded
// cache.
func NewEngine(client netbox.Client, cache *inventory.Cache, policy Policy, clock Clock, dryRun bool, log logger.Logger) *Engine {
	return &Engine{
		client:    client,
		cache:     cache,
		matcher:   NewMatcher(cache, policy, log),
		resolver:  NewResolver(cache, policy, log),
		lifecycle: NewLifecycle(cache, client, clock, policy, log),
		policy:    policy,
		clock:     clock,
		dryRun:    dryRun,
		logger:    log.WithComponent("reconcile"),
	}
}

// Run reconciles all discovered entities and, when permitted, sweeps
// orphans. Active entities are processed before inactive ones so that live
// data wins identity claims over powered-off duplicates.
func (e *Engine) Run(ctx context.Context, input RunInput) (*Report, error) {
	report := newReport(uuid.New().String(), e.dryRun, e.clock.Now())

	e.logger.Info().
		Str("run_id", report.RunID).
		Int("entities", len(input.Entities)).
		Bool("dry_run", e.dryRun).
		Msg("Starting reconciliation run")

	if err := e.ensureTags(ctx); err != nil {
		return report, err
	}

	entities := make([]*models.DiscoveredEntity, len(input.Entities))
	copy(entities, input.Entities)
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Active && !entities[j].Active
	})

	for _, entity := range entities {
		permitted := input.PermittedSubnets[entity.SourceName]

		if err := e.processEntity(ctx, entity, permitted, report); err != nil {
			return report, fmt.Errorf("reconciling %q: %w", entity.Name, err)
		}

		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	if input.Prune {
		if err := e.lifecycle.Sweep(ctx, report); err != nil {
			return report, err
		}
	} else {
		e.logger.Warn().Msg("Skipping orphan sweep, run is partial")
	}

	report.Log(e.logger)

	return report, nil
}

func (e *Engine) processEntity(ctx context.Context, entity *models.DiscoveredEntity, permitted []netip.Prefix, report *Report) error {
	obj, outcome := e.matcher.Match(entity)

	switch outcome {
	case OutcomeAmbiguous:
		// No decision is not an error: the tied candidates stay
		// untouched and the entity gets a fresh object.
		report.Ambiguous = append(report.Ambiguous, entity.Name)

		e.logger.Warn().
			Str("entity", entity.Name).
			Str("source", entity.SourceName).
			Msg("Ambiguous match, creating a new object")

		created, err := e.createEntity(ctx, entity, report)
		if err != nil {
			return err
		}

		obj = created
	case OutcomeClaimed:
		e.logger.Debug().
			Str("entity", entity.Name).
			Str("source", entity.SourceName).
			Msg("Skipping entity, destination object already claimed this run")

		return nil
	case OutcomeNoMatch:
		created, err := e.createEntity(ctx, entity, report)
		if err != nil {
			return err
		}

		obj = created
	case OutcomeMatched:
		if err := e.updateEntity(ctx, obj, entity, report); err != nil {
			return err
		}
	}

	e.matcher.Claim(obj, entity)
	e.lifecycle.Touch(obj)

	return e.reconcileInterfaces(ctx, obj, entity, permitted, report)
}

// createEntity builds a new device or virtual machine with its full context
// chain (site, role, type or cluster) ensured first.
func (e *Engine) createEntity(ctx context.Context, entity *models.DiscoveredEntity, report *Report) (*netbox.Object, error) {
	kind := EntityObjectKind(entity.Kind)

	fields := netbox.Fields{
		"name":   entity.Name,
		"status": entityStatus(entity),
	}

	if entity.Serial != "" {
		fields["serial"] = entity.Serial
	}

	if entity.AssetTag != "" {
		fields["asset_tag"] = entity.AssetTag
	}

	if entity.Comments != "" {
		fields["comments"] = entity.Comments
	}

	if entity.Platform != "" {
		platform, err := e.ensureNamed(ctx, netbox.KindPlatform, entity.Platform, nil)
		if err != nil {
			return nil, err
		}

		fields["platform"] = platform.ID
	}

	switch kind {
	case netbox.KindDevice:
		site, err := e.ensureSite(ctx, entity.SiteName)
		if err != nil {
			return nil, err
		}

		role, err := e.ensureNamed(ctx, netbox.KindDeviceRole, e.policy.DeviceRole, netbox.Fields{"color": "9e9e9e"})
		if err != nil {
			return nil, err
		}

		deviceType, err := e.ensureDeviceType(ctx, entity.Manufacturer, entity.Model)
		if err != nil {
			return nil, err
		}

		fields["site"] = site.ID
		fields["role"] = role.ID
		fields["device_type"] = deviceType.ID
	case netbox.KindVirtualMachine:
		cluster, err := e.ensureCluster(ctx, entity.ClusterName, entity.SiteName)
		if err != nil {
			return nil, err
		}

		fields["cluster"] = cluster.ID
	}

	tags, err := e.entityTags(ctx, entity)
	if err != nil {
		return nil, err
	}

	obj, err := e.client.Create(ctx, kind, fields, tags)
	if err != nil {
		return nil, fmt.Errorf("creating %s %q: %w", kind, entity.Name, err)
	}

	e.cache.Insert(obj)
	report.created(kind)

	e.logger.Info().
		Str("entity", entity.Name).
		Str("kind", string(kind)).
		Int("id", obj.ID).
		Msg("Created destination object")

	return obj, nil
}

// updateEntity patches a matched object. Identity fields the source owns
// (name, status, context) are overwritten; descriptive fields (serial,
// asset tag, comments) are filled only when the destination has none, so
// operator edits survive.
func (e *Engine) updateEntity(ctx context.Context, obj *netbox.Object, entity *models.DiscoveredEntity, report *Report) error {
	patch := netbox.Fields{}

	if obj.Str("name") != entity.Name && entity.Name != "" {
		patch["name"] = entity.Name
	}

	if status := entityStatus(entity); objStatus(obj) != status {
		patch["status"] = status
	}

	if entity.Serial != "" && obj.Str("serial") == "" {
		patch["serial"] = entity.Serial
	}

	if entity.AssetTag != "" && obj.Str("asset_tag") == "" {
		patch["asset_tag"] = entity.AssetTag
	}

	if entity.Comments != "" && obj.Str("comments") == "" {
		patch["comments"] = entity.Comments
	}

	switch obj.Kind {
	case netbox.KindDevice:
		if entity.SiteName != "" {
			site, err := e.ensureSite(ctx, entity.SiteName)
			if err != nil {
				return err
			}

			if obj.Ref("site") != site.ID {
				patch["site"] = site.ID
			}
		}
	case netbox.KindVirtualMachine:
		if entity.ClusterName != "" {
			cluster, err := e.ensureCluster(ctx, entity.ClusterName, entity.SiteName)
			if err != nil {
				return err
			}

			if obj.Ref("cluster") != cluster.ID {
				patch["cluster"] = cluster.ID
			}
		}
	}

	tags, err := e.entityTags(ctx, entity)
	if err != nil {
		return err
	}

	tagged := true

	for _, tag := range tags {
		if !obj.HasTag(tag) {
			obj.AddTag(tag)

			tagged = false
		}
	}

	if len(patch) == 0 && tagged {
		return nil
	}

	if err := e.client.Update(ctx, obj.Kind, obj.ID, patch, obj.Tags); err != nil {
		return fmt.Errorf("updating %s: %w", obj.DisplayName(), err)
	}

	obj.Apply(patch)
	e.cache.Reindex(obj)
	report.updated(obj.Kind)

	return nil
}

// reconcileInterfaces pairs, writes and touches the entity's interfaces and
// addresses, then promotes the primary IPs.
func (e *Engine) reconcileInterfaces(ctx context.Context, owner *netbox.Object, entity *models.DiscoveredEntity, permitted []netip.Prefix, report *Report) error {
	ifaceKind, ok := owner.Kind.InterfaceKind()
	if !ok {
		return nil
	}

	existing := e.cache.InterfacesOf(owner)
	matched := MatchInterfaces(entity.Interfaces, existing)

	primaryIDs := map[string]int{}

	for _, pair := range matched.Pairs {
		iface, err := e.writeInterface(ctx, ifaceKind, owner, pair, report)
		if err != nil {
			return err
		}

		e.lifecycle.Touch(iface)

		for _, address := range pair.Discovered.Addresses {
			ipID, err := e.writeAddress(ctx, ifaceKind, iface, pair.Discovered, address, entity, permitted, report)
			if err != nil {
				return err
			}

			if ipID != 0 {
				primaryIDs[netbox.BareAddress(address)] = ipID
			}
		}
	}

	return e.promotePrimaryIPs(ctx, owner, entity, primaryIDs, report)
}

func (e *Engine) writeInterface(ctx context.Context, kind netbox.Kind, owner *netbox.Object, pair InterfacePair, report *Report) (*netbox.Object, error) {
	disc := pair.Discovered

	if pair.Existing == nil {
		fields := netbox.Fields{
			"name":    disc.Name,
			"enabled": disc.Enabled,
		}
		fields[owner.Kind.OwnerField()] = owner.ID

		if kind == netbox.KindInterface {
			fields["type"] = interfaceType(disc)
		}

		if mac := disc.NormalizedMAC(); mac != "" {
			fields["mac_address"] = mac
		}

		if disc.MTU > 0 {
			fields["mtu"] = disc.MTU
		}

		if disc.Description != "" {
			fields["description"] = disc.Description
		}

		iface, err := e.client.Create(ctx, kind, fields, []string{netbox.ProvenanceTag})
		if err != nil {
			return nil, fmt.Errorf("creating interface %q on %s: %w", disc.Name, owner.DisplayName(), err)
		}

		e.cache.Insert(iface)
		report.created(kind)

		return iface, nil
	}

	iface := pair.Existing
	patch := netbox.Fields{}

	if iface.Str("name") != disc.Name {
		patch["name"] = disc.Name
	}

	if mac := disc.NormalizedMAC(); mac != "" && models.NormalizeMAC(iface.Str("mac_address")) != mac {
		patch["mac_address"] = mac
	}

	if iface.Bool("enabled", true) != disc.Enabled {
		patch["enabled"] = disc.Enabled
	}

	if disc.MTU > 0 && iface.Int("mtu") != disc.MTU {
		patch["mtu"] = disc.MTU
	}

	if disc.Description != "" && iface.Str("description") == "" {
		patch["description"] = disc.Description
	}

	tagged := iface.HasTag(netbox.ProvenanceTag)
	if !tagged {
		iface.AddTag(netbox.ProvenanceTag)
	}

	if len(patch) == 0 && tagged {
		return iface, nil
	}

	if err := e.client.Update(ctx, kind, iface.ID, patch, iface.Tags); err != nil {
		return nil, fmt.Errorf("updating interface %s: %w", iface.DisplayName(), err)
	}

	iface.Apply(patch)
	e.cache.Reindex(iface)
	report.updated(kind)

	return iface, nil
}

// writeAddress resolves and writes one discovered address. It returns the
// destination IP object ID when the address ends up assigned to iface, or
// zero when it was skipped or rejected.
func (e *Engine) writeAddress(ctx context.Context, ifaceKind netbox.Kind, iface *netbox.Object, disc *models.InterfaceDescriptor, address string, entity *models.DiscoveredEntity, permitted []netip.Prefix, report *Report) (int, error) {
	var siteID int

	if entity.SiteName != "" {
		if site := e.cache.Lookup(netbox.KindSite, netbox.NameKey(entity.SiteName)); site != nil {
			siteID = site.ID
		}
	}

	res := e.resolver.Resolve(AddressRequest{
		Address:   address,
		Enabled:   disc.Enabled,
		SiteID:    siteID,
		IfaceID:   iface.ID,
		IfaceKind: ifaceKind,
		Permitted: permitted,
	})

	switch res.Decision {
	case DecisionReject:
		report.SkippedAddresses = append(report.SkippedAddresses,
			fmt.Sprintf("%s (%s): %s", address, entity.Name, res.Reason))

		e.logger.Warn().
			Str("address", address).
			Str("entity", entity.Name).
			Str("reason", res.Reason).
			Msg("Rejected address")

		return 0, nil
	case DecisionSkip:
		report.SkippedAddresses = append(report.SkippedAddresses,
			fmt.Sprintf("%s (%s): %s", address, entity.Name, res.Reason))

		if res.Existing != nil {
			// The address stays with its current owner but is
			// still live somewhere; keep it out of the sweep.
			e.lifecycle.Touch(res.Existing)
		}

		return 0, nil
	}

	if res.Existing == nil {
		ip, err := e.client.Create(ctx, netbox.KindIPAddress, res.Fields, []string{netbox.ProvenanceTag})
		if err != nil {
			return 0, fmt.Errorf("creating address %s: %w", res.Address, err)
		}

		e.cache.Insert(ip)
		report.created(netbox.KindIPAddress)
		e.lifecycle.Touch(ip)

		return ip.ID, nil
	}

	ip := res.Existing
	patch := netbox.Fields{}

	for key, want := range res.Fields {
		if !fieldEqual(ip, key, want) {
			patch[key] = want
		}
	}

	tagged := ip.HasTag(netbox.ProvenanceTag)
	if !tagged {
		ip.AddTag(netbox.ProvenanceTag)
	}

	if len(patch) > 0 || !tagged {
		if err := e.client.Update(ctx, netbox.KindIPAddress, ip.ID, patch, ip.Tags); err != nil {
			return 0, fmt.Errorf("updating address %s: %w", res.Address, err)
		}

		ip.Apply(patch)
		e.cache.Reindex(ip)
		report.updated(netbox.KindIPAddress)
	}

	e.lifecycle.Touch(ip)

	return ip.ID, nil
}

// promotePrimaryIPs points the entity's primary_ip4/primary_ip6 at the IP
// objects written this run.
func (e *Engine) promotePrimaryIPs(ctx context.Context, owner *netbox.Object, entity *models.DiscoveredEntity, written map[string]int, report *Report) error {
	patch := netbox.Fields{}

	if entity.PrimaryIPv4 != "" {
		if id, ok := written[netbox.BareAddress(entity.PrimaryIPv4)]; ok {
			if current := e.primaryIPID(owner, "primary_ip4"); current != id {
				patch["primary_ip4"] = id
			}
		}
	}

	if entity.PrimaryIPv6 != "" {
		if id, ok := written[netbox.BareAddress(entity.PrimaryIPv6)]; ok {
			if current := e.primaryIPID(owner, "primary_ip6"); current != id {
				patch["primary_ip6"] = id
			}
		}
	}

	if len(patch) == 0 {
		return nil
	}

	if err := e.client.Update(ctx, owner.Kind, owner.ID, patch, owner.Tags); err != nil {
		return fmt.Errorf("promoting primary IP on %s: %w", owner.DisplayName(), err)
	}

	owner.Apply(patch)
	e.cache.Reindex(owner)
	report.updated(owner.Kind)

	return nil
}

func (e *Engine) primaryIPID(owner *netbox.Object, field string) int {
	return owner.Ref(field)
}

// entityTags returns the tags stamped on a device or virtual machine: the
// provenance tag plus a per-source tag, created on first use.
func (e *Engine) entityTags(ctx context.Context, entity *models.DiscoveredEntity) ([]string, error) {
	tags := []string{netbox.ProvenanceTag}

	if entity.SourceName == "" {
		return tags, nil
	}

	tag := netbox.SourceTag(entity.SourceName)
	if _, err := e.ensureNamed(ctx, netbox.KindTag, tag, nil); err != nil {
		return nil, err
	}

	return append(tags, tag), nil
}

// ensureTags creates the provenance and orphan tags once per run.
func (e *Engine) ensureTags(ctx context.Context) error {
	for _, tag := range []string{netbox.ProvenanceTag, netbox.OrphanTag} {
		if _, err := e.ensureNamed(ctx, netbox.KindTag, tag, nil); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) ensureSite(ctx context.Context, name string) (*netbox.Object, error) {
	if name == "" {
		name = e.policy.DefaultSite
	}

	return e.ensureNamed(ctx, netbox.KindSite, name, nil)
}

func (e *Engine) ensureCluster(ctx context.Context, name, siteName string) (*netbox.Object, error) {
	if obj := e.cache.Lookup(netbox.KindCluster, netbox.NameKey(name)); obj != nil {
		return obj, nil
	}

	clusterType, err := e.ensureNamed(ctx, netbox.KindClusterType, e.policy.DefaultClusterType, nil)
	if err != nil {
		return nil, err
	}

	fields := netbox.Fields{"name": name, "type": clusterType.ID}

	if siteName != "" {
		site, err := e.ensureSite(ctx, siteName)
		if err != nil {
			return nil, err
		}

		fields["site"] = site.ID
	}

	obj, err := e.client.Create(ctx, netbox.KindCluster, fields, []string{netbox.ProvenanceTag})
	if err != nil {
		return nil, fmt.Errorf("creating cluster %q: %w", name, err)
	}

	e.cache.Insert(obj)

	return obj, nil
}

func (e *Engine) ensureDeviceType(ctx context.Context, manufacturer, model string) (*netbox.Object, error) {
	if manufacturer == "" {
		manufacturer = e.policy.DefaultManufacturer
	}

	if model == "" {
		model = "Unknown"
	}

	maker, err := e.ensureNamed(ctx, netbox.KindManufacturer, manufacturer, nil)
	if err != nil {
		return nil, err
	}

	if obj := e.cache.Lookup(netbox.KindDeviceType, netbox.NameKey(model)); obj != nil {
		return obj, nil
	}

	fields := netbox.Fields{
		"manufacturer": maker.ID,
		"model":        model,
		"slug":         Slugify(model),
	}

	obj, err := e.client.Create(ctx, netbox.KindDeviceType, fields, []string{netbox.ProvenanceTag})
	if err != nil {
		return nil, fmt.Errorf("creating device type %q: %w", model, err)
	}

	e.cache.Insert(obj)

	return obj, nil
}

// ensureNamed gets or creates a simple named object (site, tag, role,
// platform, manufacturer, cluster type). extra fields are merged into the
// create payload.
func (e *Engine) ensureNamed(ctx context.Context, kind netbox.Kind, name string, extra netbox.Fields) (*netbox.Object, error) {
	if obj := e.cache.Lookup(kind, netbox.NameKey(name)); obj != nil {
		return obj, nil
	}

	fields := netbox.Fields{"name": name, "slug": Slugify(name)}
	for k, v := range extra {
		fields[k] = v
	}

	obj, err := e.client.Create(ctx, kind, fields, []string{netbox.ProvenanceTag})
	if err != nil {
		return nil, fmt.Errorf("creating %s %q: %w", kind, name, err)
	}

	e.cache.Insert(obj)

	e.logger.Debug().
		Str("kind", string(kind)).
		Str("name", name).
		Msg("Created supporting object")

	return obj, nil
}

func entityStatus(entity *models.DiscoveredEntity) string {
	if entity.Active {
		return "active"
	}

	return "offline"
}

func objStatus(obj *netbox.Object) string {
	if s := obj.NestedStr("status", "value"); s != "" {
		return s
	}

	return obj.Str("status")
}

func interfaceType(disc *models.InterfaceDescriptor) string {
	if disc.Virtual {
		return "virtual"
	}

	return "other"
}

// fieldEqual compares an existing object's field against a desired plain
// value, unwrapping nested refs.
func fieldEqual(obj *netbox.Object, key string, want interface{}) bool {
	switch v := want.(type) {
	case int:
		return obj.Ref(key) == v
	case string:
		if s := obj.NestedStr(key, "value"); s != "" {
			return s == v
		}

		return obj.Str(key) == v
	case bool:
		return obj.Bool(key, !v) == v
	default:
		return false
	}
}

// Slugify renders a NetBox slug from a display name.
func Slugify(name string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	return strings.Trim(b.String(), "-")
}
