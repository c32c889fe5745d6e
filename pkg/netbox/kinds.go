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

package netbox

import (
	"fmt"
	"strings"
)

// Kind identifies one NetBox collection type. The set is closed; every
// operation dispatches through the kindSpecs table below instead of dynamic
// attribute lookup.
type Kind string

const (
	KindTag            Kind = "tag"
	KindTenant         Kind = "tenant"
	KindSite           Kind = "site"
	KindVRF            Kind = "vrf"
	KindVLAN           Kind = "vlan"
	KindPrefix         Kind = "prefix"
	KindManufacturer   Kind = "manufacturer"
	KindDeviceType     Kind = "device_type"
	KindDeviceRole     Kind = "device_role"
	KindPlatform       Kind = "platform"
	KindClusterType    Kind = "cluster_type"
	KindCluster        Kind = "cluster"
	KindDevice         Kind = "device"
	KindVirtualMachine Kind = "virtual_machine"
	KindInterface      Kind = "interface"
	KindVMInterface    Kind = "vm_interface"
	KindIPAddress      Kind = "ip_address"
)

type kindSpec struct {
	apiPath string

	// prunable kinds participate in the orphan/delete lifecycle. Shared
	// kinds (prefixes, VLANs, sites, ...) are tagged on creation but never
	// swept, since multiple entities may depend on them.
	prunable bool

	indexKeys func(o *Object) []string
}

var kindSpecs = map[Kind]kindSpec{
	KindTag:          {apiPath: "/api/extras/tags/", indexKeys: nameKeys},
	KindTenant:       {apiPath: "/api/tenancy/tenants/", indexKeys: nameKeys},
	KindSite:         {apiPath: "/api/dcim/sites/", indexKeys: nameKeys},
	KindVRF:          {apiPath: "/api/ipam/vrfs/", indexKeys: nameKeys},
	KindVLAN:         {apiPath: "/api/ipam/vlans/", indexKeys: nameKeys},
	KindPrefix:       {apiPath: "/api/ipam/prefixes/", indexKeys: prefixKeys},
	KindManufacturer: {apiPath: "/api/dcim/manufacturers/", indexKeys: nameKeys},
	KindDeviceType:   {apiPath: "/api/dcim/device-types/", indexKeys: modelKeys},
	KindDeviceRole:   {apiPath: "/api/dcim/device-roles/", indexKeys: nameKeys},
	KindPlatform:     {apiPath: "/api/dcim/platforms/", indexKeys: nameKeys},
	KindClusterType:  {apiPath: "/api/virtualization/cluster-types/", indexKeys: nameKeys},
	KindCluster:      {apiPath: "/api/virtualization/clusters/", indexKeys: nameKeys},
	KindDevice: {
		apiPath:   "/api/dcim/devices/",
		prunable:  true,
		indexKeys: func(o *Object) []string { return entityKeys(o, "site") },
	},
	KindVirtualMachine: {
		apiPath:   "/api/virtualization/virtual-machines/",
		prunable:  true,
		indexKeys: func(o *Object) []string { return entityKeys(o, "cluster") },
	},
	KindInterface:   {apiPath: "/api/dcim/interfaces/", prunable: true, indexKeys: macKeys},
	KindVMInterface: {apiPath: "/api/virtualization/interfaces/", prunable: true, indexKeys: macKeys},
	KindIPAddress:   {apiPath: "/api/ipam/ip-addresses/", prunable: true, indexKeys: addressKeys},
}

// allKinds lists every kind in cache-load order, dependencies first.
var allKinds = []Kind{
	KindTag,
	KindTenant,
	KindSite,
	KindVRF,
	KindVLAN,
	KindPrefix,
	KindManufacturer,
	KindDeviceType,
	KindDeviceRole,
	KindPlatform,
	KindClusterType,
	KindCluster,
	KindDevice,
	KindVirtualMachine,
	KindInterface,
	KindVMInterface,
	KindIPAddress,
}

// AllKinds returns every supported kind in dependency order.
func AllKinds() []Kind {
	kinds := make([]Kind, len(allKinds))
	copy(kinds, allKinds)

	return kinds
}

// PrunableKinds returns the kinds subject to the orphan lifecycle, leaf
// kinds first so deletes never race their parents.
func PrunableKinds() []Kind {
	return []Kind{KindIPAddress, KindInterface, KindVMInterface, KindDevice, KindVirtualMachine}
}

func (k Kind) APIPath() string { return kindSpecs[k].apiPath }

func (k Kind) Prunable() bool { return kindSpecs[k].prunable }

// IndexKeys derives the lookup keys the inventory cache maintains for o.
func (k Kind) IndexKeys(o *Object) []string {
	spec, ok := kindSpecs[k]
	if !ok || spec.indexKeys == nil {
		return nil
	}

	return spec.indexKeys(o)
}

// InterfaceKind returns the interface collection owned by a device or VM
// kind, and whether k owns interfaces at all.
func (k Kind) InterfaceKind() (Kind, bool) {
	switch k {
	case KindDevice:
		return KindInterface, true
	case KindVirtualMachine:
		return KindVMInterface, true
	default:
		return "", false
	}
}

// OwnerField returns the interface field referencing the owning object.
func (k Kind) OwnerField() string {
	if k == KindVMInterface || k == KindVirtualMachine {
		return "virtual_machine"
	}

	return "device"
}

// AssignedObjectType returns the NetBox content-type string used when
// assigning IP addresses to an interface of this kind.
func (k Kind) AssignedObjectType() string {
	if k == KindVMInterface {
		return "virtualization.vminterface"
	}

	return "dcim.interface"
}

// Lookup key builders. Keys are namespaced so one flat index per kind can
// hold several key families.

func NameKey(name string) string {
	return "name=" + strings.ToLower(strings.TrimSpace(name))
}

func NameContextKey(name string, contextID int) string {
	return fmt.Sprintf("%s|ctx=%d", NameKey(name), contextID)
}

func MACKey(mac string) string {
	return "mac=" + strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}

func SerialKey(serial string) string {
	return "serial=" + strings.TrimSpace(serial)
}

func AssetTagKey(tag string) string {
	return "asset=" + strings.TrimSpace(tag)
}

// AddressKey indexes an IP address by its bare value, without prefix length.
func AddressKey(address string) string {
	return "addr=" + BareAddress(address)
}

func PrimaryIPKey(family int, address string) string {
	return fmt.Sprintf("primary%d=%s", family, BareAddress(address))
}

func PrefixKey(prefix string) string {
	return "prefix=" + strings.TrimSpace(prefix)
}

// BareAddress strips a prefix length suffix from an address string.
func BareAddress(address string) string {
	if i := strings.IndexByte(address, '/'); i >= 0 {
		return address[:i]
	}

	return address
}

func nameKeys(o *Object) []string {
	name := o.Str("name")
	if name == "" {
		return nil
	}

	return []string{NameKey(name)}
}

func modelKeys(o *Object) []string {
	model := o.Str("model")
	if model == "" {
		return nil
	}

	return []string{NameKey(model)}
}

func prefixKeys(o *Object) []string {
	prefix := o.Str("prefix")
	if prefix == "" {
		return nil
	}

	return []string{PrefixKey(prefix)}
}

func macKeys(o *Object) []string {
	mac := o.Str("mac_address")
	if mac == "" {
		return nil
	}

	return []string{MACKey(mac)}
}

func addressKeys(o *Object) []string {
	address := o.Str("address")
	if address == "" {
		return nil
	}

	return []string{AddressKey(address)}
}

// entityKeys indexes a device or VM by every attribute the entity matcher
// consults: name within parent context, bare name, serial, asset tag, and
// the bare value of each primary address.
func entityKeys(o *Object, contextField string) []string {
	var keys []string

	if name := o.Str("name"); name != "" {
		keys = append(keys, NameKey(name))

		if ctx := o.Ref(contextField); ctx != 0 {
			keys = append(keys, NameContextKey(name, ctx))
		}
	}

	if serial := o.Str("serial"); serial != "" {
		keys = append(keys, SerialKey(serial))
	}

	if asset := o.Str("asset_tag"); asset != "" {
		keys = append(keys, AssetTagKey(asset))
	}

	if addr := o.NestedStr("primary_ip4", "address"); addr != "" {
		keys = append(keys, PrimaryIPKey(4, addr))
	}

	if addr := o.NestedStr("primary_ip6", "address"); addr != "" {
		keys = append(keys, PrimaryIPKey(6, addr))
	}

	return keys
}
