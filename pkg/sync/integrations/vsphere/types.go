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

package vsphere

// vmSummary is one entry of GET /api/vcenter/vm.
type vmSummary struct {
	VM         string `json:"vm"`
	Name       string `json:"name"`
	PowerState string `json:"power_state"`
}

// vmDetail is the response of GET /api/vcenter/vm/{vm}.
type vmDetail struct {
	Name       string            `json:"name"`
	PowerState string            `json:"power_state"`
	GuestOS    string            `json:"guest_OS"`
	NICs       map[string]vmNIC  `json:"nics"`
	Identity   *vmIdentity       `json:"identity,omitempty"`
	Hardware   map[string]string `json:"hardware,omitempty"`
}

type vmIdentity struct {
	BIOSUUID string `json:"bios_uuid"`
}

type vmNIC struct {
	Label      string `json:"label"`
	MACAddress string `json:"mac_address"`
	State      string `json:"state"`
	Type       string `json:"type"`
}

// guestInterface is one entry of
// GET /api/vcenter/vm/{vm}/guest/networking/interfaces.
type guestInterface struct {
	MACAddress string   `json:"mac_address"`
	IP         *guestIP `json:"ip,omitempty"`
}

type guestIP struct {
	IPAddresses []guestIPAddress `json:"ip_addresses"`
}

type guestIPAddress struct {
	IPAddress    string `json:"ip_address"`
	PrefixLength int    `json:"prefix_length"`
	State        string `json:"state"`
}
