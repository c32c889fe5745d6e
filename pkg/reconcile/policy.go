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
	"time"
)

// Policy gathers the tunable heuristics of the engine. The defaults come
// from field experience; they are constants of policy, not of nature, so
// operators can adjust them without re-deriving the algorithms.
type Policy struct {
	// MACVoteRatio is the dominance ratio the interface-MAC voting
	// strategy requires: the top candidate must have more than this many
	// times the matching interfaces of the runner-up.
	MACVoteRatio float64 `json:"mac_vote_ratio,omitempty"`

	// ReassignOnTie moves a conflicting address to the newly discovered
	// interface when both claimants are in the same enabled state. The
	// default keeps the current owner, accepting that ambiguous cases may
	// retain a stale assignment.
	ReassignOnTie bool `json:"reassign_on_tie,omitempty"`

	// GracePeriod is how long an object must remain continuously orphaned
	// before it is deleted.
	GracePeriod time.Duration `json:"-"`

	// DeviceRole, DefaultSite, DefaultManufacturer and DefaultClusterType
	// fill required destination fields when a source does not provide them.
	DeviceRole          string `json:"device_role,omitempty"`
	DefaultSite         string `json:"default_site,omitempty"`
	DefaultManufacturer string `json:"default_manufacturer,omitempty"`
	DefaultClusterType  string `json:"default_cluster_type,omitempty"`
}

// DefaultPolicy returns the stock tuning.
func DefaultPolicy() Policy {
	return Policy{
		MACVoteRatio:        2.0,
		GracePeriod:         30 * 24 * time.Hour,
		DeviceRole:          "Server",
		DefaultSite:         "Undefined",
		DefaultManufacturer: "Generic",
		DefaultClusterType:  "Generic",
	}
}

// ParsePermittedSubnets parses the operator allow-list into prefixes.
func ParsePermittedSubnets(subnets []string) ([]netip.Prefix, error) {
	parsed := make([]netip.Prefix, 0, len(subnets))

	for _, s := range subnets {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid permitted subnet %q: %w", s, err)
		}

		parsed = append(parsed, p.Masked())
	}

	return parsed, nil
}
