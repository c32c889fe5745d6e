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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errInvalidDuration = errors.New("invalid duration")

// Duration wraps time.Duration so JSON configs can use "30s" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// SourceConfig describes one configured inventory source.
type SourceConfig struct {
	Type               string            `json:"type"`     // "vsphere", "redfish", "snmp"
	Endpoint           string            `json:"endpoint"` // API endpoint or export directory
	Credentials        map[string]string `json:"credentials,omitempty"`
	InsecureSkipVerify bool              `json:"insecure_skip_verify,omitempty"`

	// SiteName assigns discovered entities without their own site context
	// to a fixed NetBox site.
	SiteName string `json:"site_name,omitempty"`

	// ClusterName assigns discovered virtual machines to a fixed cluster
	// when the source does not report one.
	ClusterName string `json:"cluster_name,omitempty"`

	// PermittedSubnets restricts which discovered addresses are synced.
	// An empty list permits everything.
	PermittedSubnets []string `json:"permitted_subnets,omitempty"`

	// Targets lists SNMP scan targets for snmp sources.
	Targets []string `json:"targets,omitempty"`

	Timeout Duration `json:"timeout,omitempty"`
}
