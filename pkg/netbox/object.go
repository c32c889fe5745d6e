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
	"time"
)

const (
	// ProvenanceTag marks every object this tool creates or manages.
	// Objects without it are never modified or deleted.
	ProvenanceTag = "netsync"

	// OrphanTag marks managed objects that were not observed in the most
	// recent run.
	OrphanTag = "netsync-orphaned"

	// OrphanedSinceField is the custom field holding the orphan-tag
	// application time, so the grace-period clock survives restarts.
	OrphanedSinceField = "netsync_orphaned_since"
)

// SourceTag names the tag recording which configured source observed an
// object, e.g. "netsync-source-vcenter-east".
func SourceTag(source string) string {
	return ProvenanceTag + "-source-" + source
}

// Fields is the mutable attribute map of a destination object. Values
// decoded from the API keep their JSON shapes: relations arrive as nested
// maps with an "id" member, numbers as float64. Values written locally are
// plain Go ints and strings.
type Fields map[string]interface{}

// Object is a cached, typed snapshot of one NetBox record.
type Object struct {
	Kind        Kind
	ID          int
	Fields      Fields
	Tags        []string
	LastUpdated time.Time
}

// Str returns the string value of a field, or "" when unset or not a string.
func (o *Object) Str(key string) string {
	if o == nil || o.Fields == nil {
		return ""
	}

	s, _ := o.Fields[key].(string)

	return s
}

// NestedStr returns a string member of a nested relation field.
func (o *Object) NestedStr(key, nested string) string {
	if o == nil || o.Fields == nil {
		return ""
	}

	m, ok := o.Fields[key].(map[string]interface{})
	if !ok {
		return ""
	}

	s, _ := m[nested].(string)

	return s
}

// Ref resolves a relation field to the referenced object ID. It accepts the
// nested map shape the API returns, a raw number, or a locally written int.
// A missing or null relation yields 0.
func (o *Object) Ref(key string) int {
	if o == nil || o.Fields == nil {
		return 0
	}

	return refID(o.Fields[key])
}

func refID(v interface{}) int {
	switch value := v.(type) {
	case map[string]interface{}:
		return refID(value["id"])
	case float64:
		return int(value)
	case int:
		return value
	case int64:
		return int(value)
	default:
		return 0
	}
}

// Bool returns a boolean field, or def when unset.
func (o *Object) Bool(key string, def bool) bool {
	if o == nil || o.Fields == nil {
		return def
	}

	if b, ok := o.Fields[key].(bool); ok {
		return b
	}

	return def
}

// Int returns an integer field, tolerating the float64 the JSON decoder
// produces.
func (o *Object) Int(key string) int {
	if o == nil || o.Fields == nil {
		return 0
	}

	return refID(o.Fields[key])
}

func (o *Object) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

func (o *Object) AddTag(tag string) {
	if o.HasTag(tag) {
		return
	}

	o.Tags = append(o.Tags, tag)
}

func (o *Object) RemoveTag(tag string) {
	for i, t := range o.Tags {
		if t == tag {
			o.Tags = append(o.Tags[:i], o.Tags[i+1:]...)
			return
		}
	}
}

// customFields returns the custom field map, creating it when mutate is set.
func (o *Object) customFields(mutate bool) map[string]interface{} {
	m, ok := o.Fields["custom_fields"].(map[string]interface{})
	if !ok && mutate {
		if o.Fields == nil {
			o.Fields = Fields{}
		}

		m = map[string]interface{}{}
		o.Fields["custom_fields"] = m
	}

	return m
}

// OrphanedSince returns the orphan-tag application time, or the zero time
// when the object is not marked orphaned.
func (o *Object) OrphanedSince() time.Time {
	m := o.customFields(false)
	if m == nil {
		return time.Time{}
	}

	s, _ := m[OrphanedSinceField].(string)
	if s == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}

	return t
}

// SetOrphanedSince records the orphan clock start.
func (o *Object) SetOrphanedSince(t time.Time) {
	o.customFields(true)[OrphanedSinceField] = t.UTC().Format(time.RFC3339)
}

// ClearOrphanedSince resets the orphan clock.
func (o *Object) ClearOrphanedSince() {
	if m := o.customFields(false); m != nil {
		m[OrphanedSinceField] = nil
	}
}

// DisplayName renders a human-readable identifier for log output.
func (o *Object) DisplayName() string {
	switch o.Kind {
	case KindIPAddress:
		return o.Str("address")
	case KindPrefix:
		return o.Str("prefix")
	case KindDeviceType:
		return o.Str("model")
	default:
		if name := o.Str("name"); name != "" {
			return name
		}

		return o.Str("display")
	}
}

// Apply merges a patch into the object's field map.
func (o *Object) Apply(patch Fields) {
	if o.Fields == nil {
		o.Fields = Fields{}
	}

	for k, v := range patch {
		if k == "tags" {
			continue
		}

		o.Fields[k] = v
	}
}
