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
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/netbox"
)

func TestReportLogSurfacesAmbiguousAndSkipped(t *testing.T) {
	report := newReport("run-1", false, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	report.created(netbox.KindDevice)
	report.updated(netbox.KindIPAddress)
	report.Ambiguous = append(report.Ambiguous, "web01")
	report.SkippedAddresses = append(report.SkippedAddresses,
		"10.0.0.1/24 (web01): address held by an enabled interface")

	var buf bytes.Buffer

	report.Log(logger.NewTestLoggerWithOutput(&buf))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, float64(1), line["created"])
	assert.Equal(t, []interface{}{"web01"}, line["ambiguous_matches"])
	assert.Equal(t,
		[]interface{}{"10.0.0.1/24 (web01): address held by an enabled interface"},
		line["skipped_addresses"])
}

func TestReportLogOmitsEmptyLists(t *testing.T) {
	report := newReport("run-2", true, time.Now())

	var buf bytes.Buffer

	report.Log(logger.NewTestLoggerWithOutput(&buf))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.NotContains(t, line, "ambiguous_matches")
	assert.NotContains(t, line, "skipped_addresses")
}
