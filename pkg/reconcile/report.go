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
	"time"

	"github.com/carverauto/netsync/pkg/logger"
	"github.com/carverauto/netsync/pkg/netbox"
)

// Counts tracks per-kind object transitions for one run.
type Counts struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Orphaned int `json:"orphaned"`
	Deleted  int `json:"deleted"`
}

// Report summarizes one reconciliation run for the operator.
type Report struct {
	RunID     string                  `json:"run_id"`
	DryRun    bool                    `json:"dry_run"`
	StartedAt time.Time               `json:"started_at"`
	Counts    map[netbox.Kind]*Counts `json:"counts"`

	// Ambiguous lists entities the matcher declined to match, for
	// operator visibility.
	Ambiguous []string `json:"ambiguous,omitempty"`

	// SkippedAddresses lists rejected or conflict-skipped addresses with
	// their reasons.
	SkippedAddresses []string `json:"skipped_addresses,omitempty"`
}

func newReport(runID string, dryRun bool, start time.Time) *Report {
	return &Report{
		RunID:     runID,
		DryRun:    dryRun,
		StartedAt: start,
		Counts:    make(map[netbox.Kind]*Counts),
	}
}

func (r *Report) counts(kind netbox.Kind) *Counts {
	c, ok := r.Counts[kind]
	if !ok {
		c = &Counts{}
		r.Counts[kind] = c
	}

	return c
}

func (r *Report) created(kind netbox.Kind)  { r.counts(kind).Created++ }
func (r *Report) updated(kind netbox.Kind)  { r.counts(kind).Updated++ }
func (r *Report) orphaned(kind netbox.Kind) { r.counts(kind).Orphaned++ }
func (r *Report) deleted(kind netbox.Kind)  { r.counts(kind).Deleted++ }

// Total sums one transition across all kinds.
func (r *Report) Total() (created, updated, orphaned, deleted int) {
	for _, c := range r.Counts {
		created += c.Created
		updated += c.Updated
		orphaned += c.Orphaned
		deleted += c.Deleted
	}

	return created, updated, orphaned, deleted
}

// Log emits the run summary.
func (r *Report) Log(log logger.Logger) {
	created, updated, orphaned, deleted := r.Total()

	event := log.Info().
		Str("run_id", r.RunID).
		Bool("dry_run", r.DryRun).
		Dur("elapsed", time.Since(r.StartedAt)).
		Int("created", created).
		Int("updated", updated).
		Int("orphaned", orphaned).
		Int("deleted", deleted)

	if len(r.Ambiguous) > 0 {
		event = event.Strs("ambiguous_matches", r.Ambiguous)
	}

	if len(r.SkippedAddresses) > 0 {
		event = event.Strs("skipped_addresses", r.SkippedAddresses)
	}

	event.Msg("Reconciliation run completed")
}
