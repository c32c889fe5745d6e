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

// Package netbox provides the typed data-access layer for the destination
// inventory API.
package netbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/carverauto/netsync/pkg/logger"
)

var (
	errUnexpectedStatusCode = errors.New("unexpected status code")
	errTransientStatusCode  = errors.New("transient status code")
)

const defaultPageLimit = 500

//go:generate mockgen -destination=mock_client.go -package=netbox github.com/carverauto/netsync/pkg/netbox Client

// Client is the destination inventory data-access contract. All four
// operations must stay idempotent-safe under retry.
type Client interface {
	List(ctx context.Context, kind Kind) ([]*Object, error)
	Create(ctx context.Context, kind Kind, fields Fields, tags []string) (*Object, error)
	Update(ctx context.Context, kind Kind, id int, fields Fields, tags []string) error
	Delete(ctx context.Context, kind Kind, id int) error
}

// ClientConfig configures the HTTP client for the NetBox API.
type ClientConfig struct {
	Endpoint           string        `json:"endpoint"`
	APIToken           string        `json:"api_token"`
	InsecureSkipVerify bool          `json:"insecure_skip_verify,omitempty"`
	MaxRetries         uint          `json:"max_retries,omitempty"`
	Timeout            time.Duration `json:"-"`

	// DryRun suppresses every write. Creates return synthetic objects with
	// negative IDs so in-run cache updates behave exactly like a live run.
	DryRun bool `json:"-"`
}

// HTTPClient implements Client over the NetBox REST API.
type HTTPClient struct {
	config     ClientConfig
	httpClient *http.Client
	breaker    *CircuitBreaker
	logger     logger.Logger

	syntheticID int
}

// NewHTTPClient creates a Client for the given endpoint.
func NewHTTPClient(config ClientConfig, log logger.Logger) *HTTPClient {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	//nolint:gosec // skip-verify is operator-configured for lab endpoints
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify},
	}

	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		breaker: NewCircuitBreaker("netbox", DefaultCircuitBreakerConfig(), log),
		logger:  log.WithComponent("netbox"),
	}
}

type listResponse struct {
	Count    int               `json:"count"`
	Next     *string           `json:"next"`
	Previous *string           `json:"previous"`
	Results  []json.RawMessage `json:"results"`
}

// List fetches every record of the kind, following pagination.
func (c *HTTPClient) List(ctx context.Context, kind Kind) ([]*Object, error) {
	next := fmt.Sprintf("%s%s?limit=%d", strings.TrimRight(c.config.Endpoint, "/"), kind.APIPath(), defaultPageLimit)

	var objects []*Object

	for next != "" {
		body, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}

		var page listResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("list %s: decode page: %w", kind, err)
		}

		for _, raw := range page.Results {
			obj, err := decodeObject(kind, raw)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", kind, err)
			}

			objects = append(objects, obj)
		}

		if page.Next != nil {
			next = *page.Next
		} else {
			next = ""
		}
	}

	c.logger.Debug().Str("kind", string(kind)).Int("count", len(objects)).Msg("Fetched collection")

	return objects, nil
}

// Create inserts a record and returns its decoded snapshot. In dry-run mode
// no request is issued and a synthetic object with a negative ID is
// returned instead.
func (c *HTTPClient) Create(ctx context.Context, kind Kind, fields Fields, tags []string) (*Object, error) {
	if c.config.DryRun {
		c.syntheticID--
		c.logger.Info().
			Str("kind", string(kind)).
			Interface("fields", fields).
			Msg("Dry run: would create object")

		obj := &Object{Kind: kind, ID: c.syntheticID, Fields: Fields{}, Tags: append([]string(nil), tags...)}
		obj.Apply(fields)

		return obj, nil
	}

	payload, err := json.Marshal(encodeFields(fields, tags))
	if err != nil {
		return nil, fmt.Errorf("create %s: encode: %w", kind, err)
	}

	u := strings.TrimRight(c.config.Endpoint, "/") + kind.APIPath()

	body, err := c.do(ctx, http.MethodPost, u, payload)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}

	obj, err := decodeObject(kind, body)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}

	return obj, nil
}

// Update patches a record. Safe to repeat on the same id.
func (c *HTTPClient) Update(ctx context.Context, kind Kind, id int, fields Fields, tags []string) error {
	if c.config.DryRun || id < 0 {
		c.logger.Info().
			Str("kind", string(kind)).
			Int("id", id).
			Interface("fields", fields).
			Msg("Dry run: would update object")

		return nil
	}

	payload, err := json.Marshal(encodeFields(fields, tags))
	if err != nil {
		return fmt.Errorf("update %s %d: encode: %w", kind, id, err)
	}

	u := fmt.Sprintf("%s%s%d/", strings.TrimRight(c.config.Endpoint, "/"), kind.APIPath(), id)

	if _, err := c.do(ctx, http.MethodPatch, u, payload); err != nil {
		return fmt.Errorf("update %s %d: %w", kind, id, err)
	}

	return nil
}

// Delete removes a record. A 404 counts as success so the call stays
// idempotent under retry.
func (c *HTTPClient) Delete(ctx context.Context, kind Kind, id int) error {
	if c.config.DryRun || id < 0 {
		c.logger.Info().Str("kind", string(kind)).Int("id", id).Msg("Dry run: would delete object")
		return nil
	}

	u := fmt.Sprintf("%s%s%d/", strings.TrimRight(c.config.Endpoint, "/"), kind.APIPath(), id)

	if _, err := c.do(ctx, http.MethodDelete, u, nil); err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}

	return nil
}

// do executes one API call with retries on transient failures, behind the
// circuit breaker.
func (c *HTTPClient) do(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	operation := func() ([]byte, error) {
		var body []byte

		err := c.breaker.Execute(func() error {
			var err error

			body, err = c.doOnce(ctx, method, u, payload)

			return err
		})

		if err != nil && !errors.Is(err, errTransientStatusCode) && !isTemporary(err) {
			return nil, backoff.Permanent(err)
		}

		return body, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.config.MaxRetries+1))
	if err != nil {
		return nil, err
	}

	return body, nil
}

func (c *HTTPClient) doOnce(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Token "+c.config.APIToken)
	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer c.closeResponse(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		return nil, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %d", errTransientStatusCode, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: %d: %s", errUnexpectedStatusCode, resp.StatusCode, truncate(body))
	}
}

func (c *HTTPClient) closeResponse(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close response body")
	}
}

func isTemporary(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Timeout() || ue.Temporary()
	}

	return false
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}

	return string(body)
}

// encodeFields prepares a write payload, rendering tags the way the API
// expects them.
func encodeFields(fields Fields, tags []string) map[string]interface{} {
	payload := make(map[string]interface{}, len(fields)+1)

	for k, v := range fields {
		payload[k] = v
	}

	if tags != nil {
		rendered := make([]map[string]string, 0, len(tags))
		for _, t := range tags {
			rendered = append(rendered, map[string]string{"name": t, "slug": slugify(t)})
		}

		payload["tags"] = rendered
	}

	return payload
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")

	return s
}

// decodeObject converts one API result into an Object. The id, tags and
// last_updated members are lifted out of the field map.
func decodeObject(kind Kind, raw []byte) (*Object, error) {
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}

	obj := &Object{Kind: kind, Fields: fields}

	obj.ID = refID(fields["id"])
	delete(fields, "id")

	if rawTags, ok := fields["tags"].([]interface{}); ok {
		for _, rt := range rawTags {
			if m, ok := rt.(map[string]interface{}); ok {
				if name, _ := m["name"].(string); name != "" {
					obj.Tags = append(obj.Tags, name)
				}
			}
		}
	}

	delete(fields, "tags")

	if s, ok := fields["last_updated"].(string); ok && s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			obj.LastUpdated = t
		}
	}

	delete(fields, "last_updated")

	return obj, nil
}
