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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netsync/pkg/logger"
)

func testClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewHTTPClient(ClientConfig{
		Endpoint:   server.URL,
		APIToken:   "secret-token",
		MaxRetries: 2,
	}, logger.NewTestLogger())

	return client, server
}

func TestListFollowsPagination(t *testing.T) {
	var server *httptest.Server

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("offset") == "" {
			next := fmt.Sprintf("%s/api/dcim/devices/?limit=500&offset=1", server.URL)
			fmt.Fprintf(w, `{"count":2,"next":%q,"results":[{"id":1,"name":"web01"}]}`, next)

			return
		}

		fmt.Fprint(w, `{"count":2,"next":null,"results":[{"id":2,"name":"web02"}]}`)
	})

	client, srv := testClient(t, handler)
	server = srv

	objects, err := client.List(context.Background(), KindDevice)
	require.NoError(t, err)

	require.Len(t, objects, 2)
	assert.Equal(t, 1, objects[0].ID)
	assert.Equal(t, "web01", objects[0].Str("name"))
	assert.Equal(t, 2, objects[1].ID)
}

func TestCreateSendsTagsAndDecodesResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/dcim/sites/", r.URL.Path)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		assert.Equal(t, "dc-east", payload["name"])

		tags, ok := payload["tags"].([]interface{})
		require.True(t, ok)
		require.Len(t, tags, 1)
		assert.Equal(t, ProvenanceTag, tags[0].(map[string]interface{})["name"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":42,"name":"dc-east","slug":"dc-east","tags":[{"name":"netsync","slug":"netsync"}]}`)
	})

	client, _ := testClient(t, handler)

	obj, err := client.Create(context.Background(), KindSite,
		Fields{"name": "dc-east", "slug": "dc-east"}, []string{ProvenanceTag})
	require.NoError(t, err)

	assert.Equal(t, 42, obj.ID)
	assert.Equal(t, "dc-east", obj.Str("name"))
	assert.True(t, obj.HasTag(ProvenanceTag))
}

func TestRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"count":0,"next":null,"results":[]}`)
	})

	client, _ := testClient(t, handler)

	_, err := client.List(context.Background(), KindDevice)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"name":["This field is required."]}`)
	})

	client, _ := testClient(t, handler)

	_, err := client.Create(context.Background(), KindSite, Fields{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnexpectedStatusCode)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client, _ := testClient(t, handler)

	assert.NoError(t, client.Delete(context.Background(), KindDevice, 99))
}

func TestDryRunSuppressesAllWrites(t *testing.T) {
	var calls atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewHTTPClient(ClientConfig{
		Endpoint: server.URL,
		APIToken: "secret-token",
		DryRun:   true,
	}, logger.NewTestLogger())

	first, err := client.Create(context.Background(), KindDevice, Fields{"name": "a"}, []string{ProvenanceTag})
	require.NoError(t, err)

	second, err := client.Create(context.Background(), KindDevice, Fields{"name": "b"}, nil)
	require.NoError(t, err)

	assert.Negative(t, first.ID)
	assert.Negative(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID, "synthetic IDs must stay unique within a run")

	require.NoError(t, client.Update(context.Background(), KindDevice, 5, Fields{"name": "c"}, nil))
	require.NoError(t, client.Delete(context.Background(), KindDevice, 5))

	assert.Zero(t, calls.Load(), "dry-run must not touch the API")
}

func TestUpdateSkipsSyntheticIDs(t *testing.T) {
	var calls atomic.Int32

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	})

	client, _ := testClient(t, handler)

	require.NoError(t, client.Update(context.Background(), KindDevice, -3, Fields{"name": "x"}, nil))
	require.NoError(t, client.Delete(context.Background(), KindDevice, -3))
	assert.Zero(t, calls.Load())
}
