package vss

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testStoreID = "wallet-store"
	testToken   = "secret-token"
)

// newTestClient spins up a test server running the given handler and
// returns a client pointed at it.
func newTestClient(t *testing.T,
	handler http.HandlerFunc) *HTTPClient {

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(server.URL, testStoreID, testToken)
	require.NoError(t, err)

	return client
}

// TestPutObjects asserts the wire encoding of a bulk write and the bearer
// token header.
func TestPutObjects(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter,
		r *http.Request) {

		require.Equal(t, "/putObjects", r.URL.Path)
		require.Equal(
			t, "Bearer "+testToken,
			r.Header.Get("Authorization"),
		)

		var req putObjectsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, testStoreID, req.StoreID)
		require.Len(t, req.Objects, 1)
		require.Equal(t, "monitors/abc", req.Objects[0].Key)
		require.Equal(t, uint32(7), req.Objects[0].Version)

		w.WriteHeader(http.StatusOK)
	})

	err := client.PutObjects(context.Background(), []KeyValue{{
		Key:     "monitors/abc",
		Value:   json.RawMessage(`"payload"`),
		Version: 7,
	}})
	require.NoError(t, err)
}

// TestPutObjectsStaleVersion asserts that a conflict response maps to
// ErrStaleVersion.
func TestPutObjectsStaleVersion(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter,
		_ *http.Request) {

		w.WriteHeader(http.StatusConflict)
	})

	err := client.PutObjects(context.Background(), []KeyValue{{
		Key:     "monitors/abc",
		Value:   json.RawMessage(`"payload"`),
		Version: 7,
	}})
	require.ErrorIs(t, err, ErrStaleVersion)
}

// TestListKeyVersions asserts the enumeration round trip.
func TestListKeyVersions(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter,
		r *http.Request) {

		require.Equal(t, "/listKeyVersions", r.URL.Path)

		var req listKeyVersionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "monitors/", req.KeyPrefix)

		resp := listKeyVersionsResponse{
			KeyVersions: []KeyVersion{
				{Key: "monitors/abc", Version: 7},
				{Key: "monitors/def", Version: 3},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	kvs, err := client.ListKeyVersions(context.Background(), "monitors/")
	require.NoError(t, err)
	require.Equal(t, []KeyVersion{
		{Key: "monitors/abc", Version: 7},
		{Key: "monitors/def", Version: 3},
	}, kvs)
}

// TestGetObject asserts the single object fetch round trip and the not
// found mapping.
func TestGetObject(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter,
		r *http.Request) {

		require.Equal(t, "/getObject", r.URL.Path)

		var req getObjectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Key != "manager_node1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		resp := getObjectResponse{
			Object: &KeyValue{
				Key:     req.Key,
				Value:   json.RawMessage(`"payload"`),
				Version: 42,
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	obj, err := client.GetObject(context.Background(), "manager_node1")
	require.NoError(t, err)
	require.Equal(t, uint32(42), obj.Version)
	require.JSONEq(t, `"payload"`, string(obj.Value))

	_, err = client.GetObject(context.Background(), "missing")
	require.ErrorIs(t, err, ErrObjectNotFound)
}
