package vss

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// putObjectsEndpoint is the bulk versioned write endpoint.
	putObjectsEndpoint = "putObjects"

	// listKeyVersionsEndpoint enumerates stored (key, version) pairs.
	listKeyVersionsEndpoint = "listKeyVersions"

	// getObjectEndpoint fetches a single object by key.
	getObjectEndpoint = "getObject"

	// defaultRequestTimeout bounds a single HTTP round trip. The retry
	// loops driving this client supply their own backoff on top.
	defaultRequestTimeout = 30 * time.Second
)

// HTTPClient talks JSON over HTTP to a remote versioned store. All requests
// are scoped to a single store id and authenticated with a bearer token.
type HTTPClient struct {
	baseURL string
	storeID string
	token   string

	client *http.Client
}

// A compile time check to ensure HTTPClient implements the Client interface.
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new remote store client talking to the service at
// baseURL.
func NewHTTPClient(baseURL, storeID, token string) (*HTTPClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid remote store url: %w", err)
	}

	return &HTTPClient{
		baseURL: baseURL,
		storeID: storeID,
		token:   token,
		client: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}, nil
}

// putObjectsRequest is the wire encoding of a bulk write.
type putObjectsRequest struct {
	StoreID string     `json:"store_id"`
	Objects []KeyValue `json:"transaction_items"`
}

// listKeyVersionsRequest is the wire encoding of an enumeration request.
type listKeyVersionsRequest struct {
	StoreID   string `json:"store_id"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// listKeyVersionsResponse is the wire encoding of an enumeration response.
type listKeyVersionsResponse struct {
	KeyVersions []KeyVersion `json:"key_versions"`
}

// getObjectRequest is the wire encoding of a single object fetch.
type getObjectRequest struct {
	StoreID string `json:"store_id"`
	Key     string `json:"key"`
}

// getObjectResponse is the wire encoding of a single object fetch response.
type getObjectResponse struct {
	Object *KeyValue `json:"value"`
}

// PutObjects stores the given objects in bulk.
//
// NOTE: this is part of the Client interface.
func (c *HTTPClient) PutObjects(ctx context.Context,
	items []KeyValue) error {

	req := &putObjectsRequest{
		StoreID: c.storeID,
		Objects: items,
	}

	return c.post(ctx, putObjectsEndpoint, req, nil)
}

// ListKeyVersions enumerates the (key, version) pairs stored under the given
// prefix.
//
// NOTE: this is part of the Client interface.
func (c *HTTPClient) ListKeyVersions(ctx context.Context,
	prefix string) ([]KeyVersion, error) {

	req := &listKeyVersionsRequest{
		StoreID:   c.storeID,
		KeyPrefix: prefix,
	}

	var resp listKeyVersionsResponse
	err := c.post(ctx, listKeyVersionsEndpoint, req, &resp)
	if err != nil {
		return nil, err
	}

	return resp.KeyVersions, nil
}

// GetObject fetches a single object by key.
//
// NOTE: this is part of the Client interface.
func (c *HTTPClient) GetObject(ctx context.Context, key string) (*KeyValue,
	error) {

	req := &getObjectRequest{
		StoreID: c.storeID,
		Key:     key,
	}

	var resp getObjectResponse
	if err := c.post(ctx, getObjectEndpoint, req, &resp); err != nil {
		return nil, err
	}
	if resp.Object == nil {
		return nil, ErrObjectNotFound
	}

	return resp.Object, nil
}

// post issues a single JSON request against the given endpoint, decoding the
// response body into out when it is non-nil.
func (c *HTTPClient) post(ctx context.Context, endpoint string, body any,
	out any) error {

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:

	case http.StatusNotFound:
		return ErrObjectNotFound

	case http.StatusConflict:
		log.Debugf("Remote store rejected stale write to %s", endpoint)
		return ErrStaleVersion

	default:
		return fmt.Errorf("remote store returned status %v",
			resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
