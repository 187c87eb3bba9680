// Copyright 2025 Stagecraft Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"stagecraft/internal/common"
	"stagecraft/internal/util"
)

// HTTPClient talks to the remote repository's REST surface:
//
//	GET    {base}/tree            -> []TreeEntry
//	GET    {base}/files/{path}    -> raw content
//	PUT    {base}/files/{path}    -> raw content body, ?message=
//	DELETE {base}/files/{path}    -> ?message=
//
// Each call retries once on transport failure; anything that still
// fails surfaces as common.ErrStoreUnavailable so the caller knows a
// retry with the same idempotency key is safe.
type HTTPClient struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPClient builds a client for baseURL. token, when non-empty, is
// sent as a bearer token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) ListTree(ctx context.Context) ([]TreeEntry, error) {
	return util.RetryWithResult(ctx, func() ([]TreeEntry, error) {
		body, err := c.do(ctx, http.MethodGet, c.base+"/tree", nil)
		if err != nil {
			return nil, err
		}
		var entries []TreeEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("%w: decode tree listing: %v", common.ErrStoreUnavailable, err)
		}
		return entries, nil
	}, util.RemoteRetryOptions(ctx)...)
}

func (c *HTTPClient) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return util.RetryWithResult(ctx, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, c.fileURL(path, "", ""), nil)
	}, util.RemoteRetryOptions(ctx)...)
}

func (c *HTTPClient) WriteFile(ctx context.Context, path string, content []byte, message, knownObjectID string) error {
	return util.Retry(ctx, func() error {
		_, err := c.do(ctx, http.MethodPut, c.fileURL(path, message, knownObjectID), content)
		return err
	}, util.RemoteRetryOptions(ctx)...)
}

func (c *HTTPClient) DeleteFile(ctx context.Context, path string, message, objectID string) error {
	return util.Retry(ctx, func() error {
		_, err := c.do(ctx, http.MethodDelete, c.fileURL(path, message, objectID), nil)
		return err
	}, util.RemoteRetryOptions(ctx)...)
}

func (c *HTTPClient) fileURL(path, message, objectID string) string {
	q := url.Values{}
	if message != "" {
		q.Set("message", message)
	}
	if objectID != "" {
		q.Set("knownObjectId", objectID)
	}
	u := c.base + "/files/" + url.PathEscape(path)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Debugf("[Remote] %s %s failed: %v", method, rawURL, err)
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", common.ErrStoreUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payload, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, rawURL)
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return nil, fmt.Errorf("%w: %s", common.ErrRemoteConflict, rawURL)
	default:
		log.Debugf("[Remote] %s %s -> %d", method, rawURL, resp.StatusCode)
		return nil, fmt.Errorf("%w: %s returned %d", common.ErrStoreUnavailable, method, resp.StatusCode)
	}
}
