/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend holds the optional snapshot hub: a thin HTTP client used by
// the app to back up exported snapshots, and the matching Postgres-backed
// server run by cmd/genstudiohub. The app is fully functional without it.
package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genstudio/internal/version"
)

// SnapshotEnvelope wraps an exported snapshot for upload. The snapshot bytes
// travel base64-encoded so the whole payload stays a single JSON document.
type SnapshotEnvelope struct {
	InstallID  string `json:"install_id"`
	IdentityID string `json:"identity_id"`
	AppVersion string `json:"app_version"`
	CreatedAt  string `json:"created_at"` // RFC 3339
	SizeBytes  int64  `json:"size_bytes"`
	SHA256     string `json:"sha256"`
	Snapshot   string `json:"snapshot"` // base64 of the snapshot image
}

// PushResult is the hub's acknowledgement of a stored snapshot.
type PushResult struct {
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
}

// Client is a minimal HTTP client for the snapshot hub API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a new hub client. baseURL may include a trailing slash; it
// will be normalized.
func NewClient(baseURL string, token string) *Client {
	b := strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: b,
		Token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub %s %s: %s", method, u.Path, resp.Status)
	}
	if dest == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(dest)
}

// Envelope assembles the upload envelope for a snapshot blob.
func Envelope(installID, identityID string, blob []byte) SnapshotEnvelope {
	sum := sha256.Sum256(blob)
	return SnapshotEnvelope{
		InstallID:  installID,
		IdentityID: identityID,
		AppVersion: version.Version,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		SizeBytes:  int64(len(blob)),
		SHA256:     hex.EncodeToString(sum[:]),
		Snapshot:   base64.StdEncoding.EncodeToString(blob),
	}
}

// Push uploads a snapshot blob for this install and returns the hub-assigned
// version.
func (c *Client) Push(ctx context.Context, installID, identityID string, blob []byte) (*PushResult, error) {
	env := Envelope(installID, identityID, blob)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	var res PushResult
	if err := c.do(ctx, http.MethodPost, "/api/snapshots", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Pull fetches the latest uploaded snapshot for an install. The returned
// bytes are the decoded snapshot image, ready for import.
func (c *Client) Pull(ctx context.Context, installID string) ([]byte, *SnapshotEnvelope, error) {
	var env SnapshotEnvelope
	path := "/api/snapshots/" + url.PathEscape(installID)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, nil, err
	}
	blob, err := base64.StdEncoding.DecodeString(env.Snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}
	sum := sha256.Sum256(blob)
	if got := hex.EncodeToString(sum[:]); env.SHA256 != "" && got != env.SHA256 {
		return nil, nil, fmt.Errorf("snapshot checksum mismatch")
	}
	return blob, &env, nil
}
