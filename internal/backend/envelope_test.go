/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

func TestEnvelopeConformsToSchema(t *testing.T) {
	env := Envelope("install-abc", "identity-xyz", []byte("not a real snapshot, shape only"))
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	// Load schema bytes via relative path to repository docs
	schemaPath := filepath.Join("..", "..", "docs", "snapshot_envelope.schema.json")
	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	docLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		t.Fatalf("schema validate error: %v", err)
	}
	if !result.Valid() {
		for _, e := range result.Errors() {
			t.Logf("schema error: %s", e)
		}
		t.Fatalf("envelope does not conform to schema")
	}
}

func TestEnvelopeChecksumMatchesBlob(t *testing.T) {
	blob := []byte("payload bytes")
	env := Envelope("i", "u", blob)
	sum := sha256.Sum256(blob)
	if env.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("sha mismatch: %s", env.SHA256)
	}
	if env.SizeBytes != int64(len(blob)) {
		t.Fatalf("size mismatch: %d", env.SizeBytes)
	}
}

func TestTokenSignAndVerify(t *testing.T) {
	tok, err := signToken("secret", "alice", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := verifyToken("secret", tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "alice" {
		t.Fatalf("subject: %s", sub)
	}
	if _, err := verifyToken("wrong", tok); err == nil {
		t.Fatalf("expected bad signature with wrong secret")
	}
}
