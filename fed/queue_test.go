/*
Copyright 2026 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fed

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/data"
	"github.com/ktncode/misskey-sub002/ldsig"
	"github.com/ktncode/misskey-sub002/proof"
	"github.com/stretchr/testify/assert"
)

type deliveryState struct {
	Attempts int
	Sent     bool
	Dead     bool
	Shared   bool
}

func newTestQueue(t *testing.T, client *testClient) (*Queue, *data.Actors, *ap.ActorRef) {
	cfg := newTestConfig()
	db := newTestDB(t)
	actors := &data.Actors{DB: db}
	c := &Client{Config: cfg, Doer: client, Log: slog.Default()}

	alice, err := actors.CreateLocal(context.Background(), "localhost.localdomain", "alice")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	return &Queue{
		Domain: "localhost.localdomain",
		Config: cfg,
		DB:     db,
		Actors: actors,
		Client: c,
		Signer: &ActivitySigner{
			Domain: "localhost.localdomain",
			Config: cfg,
			Keys:   actors,
			LD:     &ldsig.Signer{Client: c, ContextTimeout: cfg.ContextFetchTimeout},
			Log:    slog.Default(),
		},
		Log: slog.Default(),
	}, actors, alice
}

func testCreate(alice *ap.ActorRef) ap.Activity {
	actor := ap.LocalURI("localhost.localdomain", alice.ID)
	return ap.Activity{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       actor + "/create/1",
		"type":     "Create",
		"actor":    actor,
		"to":       []any{"https://www.w3.org/ns/activitystreams#Public"},
		"object": map[string]any{
			"id":           actor + "/note/1",
			"type":         "Note",
			"attributedTo": actor,
			"content":      "hello",
		},
	}
}

func getDeliveryState(t *testing.T, q *Queue, inbox string) deliveryState {
	var state deliveryState
	if err := q.DB.QueryRowContext(context.Background(), `select attempts, sent, dead, shared from deliveries where inbox = ?`, inbox).Scan(&state.Attempts, &state.Sent, &state.Dead, &state.Shared); err != nil {
		t.Fatalf("Failed to fetch delivery to %s: %v", inbox, err)
	}
	return state
}

func TestQueue_DeliverMany(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{})
	q, _, alice := newTestQueue(t, &client)

	assert.NoError(q.DeliverMany(context.Background(), alice, testCreate(alice), map[string]bool{
		"https://a.localdomain/inbox":             true,
		"https://b.localdomain/users/carol/inbox": false,
	}))

	assert.Equal(deliveryState{Shared: true}, getDeliveryState(t, q, "https://a.localdomain/inbox"))
	assert.Equal(deliveryState{}, getDeliveryState(t, q, "https://b.localdomain/users/carol/inbox"))

	var jobs int
	assert.NoError(q.DB.QueryRow(`select count(distinct job) from deliveries`).Scan(&jobs))
	assert.Equal(1, jobs)

	assert.NoError(q.DeliverMany(context.Background(), alice, testCreate(alice), nil))

	assert.NoError(q.DB.QueryRow(`select count(distinct job) from deliveries`).Scan(&jobs))
	assert.Equal(1, jobs)
}

func TestQueue_ProcessBatch(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		"https://a.localdomain/inbox": {
			Response: newTestResponse(http.StatusAccepted, ""),
		},
		"https://b.localdomain/users/carol/inbox": {
			Response: newTestResponse(http.StatusOK, ""),
		},
	})
	q, actors, alice := newTestQueue(t, &client)

	assert.NoError(q.DeliverMany(context.Background(), alice, testCreate(alice), map[string]bool{
		"https://a.localdomain/inbox":             true,
		"https://b.localdomain/users/carol/inbox": false,
	}))

	n, err := q.ProcessBatch(context.Background())
	assert.NoError(err)
	assert.Equal(2, n)
	assert.Empty(client.Data)

	assert.Equal(deliveryState{Attempts: 1, Sent: true, Shared: true}, getDeliveryState(t, q, "https://a.localdomain/inbox"))
	assert.Equal(deliveryState{Attempts: 1, Sent: true}, getDeliveryState(t, q, "https://b.localdomain/users/carol/inbox"))

	publicKey, err := data.ParseRSAPublicKey(alice.PublicKeyPem)
	assert.NoError(err)

	edPem, err := actors.Ed25519Key(context.Background(), alice.ID)
	assert.NoError(err)
	edKey, err := data.ParsePrivateKey(edPem)
	assert.NoError(err)

	assert.Len(client.Sent, 2)
	for _, req := range client.Sent {
		assert.Equal(http.MethodPost, req.Method)
		assert.True(strings.HasPrefix(req.Header.Get("Signature"), `keyId="`+alice.KeyID+`"`))
		assert.True(strings.HasPrefix(req.Header.Get("Digest"), "SHA-256="))

		body, err := io.ReadAll(req.Body)
		assert.NoError(err)

		var delivered ap.Activity
		assert.NoError(json.Unmarshal(body, &delivered))

		sig, err := ldsig.SignatureOf(delivered)
		assert.NoError(err)
		assert.Equal(alice.KeyID, sig.Creator)

		valid, err := q.Signer.LD.Verify(context.Background(), delivered, publicKey)
		assert.NoError(err)
		assert.True(valid)

		assert.NoError(proof.Verify(edKey.(ed25519.PrivateKey).Public(), delivered))
	}

	n, err = q.ProcessBatch(context.Background())
	assert.NoError(err)
	assert.Equal(0, n)
}

func TestQueue_NoIntegrityProof(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		"https://a.localdomain/inbox": {
			Response: newTestResponse(http.StatusAccepted, ""),
		},
	})
	q, _, alice := newTestQueue(t, &client)
	q.Config.DisableIntegrityProofs = true

	assert.NoError(q.DeliverMany(context.Background(), alice, testCreate(alice), map[string]bool{"https://a.localdomain/inbox": true}))

	_, err := q.ProcessBatch(context.Background())
	assert.NoError(err)
	assert.Len(client.Sent, 1)

	body, err := io.ReadAll(client.Sent[0].Body)
	assert.NoError(err)

	var delivered ap.Activity
	assert.NoError(json.Unmarshal(body, &delivered))
	assert.NotContains(delivered, "proof")
	assert.Contains(delivered, "signature")
}

func TestQueue_Retry(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		"https://a.localdomain/inbox": {
			Response: newTestResponse(http.StatusServiceUnavailable, ""),
		},
		"https://b.localdomain/inbox": {
			Response: newTestResponse(http.StatusTooManyRequests, ""),
		},
	})
	q, _, alice := newTestQueue(t, &client)

	assert.NoError(q.DeliverMany(context.Background(), alice, testCreate(alice), map[string]bool{
		"https://a.localdomain/inbox": true,
		"https://b.localdomain/inbox": true,
	}))

	n, err := q.ProcessBatch(context.Background())
	assert.NoError(err)
	assert.Equal(2, n)

	assert.Equal(deliveryState{Attempts: 1, Shared: true}, getDeliveryState(t, q, "https://a.localdomain/inbox"))
	assert.Equal(deliveryState{Attempts: 1, Shared: true}, getDeliveryState(t, q, "https://b.localdomain/inbox"))

	n, err = q.ProcessBatch(context.Background())
	assert.NoError(err)
	assert.Equal(0, n)

	_, err = q.DB.Exec(`update deliveries set last = last - ?`, int64(q.Config.DeliveryRetryInterval.Seconds())+1)
	assert.NoError(err)

	client.Data["https://a.localdomain/inbox"] = testResponse{
		Response: newTestResponse(http.StatusAccepted, ""),
	}
	client.Data["https://b.localdomain/inbox"] = testResponse{
		Response: newTestResponse(http.StatusAccepted, ""),
	}

	n, err = q.ProcessBatch(context.Background())
	assert.NoError(err)
	assert.Equal(2, n)

	assert.Equal(deliveryState{Attempts: 2, Sent: true, Shared: true}, getDeliveryState(t, q, "https://a.localdomain/inbox"))
	assert.Equal(deliveryState{Attempts: 2, Sent: true, Shared: true}, getDeliveryState(t, q, "https://b.localdomain/inbox"))
}

func TestQueue_PermanentError(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		"https://a.localdomain/inbox": {
			Response: newTestResponse(http.StatusForbidden, "blocked"),
		},
	})
	q, _, alice := newTestQueue(t, &client)

	assert.NoError(q.DeliverMany(context.Background(), alice, testCreate(alice), map[string]bool{"https://a.localdomain/inbox": true}))

	n, err := q.ProcessBatch(context.Background())
	assert.NoError(err)
	assert.Equal(1, n)

	assert.Equal(deliveryState{Attempts: 1, Dead: true, Shared: true}, getDeliveryState(t, q, "https://a.localdomain/inbox"))
}

func TestQueue_MaxAttempts(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		"https://a.localdomain/inbox": {
			Response: newTestResponse(http.StatusBadGateway, ""),
		},
	})
	q, _, alice := newTestQueue(t, &client)
	q.Config.MaxDeliveryAttempts = 1

	assert.NoError(q.DeliverMany(context.Background(), alice, testCreate(alice), map[string]bool{"https://a.localdomain/inbox": false}))

	_, err := q.ProcessBatch(context.Background())
	assert.NoError(err)

	assert.Equal(deliveryState{Attempts: 1, Dead: true}, getDeliveryState(t, q, "https://a.localdomain/inbox"))
}

func TestQueue_UnrecoverableContext(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{})
	q, _, alice := newTestQueue(t, &client)

	activity := testCreate(alice)
	activity["@context"] = "file:///etc/passwd"

	assert.NoError(q.DeliverMany(context.Background(), alice, activity, map[string]bool{"https://a.localdomain/inbox": true}))

	_, err := q.ProcessBatch(context.Background())
	assert.NoError(err)
	assert.Empty(client.Sent)

	assert.Equal(deliveryState{Attempts: 1, Dead: true, Shared: true}, getDeliveryState(t, q, "https://a.localdomain/inbox"))
}
