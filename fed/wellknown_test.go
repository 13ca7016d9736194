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
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/data"
	"github.com/stretchr/testify/assert"
)

func TestWellKnown_WebFinger(t *testing.T) {
	assert := assert.New(t)

	actors := data.Actors{DB: newTestDB(t)}
	alice, err := actors.CreateLocal(context.Background(), "localhost.localdomain", "Alice")
	assert.NoError(err)

	mux := NewMux("localhost.localdomain", &actors, slog.Default())

	for _, resource := range []string{
		"acct:alice@localhost.localdomain",
		"alice@LOCALHOST.localdomain",
		ap.LocalURI("localhost.localdomain", alice.ID),
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource="+url.QueryEscape(resource), nil))
		assert.Equal(http.StatusOK, w.Code, resource)

		var doc ap.WebFingerDocument
		assert.NoError(json.Unmarshal(w.Body.Bytes(), &doc))
		assert.Equal("acct:Alice@localhost.localdomain", doc.Subject)

		self, ok := doc.Self()
		assert.True(ok)
		assert.Equal(ap.LocalURI("localhost.localdomain", alice.ID), self.Href)
	}
}

func TestWellKnown_WebFingerErrors(t *testing.T) {
	assert := assert.New(t)

	actors := data.Actors{DB: newTestDB(t)}
	_, err := actors.UpsertRemote(context.Background(), &ap.ActorRef{
		Username: "dan",
		URI:      "https://a.localdomain/users/dan",
		Host:     "a.localdomain",
	})
	assert.NoError(err)

	mux := NewMux("localhost.localdomain", &actors, slog.Default())

	for resource, status := range map[string]int{
		"":                                      http.StatusBadRequest,
		"alice":                                 http.StatusBadRequest,
		"acct:alice@a.localdomain":              http.StatusBadRequest,
		"acct:alice@localhost.localdomain":      http.StatusNotFound,
		"acct:dan@localhost.localdomain":        http.StatusNotFound,
		"https://localhost.localdomain/users/x": http.StatusNotFound,
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource="+url.QueryEscape(resource), nil))
		assert.Equal(status, w.Code, resource)
	}
}

func TestWellKnown_HostMeta(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{})
	mux := NewMux("localhost.localdomain", &data.Actors{DB: newTestDB(t)}, slog.Default())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/host-meta", nil))
	assert.Equal(http.StatusOK, w.Code)

	client.Data["https://localhost.localdomain/.well-known/host-meta"] = testResponse{
		Response: newTestResponse(http.StatusOK, w.Body.String()),
	}

	cfg := newTestConfig()
	wf := WebFinger{Config: cfg, Client: &Client{Config: cfg, Doer: &client, Log: slog.Default()}, Log: slog.Default()}

	u, err := wf.URL(context.Background(), "alice@localhost.localdomain")
	assert.NoError(err)
	assert.Equal("https://localhost.localdomain/.well-known/webfinger?resource=acct%3Aalice%40localhost.localdomain", u)
}

func TestWellKnown_Actor(t *testing.T) {
	assert := assert.New(t)

	actors := data.Actors{DB: newTestDB(t)}
	alice, err := actors.CreateLocal(context.Background(), "localhost.localdomain", "alice")
	assert.NoError(err)

	mux := NewMux("localhost.localdomain", &actors, slog.Default())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/"+alice.ID, nil))
	assert.Equal(http.StatusOK, w.Code)

	var actor ap.Actor
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &actor))
	assert.Equal(ap.LocalURI("localhost.localdomain", alice.ID), actor.ID)
	assert.Equal(ap.Person, actor.Type)
	assert.Equal("alice", actor.PreferredUsername)
	assert.Equal(alice.Inbox, actor.Inbox)
	assert.Empty(actor.SharedInbox())
	assert.Empty(actor.Outbox)
	assert.Empty(actor.Followers)
	assert.Equal(alice.KeyID, actor.PublicKey.ID)
	assert.Equal(actor.ID, actor.PublicKey.Owner)

	_, err = data.ParseRSAPublicKey(actor.PublicKey.PublicKeyPem)
	assert.NoError(err)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/nobody", nil))
	assert.Equal(http.StatusNotFound, w.Code)
}
