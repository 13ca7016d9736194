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
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/data"
	"github.com/stretchr/testify/assert"
)

const (
	aliceHostMeta  = "https://remote.example/.well-known/host-meta"
	aliceWebFinger = "https://remote.example/.well-known/webfinger?resource=acct%3Aalice%40remote.example"
	aliceURI       = "https://remote.example/users/alice"
)

func newTestResolver(t *testing.T, client *testClient) (*Resolver, *data.Actors) {
	cfg := newTestConfig()
	actors := &data.Actors{DB: newTestDB(t)}
	c := &Client{Config: cfg, Doer: client, Log: slog.Default()}

	return &Resolver{
		Domain:    "localhost.localdomain",
		Config:    cfg,
		Actors:    actors,
		WebFinger: &WebFinger{Config: cfg, Client: c, Log: slog.Default()},
		Persons:   &PersonFetcher{Client: c, Actors: actors, Log: slog.Default()},
		Log:       slog.Default(),
	}, actors
}

func selfJRD(href string) string {
	return `{"subject":"acct:alice@remote.example","links":[{"rel":"http://webfinger.net/rel/profile-page","href":"https://remote.example/@alice"},{"rel":"self","type":"application/activity+json","href":"` + href + `"}]}`
}

func countRequests(client *testClient, prefix string) int {
	n := 0
	for _, req := range client.Sent {
		if strings.HasPrefix(req.URL.String(), prefix) {
			n++
		}
	}
	return n
}

func TestResolver_NewRemoteActor(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusOK, selfJRD(aliceURI)),
		},
		aliceURI: {
			Response: newTestResponse(http.StatusOK, actorJSON(aliceURI, "alice")),
		},
	})

	resolver, actors := newTestResolver(t, &client)

	alice, err := resolver.ResolveUser(context.Background(), "Alice", "Remote.Example")
	assert.NoError(err)
	assert.Equal(aliceURI, alice.URI)
	assert.Equal("remote.example", alice.Host)
	assert.Equal("alice", alice.Username)
	assert.Empty(client.Data)

	stored, err := actors.FindRemoteByUsernameHost(context.Background(), "alice", "remote.example")
	assert.NoError(err)
	assert.Equal(alice.ID, stored.ID)
	assert.Equal(aliceURI, stored.URI)
}

func TestResolver_FreshCache(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{})
	resolver, actors := newTestResolver(t, &client)

	cached, err := actors.UpsertRemote(context.Background(), &ap.ActorRef{
		Username:      "alice",
		URI:           aliceURI,
		Host:          "remote.example",
		Inbox:         aliceURI + "/inbox",
		LastFetchedAt: time.Now().Add(-time.Hour),
	})
	assert.NoError(err)

	alice, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.NoError(err)
	assert.Equal(cached.ID, alice.ID)
	assert.Empty(client.Sent)
}

func TestResolver_StaleCache(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusOK, selfJRD(aliceURI)),
		},
		aliceURI: {
			Response: newTestResponse(http.StatusOK, actorJSON(aliceURI, "alice")),
		},
	})
	resolver, actors := newTestResolver(t, &client)

	lastFetched := time.Now().Add(-resolver.Config.ResolverCacheTTL - time.Hour)
	cached, err := actors.UpsertRemote(context.Background(), &ap.ActorRef{
		Username:      "alice",
		URI:           aliceURI,
		Host:          "remote.example",
		Inbox:         aliceURI + "/oldinbox",
		LastFetchedAt: lastFetched,
	})
	assert.NoError(err)

	alice, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.NoError(err)
	assert.Equal(cached.ID, alice.ID)
	assert.Equal(aliceURI+"/inbox", alice.Inbox)
	assert.True(alice.LastFetchedAt.After(lastFetched))
	assert.Equal(1, countRequests(&client, "https://remote.example/.well-known/webfinger"))
	assert.Empty(client.Data)
}

func TestResolver_URIDrift(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusOK, selfJRD("https://remote.example/users/1234")),
		},
		"https://remote.example/users/1234": {
			Response: newTestResponse(http.StatusOK, actorJSON("https://remote.example/users/1234", "alice")),
		},
	})
	resolver, actors := newTestResolver(t, &client)

	cached, err := actors.UpsertRemote(context.Background(), &ap.ActorRef{
		Username:      "alice",
		URI:           aliceURI,
		Host:          "remote.example",
		LastFetchedAt: time.Now().Add(-resolver.Config.ResolverCacheTTL * 2),
	})
	assert.NoError(err)

	alice, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.NoError(err)
	assert.Equal(cached.ID, alice.ID)
	assert.Equal("https://remote.example/users/1234", alice.URI)
	assert.Empty(client.Data)
}

func TestResolver_URIHostMismatch(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusOK, selfJRD("https://evil.example/users/alice")),
		},
	})
	resolver, actors := newTestResolver(t, &client)

	cached, err := actors.UpsertRemote(context.Background(), &ap.ActorRef{
		Username:      "alice",
		URI:           aliceURI,
		Host:          "remote.example",
		LastFetchedAt: time.Now().Add(-resolver.Config.ResolverCacheTTL * 2),
	})
	assert.NoError(err)

	_, err = resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.True(errors.Is(err, ErrURIHostMismatch))

	stored, err := actors.FindByID(context.Background(), cached.ID)
	assert.NoError(err)
	assert.Equal(aliceURI, stored.URI)
	assert.Empty(client.Data)
}

func TestResolver_Local(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{})
	resolver, actors := newTestResolver(t, &client)

	alice, err := actors.CreateLocal(context.Background(), "localhost.localdomain", "Alice")
	assert.NoError(err)

	for _, host := range []string{"", "localhost.localdomain", "LOCALHOST.localdomain."} {
		found, err := resolver.ResolveUser(context.Background(), "ALICE", host)
		assert.NoError(err, host)
		assert.Equal(alice.ID, found.ID, host)
	}

	_, err = resolver.ResolveUser(context.Background(), "bob", "")
	assert.True(errors.Is(err, ErrNoLocalActor))
	assert.True(errors.Is(err, ap.ErrNotFound))

	assert.Empty(client.Sent)
}

func TestResolver_SelfLinkToLocalActor(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{})
	resolver, actors := newTestResolver(t, &client)

	alice, err := actors.CreateLocal(context.Background(), "localhost.localdomain", "alice")
	assert.NoError(err)

	client.Data[aliceHostMeta] = testResponse{
		Response: newTestResponse(http.StatusNotFound, ""),
	}
	client.Data[aliceWebFinger] = testResponse{
		Response: newTestResponse(http.StatusOK, selfJRD(ap.LocalURI("localhost.localdomain", alice.ID))),
	}

	found, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.NoError(err)
	assert.Equal(alice.ID, found.ID)
	assert.True(found.IsLocal())
	assert.Empty(client.Data)
}

func TestResolver_SelfLinkToLocalHostUnknownPath(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusOK, selfJRD("https://LOCALHOST.localdomain/@alice")),
		},
	})
	resolver, actors := newTestResolver(t, &client)

	_, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.True(errors.Is(err, ErrNoLocalActor))
	assert.Empty(client.Data)
	assert.Len(client.Sent, 2)

	_, err = actors.FindRemoteByUsernameHost(context.Background(), "alice", "localhost.localdomain")
	assert.True(errors.Is(err, ap.ErrNotFound))

	_, err = actors.FindByURI(context.Background(), "https://LOCALHOST.localdomain/@alice")
	assert.True(errors.Is(err, ap.ErrNotFound))
}

func TestResolver_SelfLinkToUnknownLocalActor(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusOK, selfJRD("https://localhost.localdomain/users/nobody")),
		},
	})
	resolver, _ := newTestResolver(t, &client)

	_, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.True(errors.Is(err, ErrNoLocalActor))
	assert.True(errors.Is(err, ap.ErrNotFound))
	assert.Empty(client.Data)
}

func TestResolver_URIDriftDefaultPort(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusOK, selfJRD("https://remote.example:443/users/1234")),
		},
		"https://remote.example:443/users/1234": {
			Response: newTestResponse(http.StatusOK, actorJSON("https://remote.example/users/1234", "alice")),
		},
	})
	resolver, actors := newTestResolver(t, &client)

	cached, err := actors.UpsertRemote(context.Background(), &ap.ActorRef{
		Username:      "alice",
		URI:           aliceURI,
		Host:          "remote.example",
		LastFetchedAt: time.Now().Add(-resolver.Config.ResolverCacheTTL * 2),
	})
	assert.NoError(err)

	alice, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.NoError(err)
	assert.Equal(cached.ID, alice.ID)
	assert.Equal("https://remote.example/users/1234", alice.URI)
	assert.Equal("remote.example", alice.Host)
	assert.Empty(client.Data)
}

func TestResolver_NoSelfLink(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusOK, `{"subject":"acct:alice@remote.example","links":[{"rel":"self","href":""}]}`),
		},
	})
	resolver, _ := newTestResolver(t, &client)

	_, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.True(errors.Is(err, ErrNoSelfLink))
}

func TestResolver_WebFingerFailed(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{
		aliceHostMeta: {
			Response: newTestResponse(http.StatusNotFound, ""),
		},
		aliceWebFinger: {
			Response: newTestResponse(http.StatusInternalServerError, ""),
		},
	})
	resolver, actors := newTestResolver(t, &client)

	_, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.True(errors.Is(err, ErrWebFingerFetchFailed))

	_, err = actors.FindRemoteByUsernameHost(context.Background(), "alice", "remote.example")
	assert.True(errors.Is(err, ap.ErrNotFound))
}

func TestResolver_BlockedDomain(t *testing.T) {
	assert := assert.New(t)

	client := newTestClient(map[string]testResponse{})
	resolver, _ := newTestResolver(t, &client)

	resolver.BlockList = &BlockList{}
	resolver.BlockList.domains = map[string]struct{}{
		"remote.example": {},
	}

	_, err := resolver.ResolveUser(context.Background(), "alice", "remote.example")
	assert.True(errors.Is(err, ErrBlockedDomain))
	assert.Empty(client.Sent)
}
