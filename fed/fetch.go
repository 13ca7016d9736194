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
	"fmt"
	"log/slog"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
)

var ErrInvalidActor = errors.New("invalid actor")

const actorAccept = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// PersonFetcher fetches remote actor documents and caches them using an [ap.ActorStore].
//
// A fetched document is accepted only if its ID is on the requested host.
// A redirect or an ID that differs from the requested URL is tolerated.
type PersonFetcher struct {
	Client ap.HTTPClient
	Actors ap.ActorStore
	Log    *slog.Logger
}

var _ ap.PersonFetcher = (*PersonFetcher)(nil)

func (f *PersonFetcher) fetch(ctx context.Context, uri string) (*ap.ActorRef, error) {
	var actor ap.Actor
	final, err := f.Client.GetJSON(ctx, uri, actorAccept, &actor)
	if err != nil {
		return nil, err
	}

	if check := ap.CheckOrigin(uri, final, actor.ID, ap.NonCanonicalID); check.Err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", uri, check.Err)
	} else if !check.Pass {
		f.Log.Warn("Rejecting actor", "uri", uri, "final", final, "id", actor.ID, "deviations", check.Deviations)
		return nil, fmt.Errorf("failed to fetch %s: %w: %s", uri, ErrInvalidActor, check.Deviations)
	} else if check.Deviations != ap.Strict {
		f.Log.Info("Accepting actor with deviations", "uri", uri, "final", final, "id", actor.ID, "deviations", check.Deviations)
	}

	switch actor.Type {
	case ap.Person, ap.Group, ap.Application, ap.Service:
	default:
		return nil, fmt.Errorf("failed to fetch %s: %w: type is %s", uri, ErrInvalidActor, actor.Type)
	}

	if actor.PreferredUsername == "" {
		return nil, fmt.Errorf("failed to fetch %s: %w: no username", uri, ErrInvalidActor)
	}

	if actor.Inbox == "" {
		return nil, fmt.Errorf("failed to fetch %s: %w: no inbox", uri, ErrInvalidActor)
	}

	host, err := ap.GetOrigin(actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", uri, err)
	}

	ref := ap.ActorRef{
		Username:      actor.PreferredUsername,
		URI:           actor.ID,
		Host:          host,
		Inbox:         actor.Inbox,
		SharedInbox:   actor.SharedInbox(),
		LastFetchedAt: time.Now(),
	}

	if actor.PublicKey.PublicKeyPem != "" && actor.PublicKey.Owner == actor.ID {
		ref.KeyID = actor.PublicKey.ID
		ref.PublicKeyPem = actor.PublicKey.PublicKeyPem
	}

	return f.Actors.UpsertRemote(ctx, &ref)
}

// CreatePerson fetches and caches a remote actor.
func (f *PersonFetcher) CreatePerson(ctx context.Context, uri string) (*ap.ActorRef, error) {
	f.Log.Info("Fetching actor", "uri", uri)
	return f.fetch(ctx, uri)
}

// UpdatePerson refreshes a cached remote actor.
func (f *PersonFetcher) UpdatePerson(ctx context.Context, uri string) error {
	f.Log.Info("Updating actor", "uri", uri)
	_, err := f.fetch(ctx, uri)
	return err
}
