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

package ap

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNotFound is returned by an [ActorStore] when there is no such actor.
var ErrNotFound = errors.New("actor not found")

// ActorStore persists actor records.
type ActorStore interface {
	FindLocalByUsername(ctx context.Context, usernameLower string) (*ActorRef, error)
	FindRemoteByUsernameHost(ctx context.Context, usernameLower, host string) (*ActorRef, error)
	FindByID(ctx context.Context, id string) (*ActorRef, error)
	FindByURI(ctx context.Context, uri string) (*ActorRef, error)
	UpdateURI(ctx context.Context, id, uri string) error
	TouchLastFetched(ctx context.Context, id string, t time.Time) error
	UpsertRemote(ctx context.Context, actor *ActorRef) (*ActorRef, error)
}

// Follower is a single follower of a local actor, as seen by delivery.
// Host is empty for local followers.
type Follower struct {
	Host        string `json:"host,omitempty"`
	Inbox       string `json:"inbox,omitempty"`
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// FollowerCache lists the followers of a local actor.
type FollowerCache interface {
	FetchFollowers(ctx context.Context, actorID string) ([]Follower, error)
}

// InboxTarget is a destination of a delivery.
type InboxTarget struct {
	Inbox  string
	Shared bool
}

// DeliveryQueue delivers an activity to a set of inboxes.
// The value of each inbox is true if it's a shared inbox.
type DeliveryQueue interface {
	DeliverMany(ctx context.Context, actor *ActorRef, activity Activity, inboxes map[string]bool) error
}

// PersonFetcher creates or refreshes remote actor records from their actor documents.
type PersonFetcher interface {
	CreatePerson(ctx context.Context, uri string) (*ActorRef, error)
	UpdatePerson(ctx context.Context, uri string) error
}

// HTTPClient fetches documents from remote servers.
type HTTPClient interface {
	// GetJSON decodes a JSON response and returns the URL fetched after redirects.
	GetJSON(ctx context.Context, url, accept string, v any) (string, error)
	GetText(ctx context.Context, url, accept string) (string, error)
	Send(ctx context.Context, req *http.Request) (*http.Response, error)
}
