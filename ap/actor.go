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

import "time"

type ActorType string

const (
	Person      ActorType = "Person"
	Group       ActorType = "Group"
	Application ActorType = "Application"
	Service     ActorType = "Service"
)

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Actor is an actor document, as served by a remote server.
type Actor struct {
	Context           any               `json:"@context"`
	ID                string            `json:"id"`
	Type              ActorType         `json:"type"`
	Inbox             string            `json:"inbox"`
	Outbox            string            `json:"outbox,omitempty"`
	Endpoints         map[string]string `json:"endpoints,omitempty"`
	PreferredUsername string            `json:"preferredUsername"`
	Name              string            `json:"name,omitempty"`
	Followers         string            `json:"followers,omitempty"`
	PublicKey         PublicKey         `json:"publicKey"`
}

// SharedInbox returns the shared inbox advertised by an actor, if any.
func (a *Actor) SharedInbox() string {
	if a.Endpoints == nil {
		return ""
	}
	return a.Endpoints["sharedInbox"]
}

// ActorRef is the stored record of a local or remote actor.
//
// Local actors have an empty Host. Remote actors always have a URI and a Host.
type ActorRef struct {
	ID            string
	Username      string
	URI           string
	Host          string
	Inbox         string
	SharedInbox   string
	KeyID         string
	PublicKeyPem  string
	LastFetchedAt time.Time
}

// IsLocal determines whether or not an actor belongs to this server.
func (a *ActorRef) IsLocal() bool {
	return a.Host == ""
}

// FetchedWithin determines whether or not an actor was fetched less than ttl ago.
func (a *ActorRef) FetchedWithin(now time.Time, ttl time.Duration) bool {
	return !a.LastFetchedAt.IsZero() && now.Sub(a.LastFetchedAt) < ttl
}
