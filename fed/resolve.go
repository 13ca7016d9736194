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
	"strings"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/cfg"
	"github.com/ktncode/misskey-sub002/logcontext"
)

var (
	ErrNoSelfLink      = errors.New("self link not found")
	ErrNoLocalActor    = errors.New("no such local user")
	ErrURIHostMismatch = errors.New("URI host mismatch")
	ErrBlockedDomain   = errors.New("domain is blocked")
)

// Finger resolves WebFinger queries.
type Finger interface {
	Resolve(ctx context.Context, query string) (*ap.WebFingerDocument, error)
}

// Resolver turns a username and a host into an actor.
//
// Remote actors are cached and revalidated through WebFinger once
// Config.ResolverCacheTTL has passed since they were last fetched.
type Resolver struct {
	Domain    string
	Config    *cfg.Config
	Actors    ap.ActorStore
	WebFinger Finger
	Persons   ap.PersonFetcher
	BlockList *BlockList
	Log       *slog.Logger
}

// ResolveUser returns a local actor if host is empty or this server's domain, or a remote actor otherwise.
func (r *Resolver) ResolveUser(ctx context.Context, username, host string) (*ap.ActorRef, error) {
	usernameLower := strings.ToLower(username)

	if host == "" {
		return r.resolveLocal(ctx, usernameLower)
	}

	normalized, err := ap.NormalizeHost(host)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s@%s: %w", usernameLower, host, err)
	}
	host = normalized

	if ap.SameHost(host, r.Domain) {
		return r.resolveLocal(ctx, usernameLower)
	}

	acct := usernameLower + "@" + host
	ctx = logcontext.Add(ctx, "acct", acct)

	if r.BlockList != nil && r.BlockList.Contains(host) {
		return nil, fmt.Errorf("cannot resolve %s: %w", acct, ErrBlockedDomain)
	}

	user, err := r.Actors.FindRemoteByUsernameHost(ctx, usernameLower, host)
	if errors.Is(err, ap.ErrNotFound) {
		r.Log.InfoContext(ctx, "Resolving unknown actor")

		self, err := r.resolveSelf(ctx, acct)
		if err != nil {
			return nil, err
		}

		if r.isLocal(self.Href) {
			r.Log.InfoContext(ctx, "Self link points to this server", "href", self.Href)

			id, ok := ap.LocalUserID(r.Domain, self.Href)
			if !ok {
				return nil, fmt.Errorf("cannot resolve %s: %w: %s", acct, ErrNoLocalActor, self.Href)
			}

			local, err := r.Actors.FindByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("cannot resolve %s: %w: %w", acct, ErrNoLocalActor, err)
			}
			return local, nil
		}

		return r.Persons.CreatePerson(ctx, self.Href)
	} else if err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", acct, err)
	}

	now := time.Now()
	if user.FetchedWithin(now, r.Config.ResolverCacheTTL) {
		r.Log.DebugContext(ctx, "Resolved actor using cache", "uri", user.URI)
		return user, nil
	}

	// concurrent resolution of the same actor might see the old time and fetch it again
	if err := r.Actors.TouchLastFetched(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", acct, err)
	}

	r.Log.InfoContext(ctx, "Updating old cache entry for actor", "uri", user.URI, "last", user.LastFetchedAt)

	self, err := r.resolveSelf(ctx, acct)
	if err != nil {
		return nil, err
	}

	if self.Href != user.URI {
		hrefHost, err := ap.GetHostname(self.Href)
		if err != nil || hrefHost != ap.StripPort(host) {
			r.Log.WarnContext(ctx, "Refusing to change actor URI to another host", "uri", user.URI, "href", self.Href)
			return nil, fmt.Errorf("cannot resolve %s: %w: %s", acct, ErrURIHostMismatch, self.Href)
		}

		r.Log.InfoContext(ctx, "Correcting actor URI", "uri", user.URI, "href", self.Href)

		if err := r.Actors.UpdateURI(ctx, user.ID, self.Href); err != nil {
			return nil, fmt.Errorf("cannot resolve %s: %w", acct, err)
		}
	}

	if err := r.Persons.UpdatePerson(ctx, self.Href); err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", acct, err)
	}

	updated, err := r.Actors.FindByURI(ctx, self.Href)
	if errors.Is(err, ap.ErrNotFound) {
		// the actor document might have a different ID
		updated, err = r.Actors.FindRemoteByUsernameHost(ctx, usernameLower, host)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", acct, err)
	}

	r.Log.InfoContext(ctx, "Resynced remote actor", "uri", updated.URI)
	return updated, nil
}

// isLocal determines whether or not href is on this server, regardless of its path.
func (r *Resolver) isLocal(href string) bool {
	hostname, err := ap.GetHostname(href)
	return err == nil && ap.SameHost(hostname, ap.StripPort(r.Domain))
}

func (r *Resolver) resolveLocal(ctx context.Context, usernameLower string) (*ap.ActorRef, error) {
	user, err := r.Actors.FindLocalByUsername(ctx, usernameLower)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w: %w", usernameLower, ErrNoLocalActor, err)
	}
	return user, nil
}

func (r *Resolver) resolveSelf(ctx context.Context, acct string) (ap.WebFingerLink, error) {
	doc, err := r.WebFinger.Resolve(ctx, acct)
	if err != nil {
		return ap.WebFingerLink{}, fmt.Errorf("failed to WebFinger for %s: %w", acct, err)
	}

	self, ok := doc.Self()
	if !ok {
		return ap.WebFingerLink{}, fmt.Errorf("failed to WebFinger for %s: %w", acct, ErrNoSelfLink)
	}

	return self, nil
}
