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

// Package cache caches follower lists in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/redis/go-redis/v9"
)

const envelopeVersion = 1

type envelope struct {
	Version   int           `json:"v"`
	ActorID   string        `json:"actor"`
	Followers []ap.Follower `json:"followers"`
}

// Followers is an [ap.FollowerCache] that keeps a snapshot of each follower list in Redis.
type Followers struct {
	Source ap.FollowerCache
	Redis  redis.Cmdable
	TTL    time.Duration
	Log    *slog.Logger
}

func key(actorID string) string {
	return "followers:" + actorID
}

func (f *Followers) load(ctx context.Context, actorID string) ([]ap.Follower, bool) {
	buf, err := f.Redis.Get(ctx, key(actorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	} else if err != nil {
		f.Log.Warn("Failed to read cached followers", "actor", actorID, "error", err)
		return nil, false
	}

	var e envelope
	if err := json.Unmarshal(buf, &e); err != nil {
		f.Log.Warn("Ignoring invalid cached followers", "actor", actorID, "error", err)
		return nil, false
	}

	// snapshots written by another version or for another actor are stale
	if e.Version != envelopeVersion || e.ActorID != actorID {
		return nil, false
	}

	return e.Followers, true
}

// FetchFollowers returns the cached followers of an actor, or fetches and caches them.
func (f *Followers) FetchFollowers(ctx context.Context, actorID string) ([]ap.Follower, error) {
	if followers, ok := f.load(ctx, actorID); ok {
		f.Log.Debug("Using cached followers", "actor", actorID, "count", len(followers))
		return followers, nil
	}

	followers, err := f.Source.FetchFollowers(ctx, actorID)
	if err != nil {
		return nil, err
	}

	buf, err := json.Marshal(envelope{Version: envelopeVersion, ActorID: actorID, Followers: followers})
	if err != nil {
		return nil, fmt.Errorf("failed to cache followers of %s: %w", actorID, err)
	}

	if err := f.Redis.Set(ctx, key(actorID), buf, f.TTL).Err(); err != nil {
		f.Log.Warn("Failed to cache followers", "actor", actorID, "error", err)
	}

	return followers, nil
}

// Invalidate drops the cached followers of an actor.
func (f *Followers) Invalidate(ctx context.Context, actorID string) error {
	if err := f.Redis.Del(ctx, key(actorID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate followers of %s: %w", actorID, err)
	}
	return nil
}
