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

package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ktncode/misskey-sub002/ap"
)

// Followers lists followers using the follows table.
// It implements [ap.FollowerCache] without any caching.
type Followers struct {
	DB *sql.DB
}

// FetchFollowers returns the accepted followers of an actor.
func (f *Followers) FetchFollowers(ctx context.Context, actorID string) ([]ap.Follower, error) {
	rows, err := f.DB.QueryContext(ctx, `select actors.host, actors.inbox, actors.sharedinbox from follows join actors on actors.id = follows.follower where follows.followed = ? and follows.accepted = 1 order by follows.rowid`, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list followers of %s: %w", actorID, err)
	}
	defer rows.Close()

	var followers []ap.Follower
	for rows.Next() {
		var host, inbox, sharedInbox sql.NullString
		if err := rows.Scan(&host, &inbox, &sharedInbox); err != nil {
			return nil, fmt.Errorf("failed to list followers of %s: %w", actorID, err)
		}

		followers = append(followers, ap.Follower{
			Host:        host.String,
			Inbox:       inbox.String,
			SharedInbox: sharedInbox.String,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list followers of %s: %w", actorID, err)
	}

	return followers, nil
}

// Follow records an accepted follow relationship.
func (f *Followers) Follow(ctx context.Context, follower, followed string) error {
	if _, err := f.DB.ExecContext(ctx, `insert into follows(id, follower, followed) values(?, ?, ?) on conflict(follower, followed) do update set accepted = 1`, uuid.NewString(), follower, followed); err != nil {
		return fmt.Errorf("failed to insert follow of %s by %s: %w", followed, follower, err)
	}
	return nil
}

// Unfollow removes a follow relationship.
func (f *Followers) Unfollow(ctx context.Context, follower, followed string) error {
	if _, err := f.DB.ExecContext(ctx, `delete from follows where follower = ? and followed = ?`, follower, followed); err != nil {
		return fmt.Errorf("failed to remove follow of %s by %s: %w", followed, follower, err)
	}
	return nil
}
