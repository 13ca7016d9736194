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
	"time"

	"github.com/ktncode/misskey-sub002/cfg"
)

// GarbageCollector deletes old deliveries and remote actors nobody needs.
type GarbageCollector struct {
	Config *cfg.Config
	DB     *sql.DB
}

// Run deletes old data.
func (gc *GarbageCollector) Run(ctx context.Context) error {
	now := time.Now()

	if _, err := gc.DB.ExecContext(ctx, `delete from deliveries where (sent = 1 or dead = 1) and inserted < ?`, now.Add(-gc.Config.DeliveryTTL).Unix()); err != nil {
		return fmt.Errorf("failed to remove old deliveries: %w", err)
	}

	if _, err := gc.DB.ExecContext(ctx, `delete from follows where accepted = 0 and inserted < ?`, now.Add(-gc.Config.FollowAcceptTimeout).Unix()); err != nil {
		return fmt.Errorf("failed to remove failed follow requests: %w", err)
	}

	if _, err := gc.DB.ExecContext(ctx, `delete from actors where host is not null and updated < ? and not exists (select 1 from follows where follows.follower = actors.id or follows.followed = actors.id)`, now.Add(-gc.Config.ActorTTL).Unix()); err != nil {
		return fmt.Errorf("failed to remove idle actors: %w", err)
	}

	return nil
}
