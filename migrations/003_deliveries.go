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

package migrations

import (
	"context"
	"database/sql"
)

func deliveries(ctx context.Context, domain string, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `CREATE TABLE deliveries(id INTEGER PRIMARY KEY AUTOINCREMENT, job TEXT NOT NULL, sender TEXT NOT NULL, activity TEXT NOT NULL, inbox TEXT NOT NULL, shared INTEGER NOT NULL DEFAULT 0, attempts INTEGER NOT NULL DEFAULT 0, last INTEGER NOT NULL DEFAULT 0, sent INTEGER NOT NULL DEFAULT 0, dead INTEGER NOT NULL DEFAULT 0, inserted INTEGER DEFAULT (UNIXEPOCH()))`); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `CREATE UNIQUE INDEX deliveriesjobinbox ON deliveries(job, inbox)`); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `CREATE INDEX deliveriespending ON deliveries(sent, dead, attempts, last)`)
	return err
}
